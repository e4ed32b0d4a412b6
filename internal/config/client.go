package config

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/pr-cybr/notionsync/internal/notionsync"
)

var ErrMissingToken = errors.New("missing Notion API token")

// BuildClient returns a Notion client for cfg. With dryRun the client writes
// to an in-memory store, which is also returned so callers can report on it.
func BuildClient(cfg Config, dryRun bool, userAgent string, logger *slog.Logger) (*notionsync.Client, *notionsync.MemoryPageStore, error) {
	opts := notionsync.ClientOptions{
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Logger:       logger,
	}
	if dryRun {
		memory := notionsync.NewMemoryPageStore()
		client, err := notionsync.NewClient(memory, opts)
		return client, memory, err
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, nil, ErrMissingToken
	}
	store, err := notionsync.NewHTTPPageStore(notionsync.HTTPPageStoreOptions{
		BaseURL:       cfg.BaseURL,
		TokenProvider: notionsync.StaticToken(cfg.APIToken),
		APIVersion:    cfg.APIVersion,
		UserAgent:     userAgent,
	})
	if err != nil {
		return nil, nil, err
	}
	client, err := notionsync.NewClient(store, opts)
	return client, nil, err
}
