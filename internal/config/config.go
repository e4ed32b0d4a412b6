// Package config assembles runtime configuration from built-in defaults, an
// optional YAML file and the environment. Binaries apply their flags last.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pr-cybr/notionsync/internal/githubsync"
	"github.com/pr-cybr/notionsync/internal/notionsync"
)

const (
	DefaultIDProperty    = "GitHub ID"
	DefaultTitleProperty = "Name"
	DefaultAddr          = ":8080"
	DefaultQueueSize     = 1024
	DefaultDedupWindow   = 24 * time.Hour
	DefaultMaxBodyBytes  = 25 << 20
)

type Config struct {
	APIToken     string
	BaseURL      string
	APIVersion   string
	MaxRetries   int
	RetryBackoff time.Duration
	// Targets holds every kind; a kind without a DatabaseID is unconfigured.
	Targets map[githubsync.Kind]notionsync.Target
	Server  ServerConfig
}

type ServerConfig struct {
	Addr           string
	WebhookSecret  string
	AdminToken     string
	BackendProfile string
	DataDir        string
	PostgresDSN    string
	QueueDSN       string
	QueueSize      int
	LedgerDSN      string
	DedupWindow    time.Duration
	MaxBodyBytes   int64
}

func Defaults() Config {
	targets := make(map[githubsync.Kind]notionsync.Target, len(githubsync.Kinds))
	for _, kind := range githubsync.Kinds {
		targets[kind] = notionsync.Target{
			IDProperty:     DefaultIDProperty,
			IDPropertyType: notionsync.PropertyRichText,
			TitleProperty:  DefaultTitleProperty,
		}
	}
	return Config{
		MaxRetries:   notionsync.DefaultMaxRetries,
		RetryBackoff: notionsync.DefaultRetryBackoff,
		Targets:      targets,
		Server: ServerConfig{
			Addr:         DefaultAddr,
			DataDir:      ".notionsync",
			QueueSize:    DefaultQueueSize,
			DedupWindow:  DefaultDedupWindow,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
	}
}

// Load layers defaults, the YAML file at path (skipped when path is empty)
// and the environment.
func Load(path string, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, logger); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays the environment variables onto cfg. Malformed values are
// logged and ignored; an unknown id property type falls back to rich_text.
// MaxRetries is clamped to at least one attempt.
func ApplyEnv(cfg *Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Targets == nil {
		cfg.Targets = map[githubsync.Kind]notionsync.Target{}
	}
	env := envReader{logger: logger}
	if token := firstEnv("NOTION_API_TOKEN", "NOTION_INTEGRATION_TOKEN"); token != "" {
		cfg.APIToken = token
	}
	cfg.BaseURL = env.stringEnv("NOTION_API_BASE_URL", cfg.BaseURL)
	cfg.APIVersion = env.stringEnv("NOTION_API_VERSION", cfg.APIVersion)
	cfg.MaxRetries = env.intEnv("NOTION_API_MAX_RETRIES", cfg.MaxRetries)
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	cfg.RetryBackoff = env.secondsEnv("NOTION_API_RETRY_BACKOFF", cfg.RetryBackoff)

	for _, kind := range githubsync.Kinds {
		prefix := "NOTION_" + kind.EnvName() + "_"
		target := cfg.Targets[kind]
		target.DatabaseID = env.stringEnv(prefix+"DATABASE_ID", target.DatabaseID)
		target.IDProperty = env.stringEnv(prefix+"ID_PROPERTY", target.IDProperty)
		target.TitleProperty = env.stringEnv(prefix+"TITLE_PROPERTY", target.TitleProperty)
		if raw := strings.TrimSpace(os.Getenv(prefix + "ID_PROPERTY_TYPE")); raw != "" {
			idType, err := notionsync.ParseIDPropertyType(raw)
			if err != nil {
				env.invalid(prefix+"ID_PROPERTY_TYPE", raw, notionsync.PropertyRichText)
				idType = notionsync.PropertyRichText
			}
			target.IDPropertyType = idType
		}
		cfg.Targets[kind] = target
	}

	s := &cfg.Server
	s.Addr = env.stringEnv("NOTIONSYNC_ADDR", s.Addr)
	s.WebhookSecret = env.stringEnv("GITHUB_WEBHOOK_SECRET", s.WebhookSecret)
	s.AdminToken = env.stringEnv("NOTIONSYNC_ADMIN_TOKEN", s.AdminToken)
	s.BackendProfile = env.stringEnv("NOTIONSYNC_BACKEND_PROFILE", s.BackendProfile)
	s.DataDir = env.stringEnv("NOTIONSYNC_DATA_DIR", s.DataDir)
	s.PostgresDSN = env.stringEnv("NOTIONSYNC_POSTGRES_DSN", s.PostgresDSN)
	s.QueueDSN = env.stringEnv("NOTIONSYNC_QUEUE_DSN", s.QueueDSN)
	s.QueueSize = env.intEnv("NOTIONSYNC_QUEUE_SIZE", s.QueueSize)
	s.LedgerDSN = env.stringEnv("NOTIONSYNC_LEDGER_DSN", s.LedgerDSN)
	s.DedupWindow = env.durationEnv("NOTIONSYNC_DEDUP_WINDOW", s.DedupWindow)
	s.MaxBodyBytes = env.int64Env("NOTIONSYNC_MAX_BODY_BYTES", s.MaxBodyBytes)
	return nil
}

// ConfiguredTargets returns only the kinds that have a database.
func (c Config) ConfiguredTargets() map[githubsync.Kind]notionsync.Target {
	out := map[githubsync.Kind]notionsync.Target{}
	for kind, target := range c.Targets {
		if strings.TrimSpace(target.DatabaseID) != "" {
			out[kind] = target
		}
	}
	return out
}

// StorageDSNs resolves the queue and ledger DSNs. Explicit DSNs win over the
// backend profile; with neither, both are in memory.
func (s ServerConfig) StorageDSNs() (queueDSN, ledgerDSN string, err error) {
	profileQueue, profileLedger, err := s.profileDefaults()
	if err != nil {
		return "", "", err
	}
	queueDSN = firstNonEmpty(s.QueueDSN, profileQueue, "memory://")
	ledgerDSN = firstNonEmpty(s.LedgerDSN, profileLedger, "memory://")
	return queueDSN, ledgerDSN, nil
}

func (s ServerConfig) profileDefaults() (queueDSN, ledgerDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(s.BackendProfile))
	dataDir := strings.TrimSpace(s.DataDir)
	if dataDir == "" {
		dataDir = ".notionsync"
	}
	switch profile {
	case "", "custom":
		return "", "", nil
	case "memory", "inmemory":
		return "memory://", "memory://", nil
	case "production", "prod":
		if strings.TrimSpace(s.PostgresDSN) == "" {
			return "", "", fmt.Errorf("NOTIONSYNC_POSTGRES_DSN is required when the backend profile is %s", profile)
		}
		return s.PostgresDSN, s.PostgresDSN, nil
	case "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDir, "delivery-queue.json"),
			"sqlite://" + filepath.Join(dataDir, "deliveries.db"),
			nil
	default:
		return "", "", fmt.Errorf("unsupported backend profile: %s", profile)
	}
}

type envReader struct {
	logger *slog.Logger
}

func (e envReader) stringEnv(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return fallback
}

func (e envReader) intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		e.invalid(name, raw, fallback)
		return fallback
	}
	return value
}

func (e envReader) int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.invalid(name, raw, fallback)
		return fallback
	}
	return value
}

func (e envReader) durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		e.invalid(name, raw, fallback.String())
		return fallback
	}
	return value
}

// secondsEnv accepts plain seconds ("1.5") or a Go duration ("1500ms").
func (e envReader) secondsEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := ParseSeconds(raw)
	if err != nil {
		e.invalid(name, raw, fallback.String())
		return fallback
	}
	return value
}

func (e envReader) invalid(name, raw string, fallback any) {
	e.logger.Warn("invalid environment value, using fallback",
		"event", "config.invalid_env",
		"name", name,
		"value", raw,
		"fallback", fmt.Sprint(fallback),
	)
}

func ParseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
