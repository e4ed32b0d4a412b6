package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/pr-cybr/notionsync/internal/config"
	"github.com/pr-cybr/notionsync/internal/dispatch"
	"github.com/pr-cybr/notionsync/internal/logging"
)

const userAgent = "notionsync-action"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run syncs one GitHub Actions event payload. Per-entity failures are logged
// and do not change the exit code; only startup failures return 1.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("notionsync", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	eventPath := flags.String("event-path", os.Getenv("GITHUB_EVENT_PATH"), "path to the GitHub event payload")
	eventName := flags.String("event-name", os.Getenv("GITHUB_EVENT_NAME"), "GitHub event name")
	configPath := flags.String("config", os.Getenv("NOTIONSYNC_CONFIG"), "optional YAML config file")
	logLevel := flags.String("log-level", envOrDefault("NOTIONSYNC_LOG_LEVEL", "info"), "debug, info, warning or error")
	dryRun := flags.Bool("dry-run", false, "write to an in-memory store instead of Notion")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger := logging.New(stdout, level)

	if strings.TrimSpace(*eventPath) == "" {
		logger.Error("GITHUB_EVENT_PATH is not set", "event", "startup.missing_event_path")
		return 1
	}
	payload, code := loadPayload(logger, *eventPath)
	if code != 0 {
		return code
	}

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Error("Unable to load configuration", "event", "startup.config_error", "error", err.Error())
		return 1
	}
	client, memory, err := config.BuildClient(cfg, *dryRun, userAgent, logger)
	if errors.Is(err, config.ErrMissingToken) {
		logger.Error("Missing Notion API token", "event", "startup.missing_token")
		return 1
	}
	if err != nil {
		logger.Error("Unable to initialise Notion client", "event", "startup.client_error", "error", err.Error())
		return 1
	}

	targets := cfg.ConfiguredTargets()
	if len(targets) == 0 {
		logger.Warn("No Notion database configuration found", "event", "startup.no_config")
		return 0
	}

	router := dispatch.NewRouter(client, targets, logger)
	router.Dispatch(ctx, *eventName, payload)

	if memory != nil {
		stats := memory.Stats()
		logger.Info("Dry run finished",
			"event", "dry_run.summary",
			"pages", stats.Pages,
			"creates", stats.Creates,
			"updates", stats.Updates,
		)
	}
	return 0
}

func loadPayload(logger *slog.Logger, path string) (map[string]any, int) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Error("GitHub event payload not found", "event", "startup.missing_event_file", "path", path)
		return nil, 1
	}
	if err != nil {
		logger.Error("Unable to read GitHub event payload", "event", "startup.missing_event_file", "path", path, "error", err.Error())
		return nil, 1
	}
	defer f.Close()
	payload, err := dispatch.DecodePayload(f)
	if err != nil {
		logger.Error("Unable to parse GitHub event payload",
			"event", "startup.invalid_event_file",
			"path", path,
			"error", err.Error(),
		)
		return nil, 1
	}
	return payload, 0
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}
