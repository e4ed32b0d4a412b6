package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/pr-cybr/notionsync/internal/config"
	"github.com/pr-cybr/notionsync/internal/dispatch"
	"github.com/pr-cybr/notionsync/internal/githubsync"
	"github.com/pr-cybr/notionsync/internal/logging"
	"github.com/pr-cybr/notionsync/internal/notionsync"
)

const userAgent = "notion-upload"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	input          string
	watch          string
	configPath     string
	token          string
	kind           string
	databaseID     string
	idProperty     string
	idPropertyType string
	titleProperty  string
	maxRetries     int
	maxRetriesSet  bool
	retryBackoff   string
	logLevel       string
	dryRun         bool
}

type uploader struct {
	logger *slog.Logger
	kind   githubsync.Kind
	client *notionsync.Client
	target notionsync.Target
	router *dispatch.Router
}

// run uploads a backfill payload (plural keys such as "issues") once, or
// keeps uploading every *.json file that appears in the watched directory.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	flags := pflag.NewFlagSet("notion-upload", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.input, "input", "i", "", "payload file to upload")
	flags.StringVar(&opts.watch, "watch", "", "directory to watch for new payload files")
	flags.StringVar(&opts.configPath, "config", os.Getenv("NOTIONSYNC_CONFIG"), "optional YAML config file")
	flags.StringVar(&opts.token, "token", "", "Notion integration token (defaults to NOTION_API_TOKEN)")
	flags.StringVar(&opts.kind, "kind", "", "entity kind: issues, pull_requests, discussions or projects")
	flags.StringVar(&opts.databaseID, "database-id", "", "target database for --kind")
	flags.StringVar(&opts.idProperty, "id-property", "", "external id property for --kind")
	flags.StringVar(&opts.idPropertyType, "id-property-type", "", "external id property type for --kind")
	flags.StringVar(&opts.titleProperty, "title-property", "", "title property for --kind")
	flags.IntVar(&opts.maxRetries, "max-retries", 0, "attempts per Notion call")
	flags.StringVar(&opts.retryBackoff, "retry-backoff", "", "base retry backoff, seconds or a duration")
	flags.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warning or error")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "write to an in-memory store instead of Notion")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	opts.maxRetriesSet = flags.Changed("max-retries")
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger := logging.New(stdout, level)

	if (opts.input == "") == (opts.watch == "") {
		logger.Error("Exactly one of --input or --watch is required", "event", "startup.invalid_flags")
		return 2
	}

	up, memory, err := newUploader(opts, logger)
	if err != nil {
		if errors.Is(err, config.ErrMissingToken) {
			logger.Error("Missing Notion API token", "event", "startup.missing_token")
		} else {
			logger.Error("Unable to initialise uploader", "event", "startup.client_error", "error", err.Error())
		}
		return 1
	}

	if opts.watch != "" {
		if err := watchDir(ctx, opts.watch, up); err != nil {
			logger.Error("Watching input directory failed", "event", "watch.error", "dir", opts.watch, "error", err.Error())
			return 1
		}
		return 0
	}

	if err := up.uploadFile(ctx, opts.input); err != nil {
		return 1
	}
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

func newUploader(opts options, logger *slog.Logger) (*uploader, *notionsync.MemoryPageStore, error) {
	cfg, err := config.Load(opts.configPath, logger)
	if err != nil {
		return nil, nil, err
	}
	if opts.token != "" {
		cfg.APIToken = opts.token
	}
	if opts.maxRetriesSet {
		cfg.MaxRetries = max(1, opts.maxRetries)
	}
	if opts.retryBackoff != "" {
		backoff, err := config.ParseSeconds(opts.retryBackoff)
		if err != nil {
			return nil, nil, fmt.Errorf("--retry-backoff: %w", err)
		}
		cfg.RetryBackoff = backoff
	}

	up := &uploader{logger: logger}
	if opts.kind != "" {
		kind, err := githubsync.ParseKind(opts.kind)
		if err != nil {
			return nil, nil, err
		}
		target := cfg.Targets[kind]
		target.DatabaseID = firstNonEmpty(opts.databaseID, target.DatabaseID)
		target.IDProperty = firstNonEmpty(opts.idProperty, target.IDProperty)
		target.TitleProperty = firstNonEmpty(opts.titleProperty, target.TitleProperty)
		if opts.idPropertyType != "" {
			idType, err := notionsync.ParseIDPropertyType(opts.idPropertyType)
			if err != nil {
				return nil, nil, err
			}
			target.IDPropertyType = idType
		}
		if target.DatabaseID == "" {
			return nil, nil, fmt.Errorf("no database id for %s (use --database-id or NOTION_%s_DATABASE_ID)", kind, kind.EnvName())
		}
		up.kind, up.target = kind, target
	} else if opts.databaseID != "" {
		return nil, nil, errors.New("--database-id requires --kind")
	}

	client, memory, err := config.BuildClient(cfg, opts.dryRun, userAgent, logger)
	if err != nil {
		return nil, nil, err
	}
	up.client = client
	if up.kind == "" {
		targets := cfg.ConfiguredTargets()
		if len(targets) == 0 {
			return nil, nil, errors.New("no Notion database configuration found")
		}
		up.router = dispatch.NewRouter(client, targets, logger)
	}
	return up, memory, nil
}

func (u *uploader) uploadFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		u.logger.ErrorContext(ctx, "Input file not readable", "event", "upload.missing_input", "path", path, "error", err.Error())
		return err
	}
	defer f.Close()
	payload, err := dispatch.DecodePayload(f)
	if err != nil {
		u.logger.ErrorContext(ctx, "Unable to parse input file", "event", "upload.invalid_input", "path", path, "error", err.Error())
		return err
	}
	u.logger.InfoContext(ctx, "Uploading payload", "event", "upload.start", "path", path)
	if u.router != nil {
		u.router.Dispatch(ctx, "", payload)
		return nil
	}
	githubsync.Sync(ctx, u.kind, u.client, payload, u.target, u.logger)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
