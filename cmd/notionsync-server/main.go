package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/pr-cybr/notionsync/internal/config"
	"github.com/pr-cybr/notionsync/internal/delivery"
	"github.com/pr-cybr/notionsync/internal/dispatch"
	"github.com/pr-cybr/notionsync/internal/httpapi"
	"github.com/pr-cybr/notionsync/internal/logging"
)

const (
	userAgent       = "notionsync-server"
	recentEvents    = 200
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run serves the webhook receiver until ctx is cancelled. Accepted deliveries
// are synced by a single worker draining the delivery queue; on shutdown the
// worker keeps draining for up to shutdownTimeout after the listener closes.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("notionsync-server", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", os.Getenv("NOTIONSYNC_CONFIG"), "optional YAML config file")
	addr := flags.String("addr", "", "listen address (defaults to NOTIONSYNC_ADDR or :8080)")
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
	hub := logging.NewHub(logging.NewEventHandler(stdout, level), recentEvents)
	logger := slog.New(hub)

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Error("Unable to load configuration", "event", "startup.config_error", "error", err.Error())
		return 1
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	client, _, err := config.BuildClient(cfg, *dryRun, userAgent, logger)
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
		logger.Warn("No Notion database configuration found; deliveries will be accepted but not synced", "event", "startup.no_config")
	}

	queue, ledger, err := buildStorage(cfg.Server)
	if err != nil {
		logger.Error("Unable to initialise delivery storage", "event", "startup.storage_error", "error", err.Error())
		return 1
	}
	defer queue.Close()
	defer ledger.Close()

	server, err := httpapi.NewServer(httpapi.Options{
		Config: httpapi.ServerConfig{
			WebhookSecret: cfg.Server.WebhookSecret,
			AdminToken:    cfg.Server.AdminToken,
			MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		},
		Queue:  queue,
		Ledger: ledger,
		Hub:    hub,
		Logger: logger,
	})
	if err != nil {
		logger.Error("Unable to initialise HTTP server", "event", "startup.server_error", "error", err.Error())
		return 1
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Error("Unable to listen", "event", "startup.listen_error", "addr", cfg.Server.Addr, "error", err.Error())
		return 1
	}

	// The worker outlives ctx so accepted deliveries are synced during shutdown.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	router := dispatch.NewRouter(client, targets, logger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		delivery.Drain(workerCtx, queue, router.Worker(ledger))
	}()

	httpServer := &http.Server{Handler: server, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Serve(listener) }()
	logger.Info("Webhook server listening",
		"event", "server.start",
		"addr", listener.Addr().String(),
		"targets", len(targets),
	)

	code := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "event", "server.error", "error", err.Error())
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "event", "server.shutdown_error", "error", err.Error())
	}
	waitForEmptyQueue(shutdownCtx, queue)
	stopWorker()
	wg.Wait()

	abandoned, err := delivery.Abandon(context.Background(), queue, ledger)
	if err != nil {
		logger.Error("Unable to forget undelivered webhooks", "event", "server.abandon_error", "error", err.Error())
	}
	if len(abandoned) > 0 {
		logger.Warn("Shutdown left deliveries unsynced; redeliveries will be accepted",
			"event", "server.abandoned",
			"delivery_ids", abandoned,
		)
	}
	logger.Info("Webhook server stopped", "event", "server.stop", "queued", queue.Depth())
	return code
}

// waitForEmptyQueue blocks until the worker has taken every queued delivery
// or ctx is done.
func waitForEmptyQueue(ctx context.Context, queue delivery.Queue) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for queue.Depth() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func buildStorage(cfg config.ServerConfig) (delivery.Queue, delivery.Ledger, error) {
	queueDSN, ledgerDSN, err := cfg.StorageDSNs()
	if err != nil {
		return nil, nil, err
	}
	queue, err := delivery.BuildQueueFromDSN(queueDSN, cfg.QueueSize)
	if err != nil {
		return nil, nil, fmt.Errorf("delivery queue: %w", err)
	}
	ledger, err := delivery.BuildLedgerFromDSN(ledgerDSN, cfg.DedupWindow)
	if err != nil {
		_ = queue.Close()
		return nil, nil, fmt.Errorf("delivery ledger: %w", err)
	}
	return queue, ledger, nil
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}
