// Package dispatch routes a GitHub webhook delivery to the entity kinds it
// carries and runs each configured kind's sync.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/pr-cybr/notionsync/internal/githubsync"
	"github.com/pr-cybr/notionsync/internal/notionsync"
)

var eventKinds = map[string]githubsync.Kind{
	"issues":              githubsync.KindIssues,
	"issue_comment":       githubsync.KindIssues,
	"pull_request":        githubsync.KindPullRequests,
	"pull_request_target": githubsync.KindPullRequests,
	"pull_request_review": githubsync.KindPullRequests,
	"discussion":          githubsync.KindDiscussions,
	"discussion_comment":  githubsync.KindDiscussions,
	"projects_v2_item":    githubsync.KindProjects,
	"project":             githubsync.KindProjects,
	"project_card":        githubsync.KindProjects,
	"project_column":      githubsync.KindProjects,
}

// payloadKeys is checked in order after the event name.
var payloadKeys = []struct {
	key  string
	kind githubsync.Kind
}{
	{"issue", githubsync.KindIssues},
	{"issues", githubsync.KindIssues},
	{"pull_request", githubsync.KindPullRequests},
	{"pull_requests", githubsync.KindPullRequests},
	{"discussion", githubsync.KindDiscussions},
	{"discussions", githubsync.KindDiscussions},
	{"project", githubsync.KindProjects},
	{"projects", githubsync.KindProjects},
	{"project_card", githubsync.KindProjects},
	{"project_cards", githubsync.KindProjects},
}

// SelectKinds returns the kinds a delivery should be synced as, each at most
// once: the event name's kind first, then kinds implied by payload keys.
func SelectKinds(eventName string, payload map[string]any) []githubsync.Kind {
	var kinds []githubsync.Kind
	seen := map[githubsync.Kind]bool{}
	add := func(kind githubsync.Kind) {
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	if kind, ok := eventKinds[eventName]; ok {
		add(kind)
	}
	for _, candidate := range payloadKeys {
		if _, ok := payload[candidate.key]; ok {
			add(candidate.kind)
		}
	}
	return kinds
}

type Router struct {
	client  githubsync.Upserter
	targets map[githubsync.Kind]notionsync.Target
	logger  *slog.Logger
	sync    func(ctx context.Context, kind githubsync.Kind, client githubsync.Upserter, payload map[string]any, target notionsync.Target, logger *slog.Logger)
}

func NewRouter(client githubsync.Upserter, targets map[githubsync.Kind]notionsync.Target, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	copied := make(map[githubsync.Kind]notionsync.Target, len(targets))
	for kind, target := range targets {
		copied[kind] = target
	}
	return &Router{client: client, targets: copied, logger: logger, sync: githubsync.Sync}
}

// Result summarises one dispatch.
type Result struct {
	Selected []githubsync.Kind
	Handled  int
	Skipped  int
	Failed   int
	// Errors counts error-level events logged while the kinds ran, such as
	// <kind>.error for a record whose upsert failed.
	Errors   int
}

// Incomplete reports whether some record or kind failed to sync.
func (r Result) Incomplete() bool {
	return r.Failed > 0 || r.Errors > 0
}

// Dispatch runs every selected and configured kind. A panic in one kind is
// logged and does not stop the others. sync.no_handlers is logged when no
// configured kind ran at all.
func (r *Router) Dispatch(ctx context.Context, eventName string, payload map[string]any) Result {
	kinds := SelectKinds(eventName, payload)
	result := Result{Selected: kinds}
	r.logger.InfoContext(ctx, "Starting Notion sync",
		"event", "sync.start",
		"event_name", eventName,
		"handlers", kindNames(kinds),
	)

	counter := &errorCounter{Handler: r.logger.Handler(), count: new(atomic.Int64)}
	syncLogger := slog.New(counter)
	for _, kind := range kinds {
		target, ok := r.targets[kind]
		if !ok || target.DatabaseID == "" {
			result.Skipped++
			r.logger.WarnContext(ctx, "Skipping handler due to missing database configuration",
				"event", "sync.handler_skipped",
				"handler", string(kind),
			)
			continue
		}
		if err := r.run(ctx, kind, payload, target, syncLogger); err != nil {
			result.Failed++
			r.logger.ErrorContext(ctx, "Handler raised an unexpected error",
				"event", "sync.handler_error",
				"handler", string(kind),
				"error", err.Error(),
			)
			continue
		}
		result.Handled++
	}
	result.Errors = int(counter.count.Load())

	if result.Handled+result.Failed == 0 {
		r.logger.WarnContext(ctx, "No handlers matched the event payload",
			"event", "sync.no_handlers",
			"event_name", eventName,
		)
		return result
	}
	r.logger.InfoContext(ctx, "Notion synchronisation completed",
		"event", "sync.complete",
		"event_name", eventName,
		"handled", result.Handled,
		"failed", result.Failed,
	)
	return result
}

func (r *Router) run(ctx context.Context, kind githubsync.Kind, payload map[string]any, target notionsync.Target, logger *slog.Logger) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	r.sync(ctx, kind, r.client, payload, target, logger)
	return nil
}

// errorCounter counts error records passing through to the wrapped handler.
// Error records are counted even when the wrapped handler filters them out.
type errorCounter struct {
	slog.Handler
	count *atomic.Int64
}

func (h *errorCounter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelError || h.Handler.Enabled(ctx, level)
}

func (h *errorCounter) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelError {
		h.count.Add(1)
	}
	if !h.Handler.Enabled(ctx, record.Level) {
		return nil
	}
	return h.Handler.Handle(ctx, record)
}

func (h *errorCounter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &errorCounter{Handler: h.Handler.WithAttrs(attrs), count: h.count}
}

func (h *errorCounter) WithGroup(name string) slog.Handler {
	return &errorCounter{Handler: h.Handler.WithGroup(name), count: h.count}
}

// Configured reports whether any kind has a database.
func (r *Router) Configured() bool {
	for _, target := range r.targets {
		if target.DatabaseID != "" {
			return true
		}
	}
	return false
}

func kindNames(kinds []githubsync.Kind) []string {
	out := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, string(kind))
	}
	return out
}
