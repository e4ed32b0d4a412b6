package githubsync

import (
	"context"
	"io"
	"log/slog"

	"github.com/pr-cybr/notionsync/internal/notionsync"
)

// Upserter is the part of notionsync.Client the orchestrator needs.
type Upserter interface {
	UpsertPage(ctx context.Context, req notionsync.UpsertRequest) (notionsync.Page, error)
}

type kindLog struct {
	event      string
	skipped    string
	failed     string
	synced     string
	numberKey  string
	useIDAsKey bool
}

var kindLogs = map[Kind]kindLog{
	KindIssues: {
		event:     "issue",
		skipped:   "Issue payload missing identifier",
		failed:    "Failed to sync issue",
		synced:    "Issue synced to Notion",
		numberKey: "issue_number",
	},
	KindPullRequests: {
		event:     "pull_request",
		skipped:   "Pull request payload missing identifier",
		failed:    "Failed to sync pull request",
		synced:    "Pull request synced to Notion",
		numberKey: "pull_request_number",
	},
	KindDiscussions: {
		event:     "discussion",
		skipped:   "Discussion payload missing identifier",
		failed:    "Failed to sync discussion",
		synced:    "Discussion synced to Notion",
		numberKey: "discussion_number",
	},
	KindProjects: {
		event:      "project",
		skipped:    "Project payload missing identifier",
		failed:     "Failed to sync project item",
		synced:     "Project item synced to Notion",
		numberKey:  "project_id",
		useIDAsKey: true,
	},
}

// Sync mirrors every record of kind found in payload into target. Outcomes
// are reported only through logger: one skipped, error or synced event per
// record. A failing record never stops the rest of the batch.
func Sync(ctx context.Context, kind Kind, client Upserter, payload map[string]any, target notionsync.Target, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	vocab, ok := kindLogs[kind]
	if !ok {
		return
	}
	repo := repositoryName(payload)

	for _, record := range kind.Extract(payload) {
		entity, ok := BuildEntity(record, repo)
		if !ok {
			logger.LogAttrs(ctx, slog.LevelWarn, vocab.skipped,
				slog.String("event", vocab.event+".skipped"),
				slog.Any(vocab.event, record.Data),
			)
			continue
		}

		ident := identAttr(vocab, record, entity)
		page, err := client.UpsertPage(ctx, notionsync.UpsertRequest{
			Target:     target,
			IDValue:    entity.ExternalID,
			Title:      entity.Title,
			Properties: entity.Properties,
		})
		if err != nil {
			logger.LogAttrs(ctx, slog.LevelError, vocab.failed,
				slog.String("event", vocab.event+".error"),
				ident,
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.LogAttrs(ctx, slog.LevelInfo, vocab.synced,
			slog.String("event", vocab.event+".synced"),
			ident,
			slog.String("notion_page_id", page.ID),
		)
	}
}

func identAttr(vocab kindLog, record Record, entity Entity) slog.Attr {
	if vocab.useIDAsKey {
		return slog.String(vocab.numberKey, entity.ExternalID)
	}
	if number, ok := logNumber(record.Data, "number"); ok {
		return slog.Any(vocab.numberKey, number)
	}
	return slog.Any(vocab.numberKey, nil)
}
