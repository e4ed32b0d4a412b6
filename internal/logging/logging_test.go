package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestEventHandlerWireShape(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)
	logger.Warn("Issue payload missing identifier", "event", "issue.skipped")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["level"] != "warning" {
		t.Fatalf("expected warning level, got %v", got["level"])
	}
	if got["message"] != "Issue payload missing identifier" || got["event"] != "issue.skipped" {
		t.Fatalf("unexpected event %+v", got)
	}
	if _, ok := got["time"]; ok {
		t.Fatalf("expected no time key, got %+v", got)
	}
	if _, ok := got["msg"]; ok {
		t.Fatalf("expected msg to be renamed, got %+v", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for raw, want := range cases {
		got, err := ParseLevel(raw)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q): expected %v, got %v (%v)", raw, want, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestHubFansOutAndCounts(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHub(NewEventHandler(&buf, slog.LevelInfo), 2)
	events, cancel := hub.Subscribe(8)
	defer cancel()

	logger := slog.New(hub).With("delivery_id", "d1")
	logger.Info("Issue synced to Notion", "event", "issue.synced", "issue_number", 42)
	logger.Error("Failed to sync issue", "event", "issue.error")
	logger.Info("Issue synced to Notion", "event", "issue.synced")

	select {
	case ev := <-events:
		if ev.Name() != "issue.synced" || ev.Fields["delivery_id"] != "d1" || ev.Level != "info" {
			t.Fatalf("unexpected first event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event on subscription")
	}

	recent := hub.Recent(0)
	if len(recent) != 2 || recent[0].Level != "error" {
		t.Fatalf("expected ring of the 2 newest events, got %+v", recent)
	}
	counts := hub.Counts()
	if counts["synced"] != 2 || counts["error"] != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	if strings.Count(buf.String(), "\n") != 3 {
		t.Fatalf("expected records forwarded to next handler, got %q", buf.String())
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(slog.NewTextHandler(&bytes.Buffer{}, nil), 0)
	events, cancel := hub.Subscribe(1)
	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Fatalf("expected closed channel")
	}
	slog.New(hub).Info("after unsubscribe")
}
