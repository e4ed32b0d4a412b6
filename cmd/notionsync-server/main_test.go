package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pr-cybr/notionsync/internal/config"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, entry := range os.Environ() {
		name, _, _ := strings.Cut(entry, "=")
		if strings.HasPrefix(name, "NOTION") || strings.HasPrefix(name, "GITHUB_") {
			t.Setenv(name, "")
		}
	}
}

func findEvent(out, name string) map[string]any {
	for _, line := range strings.Split(out, "\n") {
		var event map[string]any
		if json.Unmarshal([]byte(line), &event) != nil {
			continue
		}
		if event["event"] == name {
			return event
		}
	}
	return nil
}

func waitForEvent(t *testing.T, logs *syncBuffer, name string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if event := findEvent(logs.String(), name); event != nil {
			return event
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %s in %s", name, logs.String())
	return nil
}

func TestRunServesAndSyncsWebhooks(t *testing.T) {
	clearEnv(t)
	t.Setenv("NOTION_ISSUES_DATABASE_ID", "db_issues")
	var logs syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	go func() { done <- run(ctx, []string{"--addr", "127.0.0.1:0", "--dry-run"}, &logs, io.Discard) }()

	start := waitForEvent(t, &logs, "server.start")
	addr, _ := start["addr"].(string)
	if addr == "" {
		t.Fatalf("expected listen address in %v", start)
	}

	body := `{"action":"opened","repository":{"full_name":"acme/widgets"},"issue":{"node_id":"I_9","number":9,"title":"Flaky test"}}`
	req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/webhooks/github", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-GitHub-Delivery", "delivery-9")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	synced := waitForEvent(t, &logs, "issue.synced")
	if synced["issue_number"] != float64(9) {
		t.Fatalf("expected issue 9 synced, got %v", synced)
	}

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected exit 0, got %d", code)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("server did not stop after cancel")
	}
	if findEvent(logs.String(), "server.stop") == nil {
		t.Fatalf("expected server.stop in %s", logs.String())
	}
}

func TestRunSyncsAcceptedDeliveriesDuringShutdown(t *testing.T) {
	clearEnv(t)
	notion := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/query"):
			_, _ = w.Write([]byte(`{"object":"list","results":[],"has_more":false}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/pages":
			_, _ = w.Write([]byte(`{"object":"page","id":"page_1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer notion.Close()
	t.Setenv("NOTION_API_TOKEN", "secret_live")
	t.Setenv("NOTION_API_BASE_URL", notion.URL)
	t.Setenv("NOTION_ISSUES_DATABASE_ID", "db_issues")

	var logs syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	go func() { done <- run(ctx, []string{"--addr", "127.0.0.1:0"}, &logs, io.Discard) }()
	addr, _ := waitForEvent(t, &logs, "server.start")["addr"].(string)

	for i := 1; i <= 3; i++ {
		body := fmt.Sprintf(`{"issue":{"node_id":"I_%d","number":%d,"title":"Issue %d"}}`, i, i, i)
		req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/webhooks/github", strings.NewReader(body))
		req.Header.Set("X-GitHub-Event", "issues")
		req.Header.Set("X-GitHub-Delivery", fmt.Sprintf("delivery-%d", i))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post webhook: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", resp.StatusCode)
		}
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected exit 0, got %d", code)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("server did not stop after cancel")
	}
	out := logs.String()
	if synced := strings.Count(out, `"event":"issue.synced"`); synced != 3 {
		t.Fatalf("expected all three accepted deliveries synced, got %d (%s)", synced, out)
	}
	if strings.Contains(out, `"event":"issue.error"`) || strings.Contains(out, `"event":"server.abandoned"`) {
		t.Fatalf("expected no failed or abandoned deliveries, got %s", out)
	}
	if stop := findEvent(out, "server.stop"); stop == nil || stop["queued"] != float64(0) {
		t.Fatalf("expected an empty queue at stop, got %v", stop)
	}
}

func TestRunRejectsUnknownBackendProfile(t *testing.T) {
	clearEnv(t)
	t.Setenv("NOTIONSYNC_BACKEND_PROFILE", "tape-drive")
	var logs syncBuffer
	code := run(context.Background(), []string{"--addr", "127.0.0.1:0", "--dry-run"}, &logs, io.Discard)
	if code != 1 || findEvent(logs.String(), "startup.storage_error") == nil {
		t.Fatalf("expected storage error exit 1, got %d (%s)", code, logs.String())
	}
}

func TestRunRequiresTokenOutsideDryRun(t *testing.T) {
	clearEnv(t)
	var logs syncBuffer
	code := run(context.Background(), []string{"--addr", "127.0.0.1:0"}, &logs, io.Discard)
	if code != 1 || findEvent(logs.String(), "startup.missing_token") == nil {
		t.Fatalf("expected missing token exit 1, got %d (%s)", code, logs.String())
	}
}

func TestBuildStorageDurableLocal(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults().Server
	cfg.BackendProfile = "durable-local"
	cfg.DataDir = dir
	queue, ledger, err := buildStorage(cfg)
	if err != nil {
		t.Fatalf("build storage: %v", err)
	}
	defer queue.Close()
	defer ledger.Close()

	duplicate, err := ledger.MarkSeen(context.Background(), "d-1")
	if err != nil || duplicate {
		t.Fatalf("expected first sighting, got duplicate=%v err=%v", duplicate, err)
	}
	if queue.Capacity() != config.DefaultQueueSize {
		t.Fatalf("expected capacity %d, got %d", config.DefaultQueueSize, queue.Capacity())
	}
}
