package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationQueueRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	q, err := NewPostgresQueue(dsn, 2)
	if err != nil {
		t.Fatalf("new postgres queue: %v", err)
	}
	pg := q.(*postgresQueue)
	pg.tableName = postgresIntegrationTableName("notionsync_queue_it")
	t.Cleanup(func() {
		_ = q.Close()
		postgresIntegrationDropTable(t, dsn, pg.tableName)
	})

	if !q.TryEnqueue(testDelivery("d1")) || !q.TryEnqueue(testDelivery("d2")) {
		t.Fatalf("expected enqueues to succeed")
	}
	if q.TryEnqueue(testDelivery("d3")) {
		t.Fatalf("expected enqueue past capacity to fail")
	}
	if q.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", q.Depth())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, ok := q.Dequeue(ctx)
	if !ok || d.ID != "d1" || string(d.Payload) != `{"issue":{"id":1}}` {
		t.Fatalf("unexpected dequeued delivery %+v (ok=%v)", d, ok)
	}
}

func TestPostgresIntegrationLedger(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	ledger, err := NewPostgresLedger(dsn, time.Hour)
	if err != nil {
		t.Fatalf("new postgres ledger: %v", err)
	}
	sl := ledger.(*sqlLedger)
	sl.dialect.tableName = postgresIntegrationTableName("notionsync_ledger_it")
	t.Cleanup(func() {
		_ = ledger.Close()
		postgresIntegrationDropTable(t, dsn, sl.dialect.tableName)
	})

	ctx := context.Background()
	if dup, err := ledger.MarkSeen(ctx, "delivery-1"); err != nil || dup {
		t.Fatalf("expected new delivery, got dup=%v err=%v", dup, err)
	}
	if dup, err := ledger.MarkSeen(ctx, "delivery-1"); err != nil || !dup {
		t.Fatalf("expected duplicate, got dup=%v err=%v", dup, err)
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("NOTIONSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set NOTIONSYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdentifier(tableName))); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
