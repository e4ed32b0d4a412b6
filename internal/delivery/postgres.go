package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresQueueTableName    = "notionsync_delivery_queue"
	postgresLedgerTableName   = "notionsync_delivery_ledger"
	postgresQueueKey          = "github"
	postgresOperationTimeout  = 5 * time.Second
	postgresQueuePollInterval = 10 * time.Millisecond
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// postgresQueue is a bounded FIFO backed by a table. Capacity is enforced under
// an advisory lock so concurrent listeners cannot overshoot it, and dequeues
// use SKIP LOCKED so several workers can drain the same table.
type postgresQueue struct {
	dsn          string
	tableName    string
	queueKey     string
	capacity     int
	pollInterval time.Duration
	openDB       sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresQueue(dsn string, capacity int) (Queue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &postgresQueue{
		dsn:          dsn,
		tableName:    postgresQueueTableName,
		queueKey:     postgresQueueKey,
		capacity:     capacity,
		pollInterval: postgresQueuePollInterval,
		openDB:       sql.Open,
	}, nil
}

func (q *postgresQueue) ensureReady() error {
	q.initOnce.Do(func() {
		db, err := q.openDB("postgres", q.dsn)
		if err != nil {
			q.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				queue_key TEXT NOT NULL,
				delivery_id TEXT NOT NULL,
				payload TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoteIdentifier(q.tableName)),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (queue_key, id)",
				quoteIdentifier(q.tableName+"_queue_key_id_idx"),
				quoteIdentifier(q.tableName)),
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				q.initErr = err
				return
			}
		}
		q.db = db
	})
	return q.initErr
}

func (q *postgresQueue) TryEnqueue(d Delivery) bool {
	if !validDelivery(d) {
		return false
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return false
	}
	if err := q.ensureReady(); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", queueLockKey(q.tableName, q.queueKey)); err != nil {
		return false
	}
	var depth int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue_key = $1", quoteIdentifier(q.tableName))
	if err := tx.QueryRowContext(ctx, countQuery, q.queueKey).Scan(&depth); err != nil {
		return false
	}
	if depth >= q.capacity {
		return false
	}
	insertQuery := fmt.Sprintf("INSERT INTO %s (queue_key, delivery_id, payload) VALUES ($1, $2, $3)", quoteIdentifier(q.tableName))
	if _, err := tx.ExecContext(ctx, insertQuery, q.queueKey, d.ID, string(payload)); err != nil {
		return false
	}
	if err := tx.Commit(); err != nil {
		return false
	}
	committed = true
	return true
}

func (q *postgresQueue) Enqueue(ctx context.Context, d Delivery) bool {
	for {
		if q.TryEnqueue(d) {
			return true
		}
		if !validDelivery(d) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *postgresQueue) Dequeue(ctx context.Context) (Delivery, bool) {
	for {
		if d, ok := q.tryDequeue(ctx); ok {
			return d, true
		}
		select {
		case <-ctx.Done():
			return Delivery{}, false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *postgresQueue) tryDequeue(ctx context.Context) (Delivery, bool) {
	if err := q.ensureReady(); err != nil {
		return Delivery{}, false
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return Delivery{}, false
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`
		SELECT id, payload
		FROM %s
		WHERE queue_key = $1
		ORDER BY id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, quoteIdentifier(q.tableName))
	var rowID int64
	var payload string
	if err := tx.QueryRowContext(ctx, query, q.queueKey).Scan(&rowID, &payload); err != nil {
		return Delivery{}, false
	}
	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE id = $1", quoteIdentifier(q.tableName))
	if _, err := tx.ExecContext(ctx, deleteQuery, rowID); err != nil {
		return Delivery{}, false
	}
	if err := tx.Commit(); err != nil {
		return Delivery{}, false
	}
	committed = true

	var d Delivery
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		// The row is gone either way; a corrupt payload cannot be retried.
		return Delivery{}, false
	}
	return d, true
}

func (q *postgresQueue) Depth() int {
	if err := q.ensureReady(); err != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	var depth int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue_key = $1", quoteIdentifier(q.tableName))
	if err := q.db.QueryRowContext(ctx, query, q.queueKey).Scan(&depth); err != nil {
		return 0
	}
	return depth
}

func (q *postgresQueue) Capacity() int {
	return q.capacity
}

func (q *postgresQueue) Snapshot() []Delivery {
	if err := q.ensureReady(); err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE queue_key = $1 ORDER BY id ASC", quoteIdentifier(q.tableName))
	rows, err := q.db.QueryContext(ctx, query, q.queueKey)
	if err != nil {
		return nil
	}
	defer rows.Close()

	items := make([]Delivery, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var d Delivery
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			continue
		}
		items = append(items, d)
	}
	return items
}

func (q *postgresQueue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

// NewPostgresLedger stores seen delivery ids in a table shared by every
// listener pointed at the same database.
func NewPostgresLedger(dsn string, window time.Duration) (Ledger, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return newSQLLedger(sqlDialect{
		driver:      "postgres",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		tableName:   postgresLedgerTableName,
	}, dsn, window, sql.Open), nil
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func queueLockKey(tableName, queueKey string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(strings.TrimSpace(tableName)))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(strings.TrimSpace(queueKey)))
	return int64(hasher.Sum64())
}

var errLedgerClosed = errors.New("ledger closed")
