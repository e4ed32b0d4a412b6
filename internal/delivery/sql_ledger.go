package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteLedgerTableName = "delivery_ledger"

type sqlDialect struct {
	driver      string
	placeholder func(n int) string
	tableName   string
	// setup runs once on the fresh connection before the table is created.
	setup func(db *sql.DB) error
}

// sqlLedger keeps seen ids in a table keyed by delivery id. Rows older than
// the window are removed before each insert.
type sqlLedger struct {
	dialect sqlDialect
	dsn     string
	window  time.Duration
	openDB  sqlOpenFunc
	now     func() time.Time

	initOnce sync.Once
	initErr  error
	mu       sync.Mutex
	closed   bool
	db       *sql.DB
}

func newSQLLedger(dialect sqlDialect, dsn string, window time.Duration, open sqlOpenFunc) *sqlLedger {
	if window <= 0 {
		window = time.Hour
	}
	return &sqlLedger{
		dialect: dialect,
		dsn:     dsn,
		window:  window,
		openDB:  open,
		now:     time.Now,
	}
}

// NewSQLiteLedger opens (or creates) a SQLite database file holding seen
// delivery ids, so a restarted listener still recognises redeliveries.
func NewSQLiteLedger(path string, window time.Duration) (Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return newSQLLedger(sqlDialect{
		driver:      "sqlite",
		placeholder: func(int) string { return "?" },
		tableName:   sqliteLedgerTableName,
		setup:       sqlitePragmas,
	}, path, window, sql.Open), nil
}

func sqlitePragmas(db *sql.DB) error {
	// Single connection for SQLite to avoid locking issues.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %q: %w", pragma, err)
		}
	}
	return nil
}

func (l *sqlLedger) ensureReady() error {
	l.initOnce.Do(func() {
		db, err := l.openDB(l.dialect.driver, l.dsn)
		if err != nil {
			l.initErr = fmt.Errorf("open ledger: %w", err)
			return
		}
		if l.dialect.setup != nil {
			if err := l.dialect.setup(db); err != nil {
				_ = db.Close()
				l.initErr = err
				return
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		create := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				delivery_id TEXT PRIMARY KEY,
				seen_at BIGINT NOT NULL
			)`, quoteIdentifier(l.dialect.tableName))
		if _, err := db.ExecContext(ctx, create); err != nil {
			_ = db.Close()
			l.initErr = fmt.Errorf("create ledger table: %w", err)
			return
		}
		l.db = db
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errLedgerClosed
	}
	return l.initErr
}

func (l *sqlLedger) MarkSeen(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, ErrInvalidInput
	}
	if err := l.ensureReady(); err != nil {
		return false, err
	}
	ph := l.dialect.placeholder
	table := quoteIdentifier(l.dialect.tableName)
	now := l.now()

	prune := fmt.Sprintf("DELETE FROM %s WHERE seen_at < %s", table, ph(1))
	if _, err := l.db.ExecContext(ctx, prune, now.Add(-l.window).UnixNano()); err != nil {
		return false, fmt.Errorf("prune ledger: %w", err)
	}
	insert := fmt.Sprintf("INSERT INTO %s (delivery_id, seen_at) VALUES (%s, %s) ON CONFLICT (delivery_id) DO NOTHING",
		table, ph(1), ph(2))
	res, err := l.db.ExecContext(ctx, insert, id, now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("record delivery: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record delivery: %w", err)
	}
	return affected == 0, nil
}

func (l *sqlLedger) Forget(ctx context.Context, id string) error {
	if err := l.ensureReady(); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE delivery_id = %s",
		quoteIdentifier(l.dialect.tableName), l.dialect.placeholder(1))
	if _, err := l.db.ExecContext(ctx, query, strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("forget delivery: %w", err)
	}
	return nil
}

func (l *sqlLedger) Size(ctx context.Context) (int, error) {
	if err := l.ensureReady(); err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdentifier(l.dialect.tableName))
	if err := l.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger: %w", err)
	}
	return n, nil
}

func (l *sqlLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
