package delivery

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

type QueueFactory func(dsn string, capacity int) (Queue, error)

type LedgerFactory func(dsn string, window time.Duration) (Ledger, error)

var (
	factoryMu       sync.RWMutex
	queueFactories  = map[string]QueueFactory{}
	ledgerFactories = map[string]LedgerFactory{}
)

// RegisterQueueFactory makes an extra queue scheme available to
// BuildQueueFromDSN. Registered schemes win over the built-in ones.
func RegisterQueueFactory(scheme string, factory QueueFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryMu.Lock()
	defer factoryMu.Unlock()
	queueFactories[scheme] = factory
}

func RegisterLedgerFactory(scheme string, factory LedgerFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryMu.Lock()
	defer factoryMu.Unlock()
	ledgerFactories[scheme] = factory
}

func BuildQueueFromDSN(dsn string, capacity int) (Queue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryQueue(capacity), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	factoryMu.RLock()
	factory, ok := queueFactories[scheme]
	factoryMu.RUnlock()
	if ok {
		return factory(dsn, capacity)
	}
	switch scheme {
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewFileQueue(path, capacity)
	case "memory", "mem", "inmem":
		return NewMemoryQueue(capacity), nil
	case "postgres", "postgresql":
		return NewPostgresQueue(dsn, capacity)
	case "redis", "rediss", "nats", "sqs", "kafka":
		return nil, fmt.Errorf("%w: delivery queue backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported delivery queue scheme: %s", scheme)
	}
}

func BuildLedgerFromDSN(dsn string, window time.Duration) (Ledger, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryLedger(window), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	factoryMu.RLock()
	factory, ok := ledgerFactories[scheme]
	factoryMu.RUnlock()
	if ok {
		return factory(dsn, window)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryLedger(window), nil
	case "", "sqlite", "sqlite3":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewSQLiteLedger(path, window)
	case "postgres", "postgresql":
		return NewPostgresLedger(dsn, window)
	case "redis", "rediss":
		return nil, fmt.Errorf("%w: delivery ledger backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported delivery ledger scheme: %s", scheme)
	}
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if strings.TrimSpace(parsed.Scheme) == "" {
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if parsed.Host != "" {
		// scheme://relative/path parses its first segment as the host.
		path = parsed.Host + path
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
