package delivery

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryQueue struct {
	ch chan Delivery
}

func NewMemoryQueue(capacity int) Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &memoryQueue{ch: make(chan Delivery, capacity)}
}

func (q *memoryQueue) TryEnqueue(d Delivery) bool {
	if !validDelivery(d) {
		return false
	}
	select {
	case q.ch <- d:
		return true
	default:
		return false
	}
}

func (q *memoryQueue) Enqueue(ctx context.Context, d Delivery) bool {
	if !validDelivery(d) {
		return false
	}
	select {
	case q.ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context) (Delivery, bool) {
	select {
	case d := <-q.ch:
		return d, true
	case <-ctx.Done():
		return Delivery{}, false
	}
}

func (q *memoryQueue) Depth() int {
	return len(q.ch)
}

func (q *memoryQueue) Capacity() int {
	return cap(q.ch)
}

func (q *memoryQueue) Close() error {
	return nil
}

// Abandon empties a queue whose contents die with the process and forgets
// each delivery in ledger, so GitHub's redelivery is accepted after a
// restart. Persistent queues keep their deliveries and are left untouched.
func Abandon(ctx context.Context, q Queue, ledger Ledger) ([]string, error) {
	mq, ok := q.(*memoryQueue)
	if !ok {
		return nil, nil
	}
	var ids []string
	for {
		select {
		case d := <-mq.ch:
			ids = append(ids, d.ID)
			if ledger == nil {
				continue
			}
			if err := ledger.Forget(ctx, d.ID); err != nil {
				return ids, err
			}
		default:
			return ids, nil
		}
	}
}

type memoryLedger struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

// NewMemoryLedger keeps ids for window. Expired ids are pruned on every
// MarkSeen.
func NewMemoryLedger(window time.Duration) Ledger {
	if window <= 0 {
		window = time.Hour
	}
	return &memoryLedger{
		window: window,
		now:    time.Now,
		seen:   map[string]time.Time{},
	}
}

func (l *memoryLedger) MarkSeen(_ context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, ErrInvalidInput
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for seenID, at := range l.seen {
		if now.Sub(at) > l.window {
			delete(l.seen, seenID)
		}
	}
	if _, ok := l.seen[id]; ok {
		return true, nil
	}
	l.seen[id] = now
	return false, nil
}

func (l *memoryLedger) Forget(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, strings.TrimSpace(id))
	return nil
}

func (l *memoryLedger) Size(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen), nil
}

func (l *memoryLedger) Close() error {
	return nil
}
