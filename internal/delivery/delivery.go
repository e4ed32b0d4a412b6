// Package delivery holds accepted webhook deliveries between the HTTP
// listener and the sync worker, and remembers delivery ids so GitHub
// redeliveries are recognised.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
	ErrQueueFull      = errors.New("delivery queue is full")
)

const defaultCapacity = 1024

// Delivery is one accepted webhook.
type Delivery struct {
	ID         string          `json:"id"`
	Event      string          `json:"event"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Queue is a bounded FIFO of deliveries. TryEnqueue never blocks; Enqueue and
// Dequeue wait until they succeed or ctx is done.
type Queue interface {
	TryEnqueue(d Delivery) bool
	Enqueue(ctx context.Context, d Delivery) bool
	Dequeue(ctx context.Context) (Delivery, bool)
	Depth() int
	Capacity() int
	Close() error
}

// Snapshotter is implemented by queues that can list pending deliveries.
type Snapshotter interface {
	Snapshot() []Delivery
}

// Ledger records delivery ids seen within a retention window.
type Ledger interface {
	// MarkSeen records id and reports whether it was already present.
	MarkSeen(ctx context.Context, id string) (duplicate bool, err error)
	// Forget removes id so a later redelivery is accepted again.
	Forget(ctx context.Context, id string) error
	Size(ctx context.Context) (int, error)
	Close() error
}

// Drain hands deliveries to handle one at a time until ctx is done.
// Cancelling ctx stops Drain from taking another delivery; a delivery already
// handed out runs to completion with a context that is never cancelled.
func Drain(ctx context.Context, q Queue, handle func(ctx context.Context, d Delivery)) {
	for {
		d, ok := q.Dequeue(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		handle(context.WithoutCancel(ctx), d)
	}
}

func validDelivery(d Delivery) bool {
	return d.ID != "" && d.Event != ""
}
