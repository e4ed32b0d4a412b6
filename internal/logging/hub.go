package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultRecentEvents = 200

// Event is a log record as seen by hub subscribers.
type Event struct {
	Time    time.Time
	Level   string
	Message string
	Fields  map[string]any
}

// Name is the value of the "event" field, if any.
func (e Event) Name() string {
	name, _ := e.Fields["event"].(string)
	return name
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for key, value := range e.Fields {
		out[key] = value
	}
	out["time"] = e.Time.UTC().Format(time.RFC3339Nano)
	out["level"] = e.Level
	out["message"] = e.Message
	return json.Marshal(out)
}

// Hub is a slog.Handler that forwards records to next and also fans them
// out to subscribers and a bounded ring of recent events.
type Hub struct {
	next  slog.Handler
	state *hubState
	attrs []slog.Attr
}

type hubState struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	recent      []Event
	limit       int
	counts      map[string]int
}

func NewHub(next slog.Handler, recent int) *Hub {
	if recent <= 0 {
		recent = defaultRecentEvents
	}
	return &Hub{
		next: next,
		state: &hubState{
			subscribers: map[int]chan Event{},
			limit:       recent,
			counts:      map[string]int{},
		},
	}
}

func (h *Hub) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Hub) Handle(ctx context.Context, record slog.Record) error {
	event := Event{
		Time:    record.Time,
		Level:   LevelName(record.Level),
		Message: record.Message,
		Fields:  make(map[string]any, len(h.attrs)+record.NumAttrs()),
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	for _, attr := range h.attrs {
		addField(event.Fields, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		addField(event.Fields, attr)
		return true
	})
	h.state.publish(event)
	return h.next.Handle(ctx, record)
}

func (h *Hub) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &Hub{next: h.next.WithAttrs(attrs), state: h.state, attrs: merged}
}

// WithGroup is passed through to next; subscribers see flat fields.
func (h *Hub) WithGroup(name string) slog.Handler {
	return &Hub{next: h.next.WithGroup(name), state: h.state, attrs: h.attrs}
}

// Subscribe registers a live listener. Events are dropped for a subscriber
// whose buffer is full. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s := h.state
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns up to n of the newest events, oldest first.
func (h *Hub) Recent(n int) []Event {
	s := h.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	return append([]Event(nil), s.recent[len(s.recent)-n:]...)
}

// Counts reports how many events with each suffix (synced, error, skipped...)
// have been seen since start.
func (h *Hub) Counts() map[string]int {
	s := h.state
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for key, value := range s.counts {
		out[key] = value
	}
	return out
}

func (s *hubState) publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, event)
	if len(s.recent) > s.limit {
		s.recent = append([]Event(nil), s.recent[len(s.recent)-s.limit:]...)
	}
	if name := event.Name(); name != "" {
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			s.counts[name[idx+1:]]++
		}
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func addField(fields map[string]any, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		for _, nested := range value.Group() {
			addField(fields, nested)
		}
		return
	}
	if attr.Key == "" {
		return
	}
	fields[attr.Key] = value.Any()
}
