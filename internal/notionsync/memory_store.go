package notionsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryPageStore is an in-process PageStore used for dry runs and tests. It
// evaluates equality filters against the stored typed properties.
type MemoryPageStore struct {
	mu      sync.Mutex
	pages   map[string]*memoryPage
	order   []string
	now     func() time.Time
	creates int
	updates int
	queries int
}

type memoryPage struct {
	id         string
	databaseID string
	properties map[string]Property
	created    time.Time
	edited     time.Time
}

func NewMemoryPageStore() *MemoryPageStore {
	return &MemoryPageStore{
		pages: map[string]*memoryPage{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryPageStore) QueryDatabase(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	if err := ctx.Err(); err != nil {
		return QueryResponse{}, err
	}
	if strings.TrimSpace(req.DatabaseID) == "" {
		return QueryResponse{}, fmt.Errorf("%w: database id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++

	results := []Page{}
	for _, id := range s.order {
		page := s.pages[id]
		if page.databaseID != req.DatabaseID {
			continue
		}
		if req.Filter != nil && !req.Filter.Matches(page.properties[req.Filter.Property]) {
			continue
		}
		results = append(results, page.render())
		if req.PageSize > 0 && len(results) >= req.PageSize {
			break
		}
	}
	return QueryResponse{Results: results}, nil
}

func (s *MemoryPageStore) CreatePage(ctx context.Context, req CreatePageRequest) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if strings.TrimSpace(req.Parent.DatabaseID) == "" {
		return Page{}, fmt.Errorf("%w: parent database id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++

	now := s.now()
	page := &memoryPage{
		id:         uuid.NewString(),
		databaseID: req.Parent.DatabaseID,
		properties: make(map[string]Property, len(req.Properties)),
		created:    now,
		edited:     now,
	}
	for name, value := range req.Properties {
		page.properties[name] = value
	}
	s.pages[page.id] = page
	s.order = append(s.order, page.id)
	return page.render(), nil
}

func (s *MemoryPageStore) UpdatePage(ctx context.Context, req UpdatePageRequest) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++

	page, ok := s.pages[req.PageID]
	if !ok {
		return Page{}, &APIError{
			StatusCode: http.StatusNotFound,
			Code:       "object_not_found",
			Message:    fmt.Sprintf("Could not find page with ID: %s.", req.PageID),
		}
	}
	// Named properties are replaced; the rest stay as they were.
	for name, value := range req.Properties {
		page.properties[name] = value
	}
	page.edited = s.now()
	return page.render(), nil
}

// Pages returns the pages stored under databaseID in creation order.
func (s *MemoryPageStore) Pages(databaseID string) []Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Page{}
	for _, id := range s.order {
		if page := s.pages[id]; page.databaseID == databaseID {
			out = append(out, page.render())
		}
	}
	return out
}

// Property returns a stored property value.
func (s *MemoryPageStore) Property(pageID, name string) (Property, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok {
		return Property{}, false
	}
	value, ok := page.properties[name]
	return value, ok
}

type MemoryStats struct {
	Pages   int
	Queries int
	Creates int
	Updates int
}

func (s *MemoryPageStore) Stats() MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MemoryStats{Pages: len(s.pages), Queries: s.queries, Creates: s.creates, Updates: s.updates}
}

func (p *memoryPage) render() Page {
	properties := make(map[string]json.RawMessage, len(p.properties))
	for name, value := range p.properties {
		raw, err := json.Marshal(value)
		if err != nil {
			continue
		}
		properties[name] = raw
	}
	return Page{
		Object:         "page",
		ID:             p.id,
		URL:            "https://www.notion.so/" + strings.ReplaceAll(p.id, "-", ""),
		CreatedTime:    p.created.Format(time.RFC3339),
		LastEditedTime: p.edited.Format(time.RFC3339),
		Properties:     properties,
	}
}
