package notionsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

type flakyStore struct {
	*MemoryPageStore
	mu          sync.Mutex
	createErrs  []error
	queryErrs   []error
	createCalls int
	queryCalls  int
}

func (s *flakyStore) QueryDatabase(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	s.mu.Lock()
	s.queryCalls++
	var err error
	if len(s.queryErrs) > 0 {
		err, s.queryErrs = s.queryErrs[0], s.queryErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return QueryResponse{}, err
	}
	return s.MemoryPageStore.QueryDatabase(ctx, req)
}

func (s *flakyStore) CreatePage(ctx context.Context, req CreatePageRequest) (Page, error) {
	s.mu.Lock()
	s.createCalls++
	var err error
	if len(s.createErrs) > 0 {
		err, s.createErrs = s.createErrs[0], s.createErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return Page{}, err
	}
	return s.MemoryPageStore.CreatePage(ctx, req)
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, delay time.Duration) error {
	r.delays = append(r.delays, delay)
	return nil
}

func issueTarget() Target {
	return Target{
		DatabaseID:     "db_issues",
		IDProperty:     "GitHub ID",
		IDPropertyType: PropertyRichText,
		TitleProperty:  "Name",
	}
}

func TestNewClientRequiresStore(t *testing.T) {
	if _, err := NewClient(nil, ClientOptions{}); !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("expected ErrAdapterUnavailable, got %v", err)
	}
}

func TestUpsertPageIsIdempotent(t *testing.T) {
	store := NewMemoryPageStore()
	client, err := NewClient(store, ClientOptions{})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	req := UpsertRequest{
		Target:  issueTarget(),
		IDValue: "I_1",
		Title:   "First",
		Properties: map[string]*Property{
			"State":  Select("open"),
			"Author": RichText(""),
		},
	}
	first, err := client.UpsertPage(context.Background(), req)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	req.Title = "Second"
	second, err := client.UpsertPage(context.Background(), req)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if first.ID == "" || first.ID != second.ID {
		t.Fatalf("expected the same page id, got %q and %q", first.ID, second.ID)
	}
	stats := store.Stats()
	if stats.Pages != 1 || stats.Creates != 1 || stats.Updates != 1 {
		t.Fatalf("expected one create then one update, got %+v", stats)
	}
	title, ok := store.Property(second.ID, "Name")
	if !ok || title.Text() != "Second" {
		t.Fatalf("expected latest title, got %+v", title)
	}
	if _, ok := store.Property(second.ID, "Author"); ok {
		t.Fatalf("expected empty author to be omitted")
	}
	id, ok := store.Property(second.ID, "GitHub ID")
	if !ok || id.Text() != "I_1" {
		t.Fatalf("expected id property to be written, got %+v", id)
	}
}

func TestUpsertPageWritesEmptyIDProperty(t *testing.T) {
	store := NewMemoryPageStore()
	client, _ := NewClient(store, ClientOptions{})
	target := issueTarget()
	target.IDPropertyType = PropertyURL
	page, err := client.UpsertPage(context.Background(), UpsertRequest{Target: target})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	id, ok := store.Property(page.ID, "GitHub ID")
	if !ok || !id.IsEmpty() || id.Type() != PropertyURL {
		t.Fatalf("expected empty url id property, got %+v (present=%v)", id, ok)
	}
	if _, ok := store.Property(page.ID, "Name"); ok {
		t.Fatalf("expected empty title to be omitted")
	}
}

func TestUpsertPageMatchesNumericIDs(t *testing.T) {
	store := NewMemoryPageStore()
	client, _ := NewClient(store, ClientOptions{})
	target := issueTarget()
	target.IDPropertyType = PropertyNumber
	for _, id := range []string{"42", "42.0", "43"} {
		if _, err := client.UpsertPage(context.Background(), UpsertRequest{Target: target, IDValue: id}); err != nil {
			t.Fatalf("upsert %s failed: %v", id, err)
		}
	}
	if pages := store.Pages("db_issues"); len(pages) != 2 {
		t.Fatalf("expected 42 and 42.0 to share a page, got %d pages", len(pages))
	}
}

func TestRetryBacksOffLinearlyThenSucceeds(t *testing.T) {
	store := &flakyStore{
		MemoryPageStore: NewMemoryPageStore(),
		createErrs: []error{
			&APIError{StatusCode: http.StatusServiceUnavailable, Code: "service_unavailable"},
			&APIError{StatusCode: http.StatusTooManyRequests, Code: "rate_limited"},
		},
	}
	recorder := &sleepRecorder{}
	client, _ := NewClient(store, ClientOptions{MaxRetries: 3, RetryBackoff: time.Second, Sleep: recorder.sleep})

	if _, err := client.UpsertPage(context.Background(), UpsertRequest{Target: issueTarget(), IDValue: "I_9"}); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if store.createCalls != 3 {
		t.Fatalf("expected 3 create attempts, got %d", store.createCalls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if fmt.Sprint(recorder.delays) != fmt.Sprint(want) {
		t.Fatalf("expected delays %v, got %v", want, recorder.delays)
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	last := &APIError{StatusCode: http.StatusBadGateway, Message: "third"}
	store := &flakyStore{
		MemoryPageStore: NewMemoryPageStore(),
		queryErrs: []error{
			&APIError{StatusCode: http.StatusBadGateway, Message: "first"},
			&APIError{StatusCode: http.StatusBadGateway, Message: "second"},
			last,
			&APIError{StatusCode: http.StatusBadGateway, Message: "fourth"},
		},
	}
	recorder := &sleepRecorder{}
	client, _ := NewClient(store, ClientOptions{MaxRetries: 3, RetryBackoff: time.Millisecond, Sleep: recorder.sleep})

	_, err := client.UpsertPage(context.Background(), UpsertRequest{Target: issueTarget(), IDValue: "I_9"})
	if err != last {
		t.Fatalf("expected last error to surface, got %v", err)
	}
	if store.queryCalls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", store.queryCalls)
	}
	if len(recorder.delays) != 2 {
		t.Fatalf("expected no sleep after the final attempt, got %v", recorder.delays)
	}
}

func TestRetrySkipsNonTransientErrors(t *testing.T) {
	store := &flakyStore{
		MemoryPageStore: NewMemoryPageStore(),
		queryErrs:       []error{&APIError{StatusCode: http.StatusBadRequest, Code: "validation_error"}},
	}
	recorder := &sleepRecorder{}
	client, _ := NewClient(store, ClientOptions{MaxRetries: 5, Sleep: recorder.sleep})

	_, err := client.FindPage(context.Background(), issueTarget(), "I_1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "validation_error" {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.queryCalls != 1 || len(recorder.delays) != 0 {
		t.Fatalf("expected a single attempt without sleeping, got calls=%d delays=%v", store.queryCalls, recorder.delays)
	}
}

func TestRetryHonoursRetryAfter(t *testing.T) {
	store := &flakyStore{
		MemoryPageStore: NewMemoryPageStore(),
		queryErrs:       []error{&APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: 5 * time.Second}},
	}
	recorder := &sleepRecorder{}
	client, _ := NewClient(store, ClientOptions{RetryBackoff: time.Second, Sleep: recorder.sleep})
	if _, err := client.FindPage(context.Background(), issueTarget(), "I_1"); err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(recorder.delays) != 1 || recorder.delays[0] != 5*time.Second {
		t.Fatalf("expected Retry-After to set the delay, got %v", recorder.delays)
	}
}

func TestFindPageReturnsNilWhenAbsent(t *testing.T) {
	client, _ := NewClient(NewMemoryPageStore(), ClientOptions{})
	page, err := client.FindPage(context.Background(), issueTarget(), "missing")
	if err != nil || page != nil {
		t.Fatalf("expected no page and no error, got %+v %v", page, err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&APIError{StatusCode: 500}, true},
		{&APIError{StatusCode: 409, Code: "conflict_error"}, true},
		{&APIError{StatusCode: 401, Code: "unauthorized"}, false},
		{&APIError{StatusCode: 404, Code: "object_not_found"}, false},
		{fmt.Errorf("wrapped: %w", &APIError{StatusCode: 504}), true},
		{context.Canceled, false},
		{ErrInvalidInput, false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%v): expected %v, got %v", tc.err, tc.want, got)
		}
	}
}
