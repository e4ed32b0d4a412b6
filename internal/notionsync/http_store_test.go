package notionsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPPageStoreQuerySendsExpectedRequest(t *testing.T) {
	var capturedAuth, capturedVersion, capturedPath, capturedMethod string
	var capturedBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		capturedVersion = r.Header.Get("Notion-Version")
		capturedPath = r.URL.Path
		capturedMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&capturedBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","results":[{"object":"page","id":"page_1"}],"has_more":false,"next_cursor":null}`))
	}))
	defer server.Close()

	store, err := NewHTTPPageStore(HTTPPageStoreOptions{
		BaseURL:       server.URL + "/",
		TokenProvider: StaticToken("secret_123"),
		HTTPClient:    server.Client(),
	})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	filter, _ := EqualsFilter("GitHub ID", PropertyRichText, "I_1")
	resp, err := store.QueryDatabase(context.Background(), QueryRequest{DatabaseID: "db_1", Filter: &filter, PageSize: 1})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if capturedMethod != http.MethodPost || capturedPath != "/v1/databases/db_1/query" {
		t.Fatalf("expected POST /v1/databases/db_1/query, got %s %s", capturedMethod, capturedPath)
	}
	if capturedAuth != "Bearer secret_123" {
		t.Fatalf("expected bearer auth, got %q", capturedAuth)
	}
	if capturedVersion != "2022-06-28" {
		t.Fatalf("expected default Notion-Version, got %q", capturedVersion)
	}
	if capturedBody["page_size"] != float64(1) {
		t.Fatalf("expected page_size 1, got %+v", capturedBody)
	}
	filterBody, _ := capturedBody["filter"].(map[string]any)
	if filterBody["property"] != "GitHub ID" {
		t.Fatalf("expected filter on GitHub ID, got %+v", capturedBody["filter"])
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "page_1" {
		t.Fatalf("expected one page, got %+v", resp)
	}
}

func TestHTTPPageStoreCreateAndUpdate(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["properties"].(map[string]any)["Name"]; !ok {
			t.Errorf("expected Name property in %s body, got %+v", r.Method, body)
		}
		if r.Method == http.MethodPost {
			parent, _ := body["parent"].(map[string]any)
			if parent["database_id"] != "db_1" {
				t.Errorf("expected parent database, got %+v", body["parent"])
			}
		}
		_, _ = w.Write([]byte(`{"object":"page","id":"page_2"}`))
	}))
	defer server.Close()

	store, _ := NewHTTPPageStore(HTTPPageStoreOptions{BaseURL: server.URL, TokenProvider: StaticToken("t"), HTTPClient: server.Client()})
	props := map[string]Property{"Name": *Title("Hello")}
	if _, err := store.CreatePage(context.Background(), CreatePageRequest{Parent: Parent{DatabaseID: "db_1"}, Properties: props}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	page, err := store.UpdatePage(context.Background(), UpdatePageRequest{PageID: "page_2", Properties: props})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if page.ID != "page_2" {
		t.Fatalf("expected page_2, got %+v", page)
	}
	if len(paths) != 2 || paths[0] != "POST /v1/pages" || paths[1] != "PATCH /v1/pages/page_2" {
		t.Fatalf("unexpected requests %v", paths)
	}
}

func TestHTTPPageStoreDecodesNotionErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"object":"error","status":429,"code":"rate_limited","message":"slow down"}`))
	}))
	defer server.Close()

	store, _ := NewHTTPPageStore(HTTPPageStoreOptions{BaseURL: server.URL, TokenProvider: StaticToken("t"), HTTPClient: server.Client()})
	_, err := store.QueryDatabase(context.Background(), QueryRequest{DatabaseID: "db_1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "rate_limited" || apiErr.Message != "slow down" || apiErr.RetryAfter != 2*time.Second {
		t.Fatalf("unexpected decoded error %+v", apiErr)
	}
	if !IsTransient(err) {
		t.Fatalf("expected rate limit to be transient")
	}
}

func TestClientOverHTTPRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"object":"error","code":"service_unavailable","message":"try again"}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	store, _ := NewHTTPPageStore(HTTPPageStoreOptions{BaseURL: server.URL, TokenProvider: StaticToken("t"), HTTPClient: server.Client()})
	client, _ := NewClient(store, ClientOptions{MaxRetries: 2, RetryBackoff: time.Millisecond})
	page, err := client.FindPage(context.Background(), issueTarget(), "I_1")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if page != nil {
		t.Fatalf("expected no page, got %+v", page)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestClientOverHTTPDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"object":"error","code":"validation_error","message":"bad filter"}`))
	}))
	defer server.Close()

	store, _ := NewHTTPPageStore(HTTPPageStoreOptions{BaseURL: server.URL, TokenProvider: StaticToken("t"), HTTPClient: server.Client()})
	client, _ := NewClient(store, ClientOptions{MaxRetries: 3, RetryBackoff: time.Millisecond})
	if _, err := client.FindPage(context.Background(), issueTarget(), "I_1"); err == nil {
		t.Fatalf("expected validation error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestNewHTTPPageStoreRequiresToken(t *testing.T) {
	if _, err := NewHTTPPageStore(HTTPPageStoreOptions{}); !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("expected ErrAdapterUnavailable, got %v", err)
	}
	store, _ := NewHTTPPageStore(HTTPPageStoreOptions{TokenProvider: StaticToken("  ")})
	if _, err := store.CreatePage(context.Background(), CreatePageRequest{Parent: Parent{DatabaseID: "db"}}); !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("expected empty token to fail, got %v", err)
	}
}
