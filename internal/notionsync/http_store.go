package notionsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type TokenProvider func(ctx context.Context) (string, error)

// StaticToken adapts a fixed integration token to a TokenProvider.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

type HTTPPageStoreOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	APIVersion    string
	UserAgent     string
}

// HTTPPageStore talks to the Notion REST API.
type HTTPPageStore struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	apiVersion    string
	userAgent     string
}

func NewHTTPPageStore(opts HTTPPageStoreOptions) (*HTTPPageStore, error) {
	if opts.TokenProvider == nil {
		return nil, fmt.Errorf("%w: notion token provider is required", ErrAdapterUnavailable)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	return &HTTPPageStore{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		apiVersion:    apiVersion,
		userAgent:     strings.TrimSpace(opts.UserAgent),
	}, nil
}

func (s *HTTPPageStore) QueryDatabase(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	var out QueryResponse
	if strings.TrimSpace(req.DatabaseID) == "" {
		return out, fmt.Errorf("%w: database id is required", ErrInvalidInput)
	}
	path := "/v1/databases/" + url.PathEscape(req.DatabaseID) + "/query"
	err := s.do(ctx, http.MethodPost, path, req, &out)
	return out, err
}

func (s *HTTPPageStore) CreatePage(ctx context.Context, req CreatePageRequest) (Page, error) {
	var out Page
	if strings.TrimSpace(req.Parent.DatabaseID) == "" {
		return out, fmt.Errorf("%w: parent database id is required", ErrInvalidInput)
	}
	err := s.do(ctx, http.MethodPost, "/v1/pages", req, &out)
	return out, err
}

func (s *HTTPPageStore) UpdatePage(ctx context.Context, req UpdatePageRequest) (Page, error) {
	var out Page
	if strings.TrimSpace(req.PageID) == "" {
		return out, fmt.Errorf("%w: page id is required", ErrInvalidInput)
	}
	err := s.do(ctx, http.MethodPatch, "/v1/pages/"+url.PathEscape(req.PageID), req, &out)
	return out, err
}

func (s *HTTPPageStore) do(ctx context.Context, method, path string, payload, out any) error {
	token, err := s.tokenProvider(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: notion token is empty", ErrAdapterUnavailable)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", s.apiVersion)
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp, respBody)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode notion response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response, body []byte) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfterSeconds(resp.Header.Get("Retry-After")),
	}
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		apiErr.Code = parsed.Code
		if strings.TrimSpace(parsed.Message) != "" {
			apiErr.Message = parsed.Message
		}
	}
	return apiErr
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
