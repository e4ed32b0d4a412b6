package notionsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 1500 * time.Millisecond
)

// Target is where one entity kind is mirrored: a database plus the names and
// type of the id and title properties.
type Target struct {
	DatabaseID     string
	IDProperty     string
	IDPropertyType PropertyType
	TitleProperty  string
}

type UpsertRequest struct {
	Target     Target
	IDValue    string
	Title      string
	Properties map[string]*Property
}

type ClientOptions struct {
	// MaxRetries is the total number of attempts per remote call. Zero
	// selects DefaultMaxRetries; config clamps explicit values to at least 1.
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *slog.Logger
	// Sleep replaces the backoff wait. Tests use it to record delays.
	Sleep func(ctx context.Context, delay time.Duration) error
}

// Client wraps a PageStore with the lookup-by-external-id and upsert
// primitives and a linear retry envelope around every remote call.
type Client struct {
	store        PageStore
	maxRetries   int
	retryBackoff time.Duration
	logger       *slog.Logger
	sleep        func(ctx context.Context, delay time.Duration) error
}

func NewClient(store PageStore, opts ClientOptions) (*Client, error) {
	if store == nil {
		return nil, ErrAdapterUnavailable
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Client{
		store:        store,
		maxRetries:   maxRetries,
		retryBackoff: backoff,
		logger:       logger,
		sleep:        sleep,
	}, nil
}

// FindPage returns the page whose id property equals idValue, or nil when
// there is none.
func (c *Client) FindPage(ctx context.Context, target Target, idValue string) (*Page, error) {
	filter, err := EqualsFilter(target.IDProperty, target.IDPropertyType, idValue)
	if err != nil {
		return nil, err
	}
	resp, err := retry(ctx, c, "query_database", func(ctx context.Context) (QueryResponse, error) {
		return c.store.QueryDatabase(ctx, QueryRequest{
			DatabaseID: target.DatabaseID,
			Filter:     &filter,
			PageSize:   1,
		})
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	page := resp.Results[0]
	return &page, nil
}

// UpsertPage creates the page for req.IDValue or updates the existing one.
// The id property is always written; nil properties are dropped.
func (c *Client) UpsertPage(ctx context.Context, req UpsertRequest) (Page, error) {
	target := req.Target
	if strings.TrimSpace(target.DatabaseID) == "" {
		return Page{}, fmt.Errorf("%w: database id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(target.IDProperty) == "" {
		return Page{}, fmt.Errorf("%w: id property is required", ErrInvalidInput)
	}

	properties := make(map[string]Property, len(req.Properties)+2)
	for name, value := range req.Properties {
		if value != nil {
			properties[name] = *value
		}
	}
	idProperty, err := IDProperty(target.IDPropertyType, req.IDValue)
	if err != nil {
		return Page{}, err
	}
	properties[target.IDProperty] = idProperty
	if req.Title != "" && target.TitleProperty != "" {
		properties[target.TitleProperty] = *Title(req.Title)
	}

	existing, err := c.FindPage(ctx, target, req.IDValue)
	if err != nil {
		return Page{}, err
	}
	if existing != nil {
		return retry(ctx, c, "update_page", func(ctx context.Context) (Page, error) {
			return c.store.UpdatePage(ctx, UpdatePageRequest{PageID: existing.ID, Properties: properties})
		})
	}
	return retry(ctx, c, "create_page", func(ctx context.Context) (Page, error) {
		return c.store.CreatePage(ctx, CreatePageRequest{
			Parent:     Parent{DatabaseID: target.DatabaseID},
			Properties: properties,
		})
	})
}

// retry runs fn up to c.maxRetries times. Only transient errors are retried,
// waiting backoff*attempt (or Retry-After, when longer) between attempts.
// The last error is returned unchanged.
func retry[T any](ctx context.Context, c *Client, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) || attempt == c.maxRetries {
			break
		}
		wait := c.retryBackoff * time.Duration(attempt)
		if retryAfter := retryAfterOf(err); retryAfter > wait {
			wait = retryAfter
		}
		c.logger.Warn("Notion API call failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_retries", c.maxRetries,
			"error", err.Error(),
			"wait_time", wait.Seconds(),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
