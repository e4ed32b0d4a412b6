package notionsync

import (
	"context"
	"encoding/json"
)

// PageStore is the remote database of pages. Implementations make a single
// attempt per call; retries belong to Client.
type PageStore interface {
	QueryDatabase(ctx context.Context, req QueryRequest) (QueryResponse, error)
	CreatePage(ctx context.Context, req CreatePageRequest) (Page, error)
	UpdatePage(ctx context.Context, req UpdatePageRequest) (Page, error)
}

type QueryRequest struct {
	DatabaseID string  `json:"-"`
	Filter     *Filter `json:"filter,omitempty"`
	PageSize   int     `json:"page_size,omitempty"`
}

type QueryResponse struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

type Parent struct {
	DatabaseID string `json:"database_id"`
}

type CreatePageRequest struct {
	Parent     Parent              `json:"parent"`
	Properties map[string]Property `json:"properties"`
}

type UpdatePageRequest struct {
	PageID     string              `json:"-"`
	Properties map[string]Property `json:"properties"`
}

type Page struct {
	Object         string                     `json:"object,omitempty"`
	ID             string                     `json:"id"`
	URL            string                     `json:"url,omitempty"`
	CreatedTime    string                     `json:"created_time,omitempty"`
	LastEditedTime string                     `json:"last_edited_time,omitempty"`
	Properties     map[string]json.RawMessage `json:"properties,omitempty"`
}
