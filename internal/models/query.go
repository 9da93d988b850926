package models

import (
	"fmt"
	"strings"
)

// SearchQuery is a free-text search request for one page of results.
type SearchQuery struct {
	Query   string `json:"q"`
	Page    int    `json:"page,omitempty"`
	PerPage int    `json:"per_page,omitempty"`
}

// Validate rejects an empty query and normalizes the page window.
// A zero PerPage becomes defaultPerPage; values above maxPerPage are capped.
func (q *SearchQuery) Validate(defaultPerPage, maxPerPage int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = defaultPerPage
	}
	if maxPerPage > 0 && q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
	return nil
}
