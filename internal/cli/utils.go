// Package cli provides CLI output helpers for the miniblog.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/miniblog/internal/models"
	"github.com/hyperjump/miniblog/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a --output flag value to a format.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// searchOutput is the JSON shape of a search page.
type searchOutput struct {
	Query    string         `json:"query"`
	Items    []*models.Post `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PerPage  int            `json:"per_page"`
	NextPage int            `json:"next_page,omitempty"`
	PrevPage int            `json:"prev_page,omitempty"`
}

// WriteSearchResults writes one page of search results to w in the given format.
func WriteSearchResults(w io.Writer, query string, page *models.Page[*models.Post], format OutputFormat) error {
	switch format {
	case OutputJSON:
		items := page.Items
		if items == nil {
			items = []*models.Post{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(searchOutput{
			Query:    query,
			Items:    items,
			Total:    page.Total,
			Page:     page.Page,
			PerPage:  page.PerPage,
			NextPage: page.NextPage(),
			PrevPage: page.PrevPage(),
		})
	default:
		writeSearchResultsText(w, query, page)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, query string, page *models.Page[*models.Post]) {
	fmt.Fprintf(w, "\nFound %d results for %q (page %d)\n\n", page.Total, query, page.Page)
	for i, p := range page.Items {
		rank := models.Offset(page.Page, page.PerPage) + i + 1
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "#%d  post %d", rank, p.ID)
		if p.Author != "" {
			fmt.Fprintf(w, " by %s", p.Author)
		}
		if !p.Timestamp.IsZero() {
			fmt.Fprintf(w, " at %s", p.Timestamp.Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(w, "\n\n%s\n\n", utils.Truncate(p.Body, 200))
	}
	if page.HasNext() {
		fmt.Fprintf(w, "More results: --page %d\n", page.NextPage())
	}
}
