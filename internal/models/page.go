package models

// Page is one window of an ordered result set.
// Total counts every match, not just the items on this page.
type Page[T any] struct {
	Items   []T `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// HasNext reports whether a later page exists.
func (p *Page[T]) HasNext() bool {
	return p.Page*p.PerPage < p.Total
}

// HasPrev reports whether an earlier page exists.
func (p *Page[T]) HasPrev() bool {
	return p.Page > 1
}

// NextPage returns the next page number, or 0 when there is none.
func (p *Page[T]) NextPage() int {
	if !p.HasNext() {
		return 0
	}
	return p.Page + 1
}

// PrevPage returns the previous page number, or 0 when there is none.
func (p *Page[T]) PrevPage() int {
	if !p.HasPrev() {
		return 0
	}
	return p.Page - 1
}

// Offset is the number of rows before this page.
func Offset(page, perPage int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * perPage
}
