package models

import (
	"strconv"
	"time"
)

// PostCollection is the index namespace for posts.
const PostCollection = "post"

var postSearchFields = []string{"body"}

// Post is a short status update written by a user.
type Post struct {
	ID        int64     `json:"id" db:"id"`
	Body      string    `json:"body" db:"body"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	UserID    int64     `json:"user_id" db:"user_id"`
	// Author is filled by reads that join users; it is not persisted with the post.
	Author string `json:"author,omitempty" db:"-"`
}

// SearchCollection implements searchable.Searchable.
func (p *Post) SearchCollection() string { return PostCollection }

// SearchID implements searchable.Searchable.
func (p *Post) SearchID() string { return strconv.FormatInt(p.ID, 10) }

// SearchFields implements searchable.Searchable.
func (p *Post) SearchFields() []string { return postSearchFields }

// SearchValues implements searchable.Searchable.
func (p *Post) SearchValues() map[string]interface{} {
	return map[string]interface{}{"body": p.Body}
}
