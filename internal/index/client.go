// Package index provides the full-text index client used to mirror searchable entities.
package index

import (
	"context"
	"errors"
)

// ErrInvalidCollection is returned for collection names that cannot be used as a namespace.
var ErrInvalidCollection = errors.New("invalid collection name")

// Client is the contract the sync and search layers depend on.
// Documents are always fully replaced, never patched.
type Client interface {
	// Add writes the document with id into collection, replacing any previous version.
	Add(ctx context.Context, collection, id string, fields map[string]interface{}) error
	// Remove deletes a document. Removing an unknown id is not an error.
	Remove(ctx context.Context, collection, id string) error
	// Query returns one page of matching ids in relevance order plus the total match count.
	Query(ctx context.Context, collection, expression string, page, perPage int) (*Result, error)
	// DeleteCollection drops every document of collection.
	DeleteCollection(ctx context.Context, collection string) error
	// DocCount returns the number of documents in collection; 0 when it does not exist.
	DocCount(ctx context.Context, collection string) (int, error)
	Close() error
}

// Result is a ranked page of document ids.
type Result struct {
	IDs   []string
	Total int
}
