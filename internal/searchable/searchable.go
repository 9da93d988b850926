// Package searchable defines the capability an entity type implements to be
// mirrored into the full-text index.
package searchable

// Searchable is implemented by entity types whose instances are indexed.
// SearchFields must return the same list for every instance of a type.
type Searchable interface {
	// SearchCollection is the index namespace, normally the table name.
	SearchCollection() string
	// SearchID is the primary key rendered as a string.
	SearchID() string
	// SearchFields lists the field names sent to the index.
	SearchFields() []string
	// SearchValues returns the current value of every field, keyed by name.
	SearchValues() map[string]interface{}
}

// Document is the index-side representation of a Searchable entity.
type Document struct {
	Collection string
	ID         string
	Fields     map[string]interface{}
}

// NewDocument builds the document for s from its declared fields only.
// Incremental sync and reindex both go through here so they write identical documents.
func NewDocument(s Searchable) Document {
	values := s.SearchValues()
	names := s.SearchFields()
	fields := make(map[string]interface{}, len(names))
	for _, name := range names {
		fields[name] = values[name]
	}
	return Document{
		Collection: s.SearchCollection(),
		ID:         s.SearchID(),
		Fields:     fields,
	}
}

// Key identifies a document across collections.
func (d Document) Key() string {
	return d.Collection + "/" + d.ID
}
