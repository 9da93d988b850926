package searchable

import "testing"

type note struct {
	id    string
	title string
	body  string
}

func (n *note) SearchCollection() string { return "note" }
func (n *note) SearchID() string         { return n.id }
func (n *note) SearchFields() []string   { return []string{"body"} }
func (n *note) SearchValues() map[string]interface{} {
	return map[string]interface{}{"title": n.title, "body": n.body}
}

func TestNewDocument_onlyDeclaredFields(t *testing.T) {
	doc := NewDocument(&note{id: "3", title: "ignored", body: "hello"})
	if doc.Collection != "note" || doc.ID != "3" {
		t.Errorf("got collection=%q id=%q", doc.Collection, doc.ID)
	}
	if len(doc.Fields) != 1 {
		t.Fatalf("expected 1 field, got %v", doc.Fields)
	}
	if doc.Fields["body"] != "hello" {
		t.Errorf("body = %v", doc.Fields["body"])
	}
	if doc.Key() != "note/3" {
		t.Errorf("Key() = %q", doc.Key())
	}
}
