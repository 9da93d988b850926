package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MockClient is an in-memory Client for tests. It matches documents whose
// string fields contain the expression (case-insensitive), ordered by id,
// unless Results scripts a fixed answer. Failures can be injected per method.
type MockClient struct {
	mu   sync.Mutex
	docs map[string]map[string]map[string]interface{}

	// Results maps an expression to the result Query returns for it.
	Results map[string]*Result

	AddErr    error
	RemoveErr error
	QueryErr  error

	// FailIDs makes Add and Remove fail for these document ids only.
	FailIDs map[string]bool

	AddCalls    int
	RemoveCalls int
	QueryCalls  int
}

// NewMockClient returns an empty mock index.
func NewMockClient() *MockClient {
	return &MockClient{
		docs:    make(map[string]map[string]map[string]interface{}),
		Results: make(map[string]*Result),
		FailIDs: make(map[string]bool),
	}
}

// Add stores a copy of fields.
func (m *MockClient) Add(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCalls++
	if m.AddErr != nil {
		return m.AddErr
	}
	if m.FailIDs[id] {
		return fmt.Errorf("mock add %s/%s failed", collection, id)
	}
	c, ok := m.docs[collection]
	if !ok {
		c = make(map[string]map[string]interface{})
		m.docs[collection] = c
	}
	cp := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	c[id] = cp
	return nil
}

// Remove deletes id; unknown ids are ignored.
func (m *MockClient) Remove(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveCalls++
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	if m.FailIDs[id] {
		return fmt.Errorf("mock remove %s/%s failed", collection, id)
	}
	delete(m.docs[collection], id)
	return nil
}

// Query returns the scripted result for expression, or a substring match.
func (m *MockClient) Query(ctx context.Context, collection, expression string, page, perPage int) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryCalls++
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("invalid page window: page=%d per_page=%d", page, perPage)
	}
	if r, ok := m.Results[expression]; ok {
		return &Result{IDs: append([]string(nil), r.IDs...), Total: r.Total}, nil
	}

	needle := strings.ToLower(expression)
	var ids []string
	for id, fields := range m.docs[collection] {
		for _, v := range fields {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	total := len(ids)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return &Result{IDs: ids[start:end], Total: total}, nil
}

// DeleteCollection drops every document of collection.
func (m *MockClient) DeleteCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, collection)
	return nil
}

// Doc returns the stored fields of id, or nil.
func (m *MockClient) Doc(collection, id string) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[collection][id]
}

// Count returns the number of documents in collection.
func (m *MockClient) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[collection])
}

// DocCount implements Client.
func (m *MockClient) DocCount(ctx context.Context, collection string) (int, error) {
	return m.Count(collection), nil
}

// Close is a no-op.
func (m *MockClient) Close() error {
	return nil
}
