package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// BleveClient implements Client with one Bleve index per collection.
// With an empty root the indexes live in memory only.
type BleveClient struct {
	root   string
	logger *zap.Logger

	mu          sync.RWMutex
	collections map[string]bleve.Index

	queries singleflight.Group

	// generations counts completed writes per collection. It is part of the
	// query sharing key so a query started after a write never joins a
	// search that began before it.
	genMu       sync.Mutex
	generations map[string]uint64

	// beforeSearch runs ahead of every index search when set. Tests use it.
	beforeSearch func()
}

// BleveOption configures a BleveClient.
type BleveOption func(*BleveClient)

// WithLogger sets a logger for collection open/drop events.
func WithLogger(l *zap.Logger) BleveOption {
	return func(c *BleveClient) { c.logger = l }
}

// NewBleveClient creates a client storing collections under root.
// Existing collection directories are opened lazily and reused, so documents
// indexed by a previous run stay searchable.
func NewBleveClient(root string, opts ...BleveOption) (*BleveClient, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}
	c := &BleveClient{
		root:        root,
		logger:      zap.NewNop(),
		collections: make(map[string]bleve.Index),
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewMemoryClient returns a client whose collections are never written to disk.
func NewMemoryClient() *BleveClient {
	c, _ := NewBleveClient("")
	return c
}

func newIndexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so "hello" matches "Hello," exactly.
	im.DefaultAnalyzer = standard.Name
	return im
}

func (c *BleveClient) generation(collection string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.generations[collection]
}

func (c *BleveClient) bump(collection string) {
	c.genMu.Lock()
	c.generations[collection]++
	c.genMu.Unlock()
}

func validCollection(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// collection returns the open index for name, creating it when create is true.
// A nil index with nil error means the collection does not exist.
func (c *BleveClient) collection(name string, create bool) (bleve.Index, error) {
	if !validCollection(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	c.mu.RLock()
	idx, ok := c.collections[name]
	c.mu.RUnlock()
	if ok {
		return idx, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.collections[name]; ok {
		return idx, nil
	}

	if c.root == "" {
		if !create {
			return nil, nil
		}
		idx, err := bleve.NewMemOnly(newIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index %s: %w", name, err)
		}
		c.collections[name] = idx
		return idx, nil
	}

	path := filepath.Join(c.root, name)
	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open Bleve index %s: %w", name, err)
		}
		c.collections[name] = idx
		c.logger.Debug("index collection opened", zap.String("collection", name), zap.String("path", path))
		return idx, nil
	}
	if !create {
		return nil, nil
	}
	idx, err := bleve.New(path, newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index %s: %w", name, err)
	}
	c.collections[name] = idx
	c.logger.Debug("index collection created", zap.String("collection", name), zap.String("path", path))
	return idx, nil
}

// Add indexes fields under id, overwriting any previous document with that id.
func (c *BleveClient) Add(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	idx, err := c.collection(collection, true)
	if err != nil {
		return err
	}
	err = idx.Index(id, fields)
	c.bump(collection)
	if err != nil {
		return fmt.Errorf("Bleve index %s/%s failed: %w", collection, id, err)
	}
	return nil
}

// Remove deletes id from collection. Unknown ids and collections are ignored.
func (c *BleveClient) Remove(ctx context.Context, collection, id string) error {
	idx, err := c.collection(collection, false)
	if err != nil {
		return err
	}
	if idx == nil {
		return nil
	}
	err = idx.Delete(id)
	c.bump(collection)
	if err != nil {
		return fmt.Errorf("Bleve delete %s/%s failed: %w", collection, id, err)
	}
	return nil
}

// Query runs a match query over every indexed field and returns the requested page.
// Concurrent identical queries share one index search unless a write to the
// collection completed in between.
func (c *BleveClient) Query(ctx context.Context, collection, expression string, page, perPage int) (*Result, error) {
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("invalid page window: page=%d per_page=%d", page, perPage)
	}
	key := collection + "\x00" + strconv.FormatUint(c.generation(collection), 10) +
		"\x00" + expression + "\x00" + strconv.Itoa(page) + "\x00" + strconv.Itoa(perPage)
	v, err, _ := c.queries.Do(key, func() (interface{}, error) {
		return c.query(collection, expression, page, perPage)
	})
	if err != nil {
		return nil, err
	}
	shared := v.(*Result)
	return &Result{IDs: append([]string(nil), shared.IDs...), Total: shared.Total}, nil
}

func (c *BleveClient) query(collection, expression string, page, perPage int) (*Result, error) {
	idx, err := c.collection(collection, false)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return &Result{}, nil
	}
	if c.beforeSearch != nil {
		c.beforeSearch()
	}
	q := bleve.NewMatchQuery(expression)
	req := bleve.NewSearchRequestOptions(q, perPage, (page-1)*perPage, false)
	results, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	ids := make([]string, len(results.Hits))
	for i, hit := range results.Hits {
		ids[i] = hit.ID
	}
	return &Result{IDs: ids, Total: int(results.Total)}, nil
}

// DeleteCollection closes the collection's index and removes its files.
func (c *BleveClient) DeleteCollection(ctx context.Context, collection string) error {
	if !validCollection(collection) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	defer c.bump(collection)
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.collections[collection]; ok {
		delete(c.collections, collection)
		if err := idx.Close(); err != nil {
			return fmt.Errorf("failed to close Bleve index %s: %w", collection, err)
		}
	}
	if c.root != "" {
		if err := os.RemoveAll(filepath.Join(c.root, collection)); err != nil {
			return fmt.Errorf("failed to remove Bleve index %s: %w", collection, err)
		}
	}
	c.logger.Info("index collection deleted", zap.String("collection", collection))
	return nil
}

// DocCount returns the number of documents in collection.
func (c *BleveClient) DocCount(ctx context.Context, collection string) (int, error) {
	idx, err := c.collection(collection, false)
	if err != nil || idx == nil {
		return 0, err
	}
	n, err := idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("Bleve count %s failed: %w", collection, err)
	}
	return int(n), nil
}

// Close closes every open collection.
func (c *BleveClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for name, idx := range c.collections {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close Bleve index %s: %w", name, err)
		}
		delete(c.collections, name)
	}
	return firstErr
}
