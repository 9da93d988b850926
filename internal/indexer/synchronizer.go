// Package indexer mirrors committed changes of searchable entities into the full-text index.
package indexer

import (
	"context"
	"fmt"

	"github.com/hyperjump/miniblog/internal/changes"
	"github.com/hyperjump/miniblog/internal/index"
	"github.com/hyperjump/miniblog/internal/metrics"
	"github.com/hyperjump/miniblog/internal/searchable"
	"go.uber.org/zap"
)

// EachFunc walks every stored row of one searchable type, calling yield for each.
// Returning an error from yield stops the walk.
type EachFunc func(ctx context.Context, yield func(searchable.Searchable) error) error

// Report summarizes one Apply call.
type Report struct {
	Added   int
	Removed int
	Skipped int
	Failed  int
}

// Synchronizer pushes committed change sets to an index.Client.
// Index failures are logged and counted, never returned: the relational
// transaction has already committed when the synchronizer runs.
type Synchronizer struct {
	client  index.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger used for index failures and debug events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithMetrics records index operations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// NewSynchronizer creates a synchronizer writing to client.
func NewSynchronizer(client index.Client, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		client: client,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AfterCommit applies set. It is registered as a storage commit hook.
func (s *Synchronizer) AfterCommit(ctx context.Context, set *changes.Set) {
	r := s.Apply(ctx, set)
	if r.Failed > 0 {
		s.logger.Warn("index sync incomplete",
			zap.Int("added", r.Added),
			zap.Int("removed", r.Removed),
			zap.Int("failed", r.Failed))
		return
	}
	s.logger.Debug("index sync done",
		zap.Int("added", r.Added),
		zap.Int("removed", r.Removed),
		zap.Int("skipped", r.Skipped))
}

type opKind int

const (
	opAdd opKind = iota
	opRemove
)

type pendingOp struct {
	kind opKind
	doc  searchable.Document
}

// Apply mirrors set into the index. Operations are netted per document key:
// added and updated entities become one Add of their current state, and a
// delete replaces any earlier add or update. Entities that are not
// searchable are skipped.
func (s *Synchronizer) Apply(ctx context.Context, set *changes.Set) Report {
	var r Report
	if set.Empty() {
		return r
	}

	ops := make(map[string]*pendingOp)
	var order []string
	record := func(entities []interface{}, kind opKind) {
		for _, e := range entities {
			se, ok := e.(searchable.Searchable)
			if !ok {
				r.Skipped++
				continue
			}
			doc := searchable.NewDocument(se)
			key := doc.Key()
			if op, seen := ops[key]; seen {
				if op.kind != opRemove {
					op.kind = kind
				}
				op.doc = doc
				continue
			}
			ops[key] = &pendingOp{kind: kind, doc: doc}
			order = append(order, key)
		}
	}
	record(set.Added, opAdd)
	record(set.Updated, opAdd)
	record(set.Deleted, opRemove)
	s.metrics.SyncSkipped(r.Skipped)

	for _, key := range order {
		op := ops[key]
		switch op.kind {
		case opAdd:
			if err := s.add(ctx, op.doc); err != nil {
				r.Failed++
				continue
			}
			r.Added++
		case opRemove:
			if err := s.remove(ctx, op.doc); err != nil {
				r.Failed++
				continue
			}
			r.Removed++
		}
	}
	return r
}

func (s *Synchronizer) add(ctx context.Context, doc searchable.Document) error {
	err := s.client.Add(ctx, doc.Collection, doc.ID, preprocessFields(doc.Fields))
	s.metrics.IndexOp("add", err)
	if err != nil {
		s.logger.Warn("index add failed",
			zap.String("collection", doc.Collection),
			zap.String("id", doc.ID),
			zap.Error(err))
	}
	return err
}

func (s *Synchronizer) remove(ctx context.Context, doc searchable.Document) error {
	err := s.client.Remove(ctx, doc.Collection, doc.ID)
	s.metrics.IndexOp("remove", err)
	if err != nil {
		s.logger.Warn("index remove failed",
			zap.String("collection", doc.Collection),
			zap.String("id", doc.ID),
			zap.Error(err))
	}
	return err
}

// Reindex re-adds every row yielded by each into collection and returns the
// number of documents written. Rows belonging to another collection are
// ignored. Walk errors are returned; per-document index failures are logged.
func (s *Synchronizer) Reindex(ctx context.Context, collection string, each EachFunc) (int, error) {
	n := 0
	err := each(ctx, func(e searchable.Searchable) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.SearchCollection() != collection {
			return nil
		}
		if err := s.add(ctx, searchable.NewDocument(e)); err != nil {
			return nil
		}
		n++
		return nil
	})
	s.metrics.Reindexed(collection, n)
	if err != nil {
		return n, fmt.Errorf("reindex %s: %w", collection, err)
	}
	s.logger.Info("reindex complete", zap.String("collection", collection), zap.Int("documents", n))
	return n, nil
}

// DeleteCollection drops every document of collection from the index.
func (s *Synchronizer) DeleteCollection(ctx context.Context, collection string) error {
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", collection, err)
	}
	s.logger.Info("index collection deleted", zap.String("collection", collection))
	return nil
}
