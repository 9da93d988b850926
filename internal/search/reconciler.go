// Package search turns ranked index hits into ordered pages of stored entities.
package search

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/hyperjump/miniblog/internal/index"
	"github.com/hyperjump/miniblog/internal/metrics"
	"github.com/hyperjump/miniblog/internal/models"
	"github.com/hyperjump/miniblog/internal/searchable"
	"go.uber.org/zap"
)

// ErrInvalidWindow is returned for a page or page size below 1.
var ErrInvalidWindow = errors.New("page and per_page must be at least 1")

// Loader fetches the stored entities for ids in a single lookup.
// Order of the returned slice does not matter; unknown ids are simply absent.
type Loader[T searchable.Searchable] func(ctx context.Context, ids []string) ([]T, error)

// Reconciler queries one index collection and loads the matching rows in
// relevance order.
type Reconciler[T searchable.Searchable] struct {
	client     index.Client
	collection string
	load       Loader[T]
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Reconciler.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the logger used for degraded searches.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records search outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewReconciler creates a reconciler for collection backed by load.
func NewReconciler[T searchable.Searchable](client index.Client, collection string, load Loader[T], opts ...Option) *Reconciler[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Reconciler[T]{
		client:     client,
		collection: collection,
		load:       load,
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

// Search returns page of the rows matching expression, ordered by relevance.
// Total is the index's match count. Rows the index knows but the store does
// not are dropped without adjusting Total. Index or store failures degrade to
// an empty page with a nil error.
func (r *Reconciler[T]) Search(ctx context.Context, expression string, page, perPage int) (*models.Page[T], error) {
	if page < 1 || perPage < 1 {
		return nil, ErrInvalidWindow
	}
	start := time.Now()
	empty := &models.Page[T]{Items: []T{}, Page: page, PerPage: perPage}

	res, err := r.client.Query(ctx, r.collection, expression, page, perPage)
	if err != nil {
		r.logger.Warn("search index query failed",
			zap.String("collection", r.collection),
			zap.String("query", expression),
			zap.Error(err))
		r.metrics.SearchQuery("error", time.Since(start))
		return empty, nil
	}
	if res.Total == 0 || len(res.IDs) == 0 {
		empty.Total = res.Total
		r.metrics.SearchQuery("zero_result", time.Since(start))
		return empty, nil
	}

	rows, err := r.load(ctx, res.IDs)
	if err != nil {
		r.logger.Warn("search row lookup failed",
			zap.String("collection", r.collection),
			zap.Int("ids", len(res.IDs)),
			zap.Error(err))
		r.metrics.SearchQuery("error", time.Since(start))
		return empty, nil
	}

	items := Reorder(rows, res.IDs)
	resultType := "hit"
	if len(items) < len(res.IDs) {
		resultType = "drift"
		r.logger.Debug("search results out of sync with store",
			zap.String("collection", r.collection),
			zap.Int("indexed", len(res.IDs)),
			zap.Int("found", len(items)))
	}
	r.metrics.SearchQuery(resultType, time.Since(start))
	return &models.Page[T]{
		Items:   items,
		Total:   res.Total,
		Page:    page,
		PerPage: perPage,
	}, nil
}

// Reorder sorts rows into the order of ids, dropping rows whose id is not listed.
func Reorder[T searchable.Searchable](rows []T, ids []string) []T {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if _, ok := pos[row.SearchID()]; ok {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return pos[out[i].SearchID()] < pos[out[j].SearchID()]
	})
	return out
}
