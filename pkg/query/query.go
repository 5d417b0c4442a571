// Package query is the read side: typed accessors over the projection
// tables, behind a best-effort cache. Reads never touch the event log;
// they see what the projections have folded so far and are eventually
// consistent with the command side.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/cache"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/projection"
)

const (
	defaultCacheTTL   = 5 * time.Second
	defaultSearchSize = 100
	maxSearchSize     = 1000
)

// MetricsRecorder counts cache outcomes on by-ID lookups.
type MetricsRecorder interface {
	RecordCacheHit(ctx context.Context, kind string)
	RecordCacheMiss(ctx context.Context, kind string)
}

// Queries bundles the read operations of all aggregates.
type Queries struct {
	es      *eventstore.Eventstore
	db      *sql.DB
	cache   cache.Cache
	ttl     time.Duration
	checker authz.Checker
	metrics MetricsRecorder
	logger  *zap.Logger
}

// Option configures Queries.
type Option func(*Queries)

// WithCache puts a cache in front of the by-ID lookups. Entries expire by
// TTL; within it, reads may trail the projection tables.
func WithCache(c cache.Cache) Option {
	return func(q *Queries) { q.cache = c }
}

// WithCacheTTL bounds the staleness window of cached rows.
func WithCacheTTL(ttl time.Duration) Option {
	return func(q *Queries) { q.ttl = ttl }
}

// WithPermissionChecker sets the checker consulted by every read.
func WithPermissionChecker(checker authz.Checker) Option {
	return func(q *Queries) { q.checker = checker }
}

// WithLogger sets the logger, zap.NewNop by default.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queries) { q.logger = logger }
}

// WithMetrics records cache outcomes on m.
func WithMetrics(m MetricsRecorder) Option {
	return func(q *Queries) { q.metrics = m }
}

// New creates the query side over the projection database.
func New(es *eventstore.Eventstore, db *sql.DB, opts ...Option) *Queries {
	q := &Queries{
		es:      es,
		db:      db,
		ttl:     defaultCacheTTL,
		checker: authz.NewDefaultChecker(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Projections returns one instance of every read projection, ready to be
// registered on a projection manager.
func Projections() []projection.Projection {
	return []projection.Projection{
		NewUsersProjection(),
		NewOrgsProjection(),
		NewSessionsProjection(),
		NewPersonalAccessTokensProjection(),
	}
}

// Health reports whether the projection database and the event log are
// reachable.
func (q *Queries) Health(ctx context.Context) error {
	if err := q.db.PingContext(ctx); err != nil {
		return errs.NewInternal(err, "QUERY-pd3Fh", "projection database unreachable")
	}
	return q.es.Health(ctx)
}

// cacheGet loads a cached row, a miss when no cache is configured.
func cacheGet[T any](ctx context.Context, q *Queries, kind, instanceID, id string) (T, bool) {
	var zero T
	if q.cache == nil {
		return zero, false
	}
	value, hit := cache.GetJSON[T](ctx, q.cache, cacheKey(kind, instanceID, id))
	if q.metrics != nil {
		if hit {
			q.metrics.RecordCacheHit(ctx, kind)
		} else {
			q.metrics.RecordCacheMiss(ctx, kind)
		}
	}
	return value, hit
}

func (q *Queries) cacheSet(ctx context.Context, kind, instanceID, id string, row any) {
	if q.cache == nil {
		return
	}
	cache.SetJSON(ctx, q.cache, cacheKey(kind, instanceID, id), row, q.ttl)
}

func cacheKey(kind, instanceID, id string) string {
	return fmt.Sprintf("query:%s:%s:%s", kind, instanceID, id)
}

func searchLimit(limit uint64) uint64 {
	switch {
	case limit == 0:
		return defaultSearchSize
	case limit > maxSearchSize:
		return maxSearchSize
	default:
		return limit
	}
}
