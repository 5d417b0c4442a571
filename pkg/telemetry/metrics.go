package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/authapp/iamcore/pkg/errs"
)

const instrumentationName = "iamcore"

// Metrics holds the instruments of the core. All record methods are safe
// on a nil receiver, so callers need no enabled check.
type Metrics struct {
	pushDuration    metric.Float64Histogram
	eventsPushed    metric.Int64Counter
	pushErrors      metric.Int64Counter
	eventsPublished metric.Int64Counter
	publishErrors   metric.Int64Counter

	projectionLag      metric.Int64Gauge
	projectionFailures metric.Int64Gauge

	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
}

// NewMetrics creates the core's instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.pushDuration, err = meter.Float64Histogram(
		"iamcore.eventstore.push.duration",
		metric.WithDescription("Push latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating push.duration: %w", err)
	}
	m.eventsPushed, err = meter.Int64Counter(
		"iamcore.eventstore.events.pushed",
		metric.WithDescription("Events committed to the log"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.pushed: %w", err)
	}
	m.pushErrors, err = meter.Int64Counter(
		"iamcore.eventstore.push.errors",
		metric.WithDescription("Failed pushes by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating push.errors: %w", err)
	}
	m.eventsPublished, err = meter.Int64Counter(
		"iamcore.eventbus.events.published",
		metric.WithDescription("Events fanned out to the bus"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.published: %w", err)
	}
	m.publishErrors, err = meter.Int64Counter(
		"iamcore.eventbus.publish.errors",
		metric.WithDescription("Failed bus publishes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating publish.errors: %w", err)
	}
	m.projectionLag, err = meter.Int64Gauge(
		"iamcore.projection.lag",
		metric.WithDescription("Events between the log head and the projection checkpoint"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.lag: %w", err)
	}
	m.projectionFailures, err = meter.Int64Gauge(
		"iamcore.projection.consecutive_failures",
		metric.WithDescription("Consecutive catch-up failures per projection"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.consecutive_failures: %w", err)
	}
	m.cacheHits, err = meter.Int64Counter(
		"iamcore.query.cache.hits",
		metric.WithDescription("Read-side cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache.hits: %w", err)
	}
	m.cacheMisses, err = meter.Int64Counter(
		"iamcore.query.cache.misses",
		metric.WithDescription("Read-side cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache.misses: %w", err)
	}
	return m, nil
}

// RecordPush records one push outcome. Satisfies the event store's
// MetricsRecorder.
func (m *Metrics) RecordPush(ctx context.Context, eventCount int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.pushDuration.Record(ctx, duration.Seconds())
	if err != nil {
		m.pushErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_kind", errs.KindOf(err).String()),
		))
		return
	}
	m.eventsPushed.Add(ctx, int64(eventCount))
}

// RecordPublish records one bus fan-out outcome.
func (m *Metrics) RecordPublish(ctx context.Context, eventCount int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishErrors.Add(ctx, 1)
		return
	}
	m.eventsPublished.Add(ctx, int64(eventCount))
}

// RecordProjectionLag records how many events a projection is behind.
func (m *Metrics) RecordProjectionLag(ctx context.Context, projection string, lag int64) {
	if m == nil {
		return
	}
	m.projectionLag.Record(ctx, lag, metric.WithAttributes(
		attribute.String("projection", projection),
	))
}

// RecordProjectionFailures records a projection's consecutive failures.
func (m *Metrics) RecordProjectionFailures(ctx context.Context, projection string, failures int) {
	if m == nil {
		return
	}
	m.projectionFailures.Record(ctx, int64(failures), metric.WithAttributes(
		attribute.String("projection", projection),
	))
}

// RecordCacheHit counts a read served from the cache.
func (m *Metrics) RecordCacheHit(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCacheMiss counts a read that fell through to the tables.
func (m *Metrics) RecordCacheMiss(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RegisterDBStats exports the connection pool gauges of db under poolName.
// The returned function unregisters them.
func RegisterDBStats(meter metric.Meter, db *sql.DB, poolName string) (func() error, error) {
	open, err := meter.Int64ObservableGauge(
		"iamcore.db.connections.open",
		metric.WithDescription("Open connections in the pool"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating db.connections.open: %w", err)
	}
	inUse, err := meter.Int64ObservableGauge(
		"iamcore.db.connections.in_use",
		metric.WithDescription("Connections currently in use"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating db.connections.in_use: %w", err)
	}
	idle, err := meter.Int64ObservableGauge(
		"iamcore.db.connections.idle",
		metric.WithDescription("Idle connections in the pool"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating db.connections.idle: %w", err)
	}
	waited, err := meter.Int64ObservableGauge(
		"iamcore.db.connections.waited",
		metric.WithDescription("Total waits for a free connection"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating db.connections.waited: %w", err)
	}

	attrs := metric.WithAttributes(attribute.String("pool", poolName))
	registration, err := meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			stats := db.Stats()
			o.ObserveInt64(open, int64(stats.OpenConnections), attrs)
			o.ObserveInt64(inUse, int64(stats.InUse), attrs)
			o.ObserveInt64(idle, int64(stats.Idle), attrs)
			o.ObserveInt64(waited, stats.WaitCount, attrs)
			return nil
		},
		open, inUse, idle, waited,
	)
	if err != nil {
		return nil, fmt.Errorf("registering db stats callback: %w", err)
	}
	return registration.Unregister, nil
}
