package eventstore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/authapp/iamcore/pkg/errs"
)

// Storage persists and retrieves events. Implementations must append a
// push's commands atomically: either every event of the push is persisted
// with its constraints applied, or none is.
type Storage interface {
	Push(ctx context.Context, commands ...Command) ([]*Event, error)
	Query(ctx context.Context, query *SearchQueryBuilder) ([]*Event, error)

	// Scan returns up to limit events across all instances with a position
	// greater than after, in position order. It feeds projection catch-up
	// and is not part of the tenant-facing query surface.
	Scan(ctx context.Context, after, limit uint64) ([]*Event, error)

	LatestPosition(ctx context.Context, instanceID string) (uint64, error)
	Health(ctx context.Context) error
	Close() error
}

// Publisher is notified after events were committed. Publishing is best
// effort; consumers catch up from the log regardless.
type Publisher interface {
	Publish(ctx context.Context, events []*Event) error
}

// MetricsRecorder observes pushes and publishes. Implementations must be
// safe for concurrent use.
type MetricsRecorder interface {
	RecordPush(ctx context.Context, eventCount int, duration time.Duration, err error)
	RecordPublish(ctx context.Context, eventCount int, err error)
}

// Reducer is the query side of a write model or projection fold.
type Reducer interface {
	// Query returns the search matching the events the reducer folds.
	Query() *SearchQueryBuilder

	AppendEvents(events ...*Event)
	Reduce() error
}

// Eventstore is the facade over storage: it validates commands, appends
// them and fans committed events out to the publisher.
type Eventstore struct {
	storage     Storage
	publisher   Publisher
	metrics     MetricsRecorder
	logger      *zap.Logger
	pushTimeout time.Duration
}

// Option configures an Eventstore.
type Option func(*Eventstore)

// WithPublisher fans committed events out to p after each push.
func WithPublisher(p Publisher) Option {
	return func(es *Eventstore) { es.publisher = p }
}

// WithLogger sets the logger, zap.NewNop by default.
func WithLogger(logger *zap.Logger) Option {
	return func(es *Eventstore) { es.logger = logger }
}

// WithMetrics records push and publish outcomes on m.
func WithMetrics(m MetricsRecorder) Option {
	return func(es *Eventstore) { es.metrics = m }
}

// WithPushTimeout bounds the time a single push may take, 0 disables the
// bound.
func WithPushTimeout(d time.Duration) Option {
	return func(es *Eventstore) { es.pushTimeout = d }
}

// New creates an Eventstore on top of storage.
func New(storage Storage, opts ...Option) *Eventstore {
	es := &Eventstore{
		storage: storage,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(es)
	}
	return es
}

// Push appends the commands to a single aggregate's stream atomically and
// returns the persisted events in push order.
func (es *Eventstore) Push(ctx context.Context, commands ...Command) ([]*Event, error) {
	if err := validateCommands(commands); err != nil {
		return nil, err
	}
	first := commands[0].Aggregate()
	for _, cmd := range commands[1:] {
		if cmd.Aggregate() != first {
			return nil, errs.NewInvalidArgument(nil, "EVENT-pd3Qa", "push spans aggregates, use PushMany")
		}
	}
	return es.push(ctx, commands)
}

// PushMany appends commands for any number of aggregates in one atomic
// batch: expected versions are verified per aggregate, and a failure on any
// command persists nothing.
func (es *Eventstore) PushMany(ctx context.Context, commands ...Command) ([]*Event, error) {
	if err := validateCommands(commands); err != nil {
		return nil, err
	}
	return es.push(ctx, commands)
}

func (es *Eventstore) push(ctx context.Context, commands []Command) ([]*Event, error) {
	if es.pushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, es.pushTimeout)
		defer cancel()
	}

	start := time.Now()
	events, err := es.storage.Push(ctx, commands...)
	if es.metrics != nil {
		es.metrics.RecordPush(ctx, len(events), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	if es.publisher != nil {
		err := es.publisher.Publish(ctx, events)
		if es.metrics != nil {
			es.metrics.RecordPublish(ctx, len(events), err)
		}
		if err != nil {
			es.logger.Warn("publishing pushed events failed",
				zap.Error(err),
				zap.Uint64("position", events[len(events)-1].Position))
		}
	}
	return events, nil
}

// Query returns the events matching the search in the requested order.
func (es *Eventstore) Query(ctx context.Context, query *SearchQueryBuilder) ([]*Event, error) {
	if query == nil || query.InstanceID == "" {
		return nil, errs.NewInvalidArgument(nil, "EVENT-za9Zk", "search requires an instance")
	}
	return es.storage.Query(ctx, query)
}

// QueryToReducer loads the events matching the reducer's query and folds
// them into it.
func (es *Eventstore) QueryToReducer(ctx context.Context, r Reducer) error {
	events, err := es.Query(ctx, r.Query())
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	r.AppendEvents(events...)
	return r.Reduce()
}

// Scan returns up to limit events across all instances past the given
// position. Projection handlers use it to catch up; tenant-facing reads go
// through Query.
func (es *Eventstore) Scan(ctx context.Context, after, limit uint64) ([]*Event, error) {
	return es.storage.Scan(ctx, after, limit)
}

// LatestPosition returns the highest committed position of the instance,
// 0 when the instance has no events.
func (es *Eventstore) LatestPosition(ctx context.Context, instanceID string) (uint64, error) {
	if instanceID == "" {
		return 0, errs.NewInvalidArgument(nil, "EVENT-b7Aoq", "instance required")
	}
	return es.storage.LatestPosition(ctx, instanceID)
}

// HeadPosition returns the highest committed position across all
// instances, the reference point for projection lag.
func (es *Eventstore) HeadPosition(ctx context.Context) (uint64, error) {
	return es.storage.LatestPosition(ctx, "")
}

// Health reports whether the underlying storage can serve requests.
func (es *Eventstore) Health(ctx context.Context) error {
	return es.storage.Health(ctx)
}

// Close releases the underlying storage.
func (es *Eventstore) Close() error {
	return es.storage.Close()
}

func validateCommands(commands []Command) error {
	if len(commands) == 0 {
		return errs.NewInvalidArgument(nil, "EVENT-gaW21", "no commands to push")
	}
	for _, cmd := range commands {
		agg := cmd.Aggregate()
		switch {
		case agg == nil:
			return errs.NewInvalidArgument(nil, "EVENT-mq3Ed", "command %s has no aggregate", cmd.Type())
		case agg.InstanceID == "":
			return errs.NewInvalidArgument(nil, "EVENT-wDaj2", "command %s has no instance", cmd.Type())
		case agg.ID == "" || agg.Type == "":
			return errs.NewInvalidArgument(nil, "EVENT-0aRfM", "command %s addresses no stream", cmd.Type())
		case cmd.Type() == "":
			return errs.NewInvalidArgument(nil, "EVENT-qp21x", "command without event type")
		}
		for _, c := range cmd.Constraints() {
			if c.IndexName == "" || c.Value == "" {
				return errs.NewInvalidArgument(nil, "EVENT-tye6N", "command %s carries an empty constraint", cmd.Type())
			}
		}
	}
	return nil
}
