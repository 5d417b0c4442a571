package eventstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
)

// fakeStorage records pushed commands and serves canned events.
type fakeStorage struct {
	pushed  [][]eventstore.Command
	queried []*eventstore.SearchQueryBuilder
	events  []*eventstore.Event
	pushErr error
}

func (f *fakeStorage) Push(_ context.Context, commands ...eventstore.Command) ([]*eventstore.Event, error) {
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	f.pushed = append(f.pushed, commands)
	events := make([]*eventstore.Event, len(commands))
	for i, cmd := range commands {
		agg := cmd.Aggregate()
		events[i] = &eventstore.Event{
			Position:         uint64(i + 1),
			InstanceID:       agg.InstanceID,
			ResourceOwner:    agg.ResourceOwner,
			AggregateType:    agg.Type,
			AggregateID:      agg.ID,
			AggregateVersion: agg.ExpectedVersion + uint64(i) + 1,
			Type:             cmd.Type(),
			CreatedAt:        time.Now(),
		}
	}
	return events, nil
}

func (f *fakeStorage) Query(_ context.Context, query *eventstore.SearchQueryBuilder) ([]*eventstore.Event, error) {
	f.queried = append(f.queried, query)
	return f.events, nil
}

func (f *fakeStorage) Scan(context.Context, uint64, uint64) ([]*eventstore.Event, error) {
	return f.events, nil
}

func (f *fakeStorage) LatestPosition(context.Context, string) (uint64, error) { return 0, nil }
func (f *fakeStorage) Health(context.Context) error                          { return nil }
func (f *fakeStorage) Close() error                                          { return nil }

type fakePublisher struct {
	published [][]*eventstore.Event
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, events []*eventstore.Event) error {
	f.published = append(f.published, events)
	return f.err
}

func newCmd(agg *eventstore.Aggregate, typ eventstore.EventType) eventstore.Command {
	return eventstore.NewBaseEvent(context.Background(), agg, typ, nil)
}

func TestPushRejectsInvalidCommands(t *testing.T) {
	es := eventstore.New(&fakeStorage{})
	ctx := context.Background()

	_, err := es.Push(ctx)
	assert.True(t, errs.IsInvalidArgument(err))

	_, err = es.Push(ctx, newCmd(eventstore.NewAggregate("", "user", "u1", "org"), "user.added"))
	assert.True(t, errs.IsInvalidArgument(err))

	_, err = es.Push(ctx, newCmd(eventstore.NewAggregate("inst", "", "", "org"), "user.added"))
	assert.True(t, errs.IsInvalidArgument(err))

	_, err = es.Push(ctx, newCmd(eventstore.NewAggregate("inst", "user", "u1", "org"), ""))
	assert.True(t, errs.IsInvalidArgument(err))

	bad := eventstore.NewBaseEvent(ctx, eventstore.NewAggregate("inst", "user", "u1", "org"), "user.added", nil)
	bad.AddConstraints(eventstore.NewClaimConstraint("", ""))
	_, err = es.Push(ctx, bad)
	assert.True(t, errs.IsInvalidArgument(err))
}

func TestPushRefusesCrossAggregateBatch(t *testing.T) {
	es := eventstore.New(&fakeStorage{})
	ctx := context.Background()

	a := eventstore.NewAggregate("inst", "user", "u1", "org")
	b := eventstore.NewAggregate("inst", "user", "u2", "org")

	_, err := es.Push(ctx, newCmd(a, "user.added"), newCmd(b, "user.added"))
	assert.True(t, errs.IsInvalidArgument(err))

	_, err = es.PushMany(ctx, newCmd(a, "user.added"), newCmd(b, "user.added"))
	assert.NoError(t, err)
}

func TestPushPublishesCommittedEvents(t *testing.T) {
	storage := &fakeStorage{}
	publisher := &fakePublisher{}
	es := eventstore.New(storage, eventstore.WithPublisher(publisher))

	agg := eventstore.NewAggregate("inst", "user", "u1", "org")
	events, err := es.Push(context.Background(), newCmd(agg, "user.added"))
	require.NoError(t, err)

	require.Len(t, publisher.published, 1)
	assert.Equal(t, events, publisher.published[0])
}

func TestPublisherErrorDoesNotFailPush(t *testing.T) {
	storage := &fakeStorage{}
	publisher := &fakePublisher{err: errors.New("nats gone")}
	es := eventstore.New(storage, eventstore.WithPublisher(publisher))

	agg := eventstore.NewAggregate("inst", "user", "u1", "org")
	_, err := es.Push(context.Background(), newCmd(agg, "user.added"))
	assert.NoError(t, err)
}

func TestFailedPushPublishesNothing(t *testing.T) {
	storage := &fakeStorage{pushErr: errs.NewConflict(nil, "TEST-confl", "stream moved")}
	publisher := &fakePublisher{}
	es := eventstore.New(storage, eventstore.WithPublisher(publisher))

	agg := eventstore.NewAggregate("inst", "user", "u1", "org")
	_, err := es.Push(context.Background(), newCmd(agg, "user.added"))
	assert.True(t, errs.IsConflict(err))
	assert.Empty(t, publisher.published)
}

func TestQueryRequiresInstance(t *testing.T) {
	es := eventstore.New(&fakeStorage{})

	_, err := es.Query(context.Background(), &eventstore.SearchQueryBuilder{})
	assert.True(t, errs.IsInvalidArgument(err))

	_, err = es.LatestPosition(context.Background(), "")
	assert.True(t, errs.IsInvalidArgument(err))
}

// countingModel counts reduced events and tracks base bookkeeping.
type countingModel struct {
	eventstore.WriteModel
	reduced int
}

func (m *countingModel) Query() *eventstore.SearchQueryBuilder {
	return eventstore.NewSearchQueryBuilder("inst").MatchAggregate("user", "u1")
}

func (m *countingModel) Reduce() error {
	m.reduced += len(m.Events)
	return m.WriteModel.Reduce()
}

func TestQueryToReducer(t *testing.T) {
	now := time.Now()
	storage := &fakeStorage{events: []*eventstore.Event{
		{InstanceID: "inst", AggregateID: "u1", AggregateVersion: 1, Position: 10, Type: "user.added", CreatedAt: now},
		{InstanceID: "inst", AggregateID: "u1", AggregateVersion: 2, Position: 11, Type: "user.locked", CreatedAt: now.Add(time.Second)},
	}}
	es := eventstore.New(storage)

	model := &countingModel{}
	require.NoError(t, es.QueryToReducer(context.Background(), model))

	assert.Equal(t, 2, model.reduced)
	assert.Equal(t, uint64(2), model.ProcessedVersion)
	assert.Equal(t, uint64(11), model.Position)
	assert.Equal(t, "u1", model.AggregateID)
	assert.Empty(t, model.Events)
}
