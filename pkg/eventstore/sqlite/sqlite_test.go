package sqlite_test

import (
	"context"
	"sync"
	"testing"

	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/eventstore/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(sqlite.WithMemoryDatabase())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newCmd(agg *eventstore.Aggregate, typ string, payload any, constraints ...*eventstore.UniqueConstraint) eventstore.Command {
	e := eventstore.NewBaseEvent(context.Background(), agg, eventstore.EventType(typ), payload)
	e.AddConstraints(constraints...)
	return e
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("PushAssignsGaplessVersionsAndPositions", func(t *testing.T) {
		store := newStore(t)
		agg := eventstore.NewAggregate("inst-1", "user", "user-1", "org-1")

		events, err := store.Push(ctx,
			newCmd(agg, "user.added", map[string]string{"username": "alice"}),
			newCmd(agg, "user.profile.changed", map[string]string{"firstName": "Alice"}),
			newCmd(agg, "user.deactivated", nil),
		)
		if err != nil {
			t.Fatalf("push failed: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(events))
		}
		for i, event := range events {
			if event.AggregateVersion != uint64(i+1) {
				t.Errorf("event %d: version %d, want %d", i, event.AggregateVersion, i+1)
			}
			if i > 0 && events[i].Position <= events[i-1].Position {
				t.Errorf("positions not increasing: %d then %d", events[i-1].Position, events[i].Position)
			}
			if event.Creator != "SYSTEM" {
				t.Errorf("event %d: creator %q, want SYSTEM", i, event.Creator)
			}
		}
		if events[2].Payload != nil {
			t.Errorf("expected nil payload, got %s", events[2].Payload)
		}

		loaded, err := store.Query(ctx, eventstore.NewSearchQueryBuilder("inst-1").MatchAggregate("user", "user-1"))
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(loaded) != 3 {
			t.Fatalf("expected 3 stored events, got %d", len(loaded))
		}
		var payload struct {
			Username string `json:"username"`
		}
		if err := loaded[0].UnmarshalPayload(&payload); err != nil {
			t.Fatalf("payload decode failed: %v", err)
		}
		if payload.Username != "alice" {
			t.Errorf("payload username %q, want alice", payload.Username)
		}
	})

	t.Run("StaleExpectedVersionConflicts", func(t *testing.T) {
		store := newStore(t)
		agg := eventstore.NewAggregate("inst-1", "user", "user-2", "org-1")

		if _, err := store.Push(ctx, newCmd(agg, "user.added", nil)); err != nil {
			t.Fatalf("first push failed: %v", err)
		}

		stale := eventstore.NewAggregate("inst-1", "user", "user-2", "org-1")
		_, err := store.Push(ctx, newCmd(stale, "user.deactivated", nil))
		if !errs.IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}

		current := eventstore.NewAggregate("inst-1", "user", "user-2", "org-1")
		current.ExpectedVersion = 1
		if _, err := store.Push(ctx, newCmd(current, "user.deactivated", nil)); err != nil {
			t.Fatalf("push with fresh anchor failed: %v", err)
		}
	})

	t.Run("SingleWinnerUnderConcurrency", func(t *testing.T) {
		store := newStore(t)

		if _, err := store.Push(ctx, newCmd(eventstore.NewAggregate("inst-1", "user", "user-3", "org-1"), "user.added", nil)); err != nil {
			t.Fatalf("setup push failed: %v", err)
		}

		var wg sync.WaitGroup
		results := make([]error, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				agg := eventstore.NewAggregate("inst-1", "user", "user-3", "org-1")
				agg.ExpectedVersion = 1
				_, err := store.Push(ctx, newCmd(agg, "user.email.changed", map[string]string{"email": "a@example.com"}))
				results[i] = err
			}(i)
		}
		wg.Wait()

		var wins, conflicts int
		for _, err := range results {
			switch {
			case err == nil:
				wins++
			case errs.IsConflict(err):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if wins != 1 || conflicts != 1 {
			t.Fatalf("expected exactly one winner and one conflict, got %d wins, %d conflicts", wins, conflicts)
		}

		events, err := store.Query(ctx, eventstore.NewSearchQueryBuilder("inst-1").MatchAggregate("user", "user-3"))
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("expected 2 events after race, got %d", len(events))
		}
		if events[1].AggregateVersion != 2 {
			t.Errorf("winner got version %d, want 2", events[1].AggregateVersion)
		}
	})

	t.Run("BatchIsAtomic", func(t *testing.T) {
		store := newStore(t)

		holder := eventstore.NewAggregate("inst-1", "user", "user-4", "org-1")
		if _, err := store.Push(ctx, newCmd(holder, "user.added", nil,
			eventstore.NewClaimConstraint("usernames", "taken"))); err != nil {
			t.Fatalf("setup push failed: %v", err)
		}

		first := eventstore.NewAggregate("inst-1", "user", "user-5", "org-1")
		second := eventstore.NewAggregate("inst-1", "user", "user-6", "org-1")
		_, err := store.Push(ctx,
			newCmd(first, "user.added", nil, eventstore.NewClaimConstraint("usernames", "free")),
			newCmd(second, "user.added", nil, eventstore.NewClaimConstraint("usernames", "taken")),
		)
		if !errs.IsAlreadyExists(err) {
			t.Fatalf("expected already-exists, got %v", err)
		}

		events, err := store.Query(ctx, eventstore.NewSearchQueryBuilder("inst-1").MatchAggregate("user", "user-5"))
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(events) != 0 {
			t.Fatalf("failed batch leaked %d events", len(events))
		}

		// The claim of the failed batch must not stick either.
		free := eventstore.NewAggregate("inst-1", "user", "user-7", "org-1")
		if _, err := store.Push(ctx, newCmd(free, "user.added", nil,
			eventstore.NewClaimConstraint("usernames", "free"))); err != nil {
			t.Fatalf("claim after failed batch should succeed: %v", err)
		}
	})

	t.Run("ClaimReleaseCycle", func(t *testing.T) {
		store := newStore(t)

		agg := eventstore.NewAggregate("inst-1", "user", "user-8", "org-1")
		if _, err := store.Push(ctx, newCmd(agg, "user.added", nil,
			eventstore.NewClaimConstraint("usernames", "cycle"))); err != nil {
			t.Fatalf("claim failed: %v", err)
		}

		other := eventstore.NewAggregate("inst-1", "user", "user-9", "org-1")
		_, err := store.Push(ctx, newCmd(other, "user.added", nil,
			eventstore.NewClaimConstraint("usernames", "cycle")))
		if !errs.IsAlreadyExists(err) {
			t.Fatalf("expected already-exists, got %v", err)
		}

		agg.ExpectedVersion = 1
		if _, err := store.Push(ctx, newCmd(agg, "user.removed", nil,
			eventstore.NewReleaseConstraint("usernames", "cycle"))); err != nil {
			t.Fatalf("release failed: %v", err)
		}

		if _, err := store.Push(ctx, newCmd(other, "user.added", nil,
			eventstore.NewClaimConstraint("usernames", "cycle"))); err != nil {
			t.Fatalf("claim after release failed: %v", err)
		}
	})

	t.Run("InstancesAreIsolated", func(t *testing.T) {
		store := newStore(t)

		a := eventstore.NewAggregate("inst-a", "user", "shared-id", "org-1")
		b := eventstore.NewAggregate("inst-b", "user", "shared-id", "org-1")
		if _, err := store.Push(ctx,
			newCmd(a, "user.added", nil, eventstore.NewClaimConstraint("usernames", "dup")),
		); err != nil {
			t.Fatalf("push instance a: %v", err)
		}
		// Same aggregate ID and same claimed value in another instance.
		if _, err := store.Push(ctx,
			newCmd(b, "user.added", nil, eventstore.NewClaimConstraint("usernames", "dup")),
		); err != nil {
			t.Fatalf("push instance b: %v", err)
		}

		events, err := store.Query(ctx, eventstore.NewSearchQueryBuilder("inst-a"))
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		for _, event := range events {
			if event.InstanceID != "inst-a" {
				t.Errorf("instance leak: got event of %s", event.InstanceID)
			}
		}

		posA, err := store.LatestPosition(ctx, "inst-a")
		if err != nil {
			t.Fatalf("latest position: %v", err)
		}
		posB, err := store.LatestPosition(ctx, "inst-b")
		if err != nil {
			t.Fatalf("latest position: %v", err)
		}
		if posA == 0 || posB == 0 || posA == posB {
			t.Errorf("positions not per instance: a=%d b=%d", posA, posB)
		}
	})

	t.Run("QueryFilters", func(t *testing.T) {
		store := newStore(t)

		user := eventstore.NewAggregate("inst-1", "user", "user-10", "org-1")
		org := eventstore.NewAggregate("inst-1", "org", "org-2", "org-2")
		if _, err := store.Push(ctx,
			newCmd(user, "user.added", nil),
			newCmd(user, "user.email.changed", nil),
			newCmd(org, "org.added", nil),
		); err != nil {
			t.Fatalf("setup push failed: %v", err)
		}

		byType, err := store.Query(ctx, &eventstore.SearchQueryBuilder{
			InstanceID: "inst-1",
			Queries: []*eventstore.SearchQuery{
				{EventTypes: []eventstore.EventType{"user.added", "org.added"}},
			},
		})
		if err != nil {
			t.Fatalf("query by event type failed: %v", err)
		}
		if len(byType) != 2 {
			t.Fatalf("expected 2 events by type, got %d", len(byType))
		}

		orLegs, err := store.Query(ctx, &eventstore.SearchQueryBuilder{
			InstanceID: "inst-1",
			Queries: []*eventstore.SearchQuery{
				{AggregateTypes: []eventstore.AggregateType{"user"}},
				{AggregateTypes: []eventstore.AggregateType{"org"}},
			},
		})
		if err != nil {
			t.Fatalf("query with OR legs failed: %v", err)
		}
		if len(orLegs) != 3 {
			t.Fatalf("expected 3 events from OR legs, got %d", len(orLegs))
		}

		owned, err := store.Query(ctx, &eventstore.SearchQueryBuilder{
			InstanceID:    "inst-1",
			ResourceOwner: "org-2",
		})
		if err != nil {
			t.Fatalf("query by owner failed: %v", err)
		}
		if len(owned) != 1 || owned[0].AggregateType != "org" {
			t.Fatalf("owner filter returned wrong events: %+v", owned)
		}

		after, err := store.Query(ctx, &eventstore.SearchQueryBuilder{
			InstanceID:    "inst-1",
			PositionAfter: byType[0].Position,
			Limit:         1,
		})
		if err != nil {
			t.Fatalf("query after position failed: %v", err)
		}
		if len(after) != 1 || after[0].Position <= byType[0].Position {
			t.Fatalf("position filter returned wrong events: %+v", after)
		}

		desc, err := store.Query(ctx, &eventstore.SearchQueryBuilder{
			InstanceID: "inst-1",
			Desc:       true,
			Limit:      1,
		})
		if err != nil {
			t.Fatalf("descending query failed: %v", err)
		}
		if len(desc) != 1 || desc[0].Type != "org.added" {
			t.Fatalf("descending query returned wrong event: %+v", desc)
		}
	})

	t.Run("RebuildConstraintsFromLog", func(t *testing.T) {
		store := newStore(t)

		agg := eventstore.NewAggregate("inst-1", "user", "user-11", "org-1")
		if _, err := store.Push(ctx, newCmd(agg, "user.added", nil,
			eventstore.NewClaimConstraint("usernames", "rebuild-me"))); err != nil {
			t.Fatalf("claim failed: %v", err)
		}

		// Diverge the index from the log, then restore it.
		if _, err := store.DB().Exec("DELETE FROM unique_constraints"); err != nil {
			t.Fatalf("corrupting index failed: %v", err)
		}
		if err := store.RebuildConstraints(ctx); err != nil {
			t.Fatalf("rebuild failed: %v", err)
		}

		other := eventstore.NewAggregate("inst-1", "user", "user-12", "org-1")
		_, err := store.Push(ctx, newCmd(other, "user.added", nil,
			eventstore.NewClaimConstraint("usernames", "rebuild-me")))
		if !errs.IsAlreadyExists(err) {
			t.Fatalf("expected already-exists after rebuild, got %v", err)
		}
	})

	t.Run("Health", func(t *testing.T) {
		store := newStore(t)
		if err := store.Health(ctx); err != nil {
			t.Fatalf("health failed: %v", err)
		}
	})
}
