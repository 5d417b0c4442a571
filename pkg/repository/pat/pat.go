// Package pat defines the events of the personal access token aggregate.
package pat

import (
	"context"
	"time"

	"github.com/authapp/iamcore/pkg/eventstore"
)

const AggregateType eventstore.AggregateType = "pat"

const (
	AddedType   eventstore.EventType = "pat.added"
	RemovedType eventstore.EventType = "pat.removed"
)

// NewAggregate addresses a token stream expected to be empty. Tokens live
// in the org of the user they belong to.
func NewAggregate(instanceID, resourceOwner, id string) *eventstore.Aggregate {
	return eventstore.NewAggregate(instanceID, AggregateType, id, resourceOwner)
}

// AddedPayload records the token's owner, lifetime and granted scopes. The
// signed JWT itself is never stored; it is returned to the caller once.
type AddedPayload struct {
	UserID     string    `json:"userId"`
	Expiration time.Time `json:"expiration"`
	Scopes     []string  `json:"scopes,omitempty"`
}

func NewAddedEvent(ctx context.Context, agg *eventstore.Aggregate, payload *AddedPayload) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, AddedType, payload)
}

func NewRemovedEvent(ctx context.Context, agg *eventstore.Aggregate) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, RemovedType, nil)
}
