// Package session defines the events of the session aggregate.
package session

import (
	"context"
	"time"

	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/eventstore"
)

const AggregateType eventstore.AggregateType = "session"

const (
	AddedType       eventstore.EventType = "session.added"
	MetadataSetType eventstore.EventType = "session.metadata.set"
	TerminatedType  eventstore.EventType = "session.terminated"
)

// NewAggregate addresses a session stream expected to be empty. Sessions
// live in the org of the user they authenticate.
func NewAggregate(instanceID, resourceOwner, id string) *eventstore.Aggregate {
	return eventstore.NewAggregate(instanceID, AggregateType, id, resourceOwner)
}

// AddedPayload records which user the session authenticates and the
// encrypted session token handed to that user.
type AddedPayload struct {
	UserID            string              `json:"userId"`
	UserResourceOwner string              `json:"userResourceOwner"`
	Token             *crypto.CryptoValue `json:"token"`
	Lifetime          time.Duration       `json:"lifetime,omitempty"`
}

func NewAddedEvent(ctx context.Context, agg *eventstore.Aggregate, payload *AddedPayload) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, AddedType, payload)
}

type MetadataSetPayload struct {
	Metadata map[string]string `json:"metadata"`
}

func NewMetadataSetEvent(ctx context.Context, agg *eventstore.Aggregate, metadata map[string]string) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, MetadataSetType, &MetadataSetPayload{Metadata: metadata})
}

func NewTerminatedEvent(ctx context.Context, agg *eventstore.Aggregate) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, TerminatedType, nil)
}
