// Package instance defines the events of the instance (tenant) aggregate.
package instance

import (
	"context"

	"github.com/authapp/iamcore/pkg/eventstore"
)

const AggregateType eventstore.AggregateType = "instance"

const (
	AddedType         eventstore.EventType = "instance.added"
	DefaultOrgSetType eventstore.EventType = "instance.default.org.set"
)

// NewAggregate addresses an instance stream. The instance owns itself.
func NewAggregate(instanceID string) *eventstore.Aggregate {
	return eventstore.NewAggregate(instanceID, AggregateType, instanceID, instanceID)
}

type AddedPayload struct {
	Name string `json:"name"`
}

func NewAddedEvent(ctx context.Context, agg *eventstore.Aggregate, name string) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, AddedType, &AddedPayload{Name: name})
}

type DefaultOrgSetPayload struct {
	OrgID string `json:"orgId"`
}

func NewDefaultOrgSetEvent(ctx context.Context, agg *eventstore.Aggregate, orgID string) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, DefaultOrgSetType, &DefaultOrgSetPayload{OrgID: orgID})
}
