package org

import (
	"context"

	"github.com/authapp/iamcore/pkg/eventstore"
)

const (
	AddedType            eventstore.EventType = "org.added"
	ChangedType          eventstore.EventType = "org.changed"
	DeactivatedType      eventstore.EventType = "org.deactivated"
	ReactivatedType      eventstore.EventType = "org.reactivated"
	DomainAddedType      eventstore.EventType = "org.domain.added"
	DomainPrimarySetType eventstore.EventType = "org.domain.primary.set"
	DomainRemovedType    eventstore.EventType = "org.domain.removed"
)

type AddedPayload struct {
	Name string `json:"name"`
}

// NewAddedEvent creates the org and claims its name.
func NewAddedEvent(ctx context.Context, agg *eventstore.Aggregate, name string) *eventstore.BaseEvent {
	event := eventstore.NewBaseEvent(ctx, agg, AddedType, &AddedPayload{Name: name})
	event.AddConstraints(eventstore.NewClaimConstraint(UniqueOrgName, name))
	return event
}

type ChangedPayload struct {
	Name string `json:"name"`
}

// NewChangedEvent renames the org, releasing the old name claim and taking
// the new one in the same push.
func NewChangedEvent(ctx context.Context, agg *eventstore.Aggregate, oldName, newName string) *eventstore.BaseEvent {
	event := eventstore.NewBaseEvent(ctx, agg, ChangedType, &ChangedPayload{Name: newName})
	event.AddConstraints(
		eventstore.NewReleaseConstraint(UniqueOrgName, oldName),
		eventstore.NewClaimConstraint(UniqueOrgName, newName),
	)
	return event
}

func NewDeactivatedEvent(ctx context.Context, agg *eventstore.Aggregate) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, DeactivatedType, nil)
}

func NewReactivatedEvent(ctx context.Context, agg *eventstore.Aggregate) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, ReactivatedType, nil)
}

type DomainAddedPayload struct {
	Domain string `json:"domain"`
}

// NewDomainAddedEvent registers a domain on the org and claims it across
// the instance.
func NewDomainAddedEvent(ctx context.Context, agg *eventstore.Aggregate, domain string) *eventstore.BaseEvent {
	event := eventstore.NewBaseEvent(ctx, agg, DomainAddedType, &DomainAddedPayload{Domain: domain})
	event.AddConstraints(eventstore.NewClaimConstraint(UniqueOrgDomain, domain))
	return event
}

type DomainPrimarySetPayload struct {
	Domain string `json:"domain"`
}

func NewDomainPrimarySetEvent(ctx context.Context, agg *eventstore.Aggregate, domain string) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, DomainPrimarySetType, &DomainPrimarySetPayload{Domain: domain})
}

type DomainRemovedPayload struct {
	Domain string `json:"domain"`
}

func NewDomainRemovedEvent(ctx context.Context, agg *eventstore.Aggregate, domain string) *eventstore.BaseEvent {
	event := eventstore.NewBaseEvent(ctx, agg, DomainRemovedType, &DomainRemovedPayload{Domain: domain})
	event.AddConstraints(eventstore.NewReleaseConstraint(UniqueOrgDomain, domain))
	return event
}
