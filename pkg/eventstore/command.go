package eventstore

import (
	"context"

	"github.com/authapp/iamcore/pkg/authz"
)

// Command describes one event to append. The store turns accepted commands
// into Events, assigning versions and positions.
type Command interface {
	// Aggregate addresses the stream and carries the expected version.
	// Commands for the same aggregate in one push share the same pointer.
	Aggregate() *Aggregate

	Type() EventType

	// Payload returns the event data marshaled to JSON, or nil for events
	// without data.
	Payload() any

	Constraints() []*UniqueConstraint

	Creator() string
	CorrelationID() string
}

// BaseEvent implements Command and is embedded by all concrete event types.
type BaseEvent struct {
	agg           *Aggregate
	typ           EventType
	payload       any
	constraints   []*UniqueConstraint
	creator       string
	correlationID string
}

// NewBaseEvent builds the Command core of a concrete event. Creator and
// correlation ID are taken from the caller data in ctx.
func NewBaseEvent(ctx context.Context, agg *Aggregate, typ EventType, payload any) *BaseEvent {
	data := authz.GetCtxData(ctx)
	creator := data.UserID
	if creator == "" {
		creator = "SYSTEM"
	}
	return &BaseEvent{
		agg:           agg,
		typ:           typ,
		payload:       payload,
		creator:       creator,
		correlationID: data.CorrelationID,
	}
}

// AddConstraints registers uniqueness claims or releases to apply with the
// event.
func (e *BaseEvent) AddConstraints(constraints ...*UniqueConstraint) {
	e.constraints = append(e.constraints, constraints...)
}

func (e *BaseEvent) Aggregate() *Aggregate { return e.agg }

func (e *BaseEvent) Type() EventType { return e.typ }

func (e *BaseEvent) Payload() any { return e.payload }

func (e *BaseEvent) Constraints() []*UniqueConstraint { return e.constraints }

func (e *BaseEvent) Creator() string { return e.creator }

func (e *BaseEvent) CorrelationID() string { return e.correlationID }
