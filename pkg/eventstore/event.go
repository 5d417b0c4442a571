// Package eventstore provides the append-only event log every write in the
// system goes through. Events are immutable facts scoped to an instance;
// aggregates order their events with gapless versions starting at 1, and the
// store orders all events of an instance by a global position.
package eventstore

import (
	"encoding/json"
	"time"

	"github.com/authapp/iamcore/pkg/errs"
)

// EventType identifies what happened, e.g. "user.added".
type EventType string

// AggregateType groups aggregates of the same kind, e.g. "user".
type AggregateType string

// Event is a persisted domain event. Events are never updated or deleted.
type Event struct {
	// Position is the global insert order within the store. Assigned on push.
	Position uint64

	// InstanceID scopes the event to one tenant.
	InstanceID string

	// ResourceOwner is the org the aggregate belongs to.
	ResourceOwner string

	AggregateType AggregateType
	AggregateID   string

	// AggregateVersion is the version of the aggregate after this event.
	// Versions are gapless and start at 1.
	AggregateVersion uint64

	Type EventType

	// Payload is the JSON encoded event data, nil for events without data.
	Payload []byte

	// Constraints are the uniqueness claims and releases applied atomically
	// with this event. Stored with the event so the constraint index can be
	// rebuilt from the log.
	Constraints []*UniqueConstraint

	// Creator is the user or service that caused the event.
	Creator string

	// CorrelationID ties the events of one command execution together.
	CorrelationID string

	CreatedAt time.Time
}

// UnmarshalPayload decodes the event payload into ptr.
func (e *Event) UnmarshalPayload(ptr any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, ptr); err != nil {
		return errs.NewInternal(err, "EVENT-so9xA", "unable to decode payload of %s at version %d", e.Type, e.AggregateVersion)
	}
	return nil
}
