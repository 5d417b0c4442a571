// Package domain holds the value types shared between the write and read
// sides of the IAM core: object write receipts, aggregate state machines and
// validated field types. It depends on nothing but the error kinds.
package domain

import "time"

// ObjectDetails is the write receipt returned from every successful command.
// Callers use it to prove a write happened without re-reading state.
type ObjectDetails struct {
	// Version is the aggregate version after the last event of the command.
	Version uint64
	// EventDate is the creation time of that event.
	EventDate time.Time
	// ResourceOwner is the organization owning the aggregate.
	ResourceOwner string
	// ID is set on creation commands so callers learn the generated ID.
	ID string
	// Position is the global event-log position of the last event, usable
	// with projection wait helpers for read-your-write flows.
	Position uint64
}
