package eventstore

import "time"

// WriteModel is the transient fold of one aggregate's events, built right
// before a command decides. Concrete write models embed it, append the
// queried events and reduce them into their own fields.
//
// Reduce implementations switch on the event type and must leave their
// typed fields untouched for event types they do not know; the embedded
// Reduce still advances version and change date for every event so the
// model stays a valid concurrency anchor.
type WriteModel struct {
	AggregateID   string
	InstanceID    string
	ResourceOwner string

	// ProcessedVersion is the version of the last reduced event, 0 when no
	// event has been reduced.
	ProcessedVersion uint64

	// Position is the global position of the last reduced event.
	Position uint64

	ChangeDate time.Time

	// Events holds appended but not yet reduced events.
	Events []*Event
}

// AppendEvents queues events for the next Reduce.
func (wm *WriteModel) AppendEvents(events ...*Event) {
	wm.Events = append(wm.Events, events...)
}

// Reduce folds the queued events into the base bookkeeping and drains the
// queue. Embedding types call it after handling their own fields.
func (wm *WriteModel) Reduce() error {
	for _, event := range wm.Events {
		if wm.AggregateID == "" {
			wm.AggregateID = event.AggregateID
		}
		if wm.InstanceID == "" {
			wm.InstanceID = event.InstanceID
		}
		if wm.ResourceOwner == "" {
			wm.ResourceOwner = event.ResourceOwner
		}
		wm.ProcessedVersion = event.AggregateVersion
		wm.Position = event.Position
		wm.ChangeDate = event.CreatedAt
	}
	wm.Events = wm.Events[0:0]
	return nil
}
