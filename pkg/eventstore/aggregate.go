package eventstore

// Aggregate addresses one event stream. It travels with every command so the
// store knows which stream to append to and which version the caller last
// observed.
type Aggregate struct {
	ID            string
	Type          AggregateType
	InstanceID    string
	ResourceOwner string

	// ExpectedVersion is the aggregate version the caller based its decision
	// on: 0 for streams expected to be empty. Push refuses with a Conflict
	// error when the stream has moved past it.
	ExpectedVersion uint64
}

// NewAggregate addresses a stream expected to be empty, used by commands
// that create the aggregate.
func NewAggregate(instanceID string, typ AggregateType, id, resourceOwner string) *Aggregate {
	return &Aggregate{
		ID:            id,
		Type:          typ,
		InstanceID:    instanceID,
		ResourceOwner: resourceOwner,
	}
}

// AggregateFromWriteModel anchors a command on the state a write model
// observed: same stream, expected version the model processed.
func AggregateFromWriteModel(wm *WriteModel, typ AggregateType) *Aggregate {
	return &Aggregate{
		ID:              wm.AggregateID,
		Type:            typ,
		InstanceID:      wm.InstanceID,
		ResourceOwner:   wm.ResourceOwner,
		ExpectedVersion: wm.ProcessedVersion,
	}
}
