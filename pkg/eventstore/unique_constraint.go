package eventstore

// ConstraintOperation defines operations on unique values.
type ConstraintOperation string

const (
	// ConstraintClaim claims a unique value for the event's aggregate.
	ConstraintClaim ConstraintOperation = "claim"

	// ConstraintRelease releases a previously claimed value.
	ConstraintRelease ConstraintOperation = "release"
)

// UniqueConstraint is a uniqueness claim or release applied atomically with
// the event carrying it. Claims on an already taken value fail the whole
// push with an AlreadyExists error.
type UniqueConstraint struct {
	// IndexName names the uniqueness scope, e.g. "usernames".
	IndexName string

	// Value is the value being claimed or released. Callers normalize it
	// before claiming; the store compares byte-wise.
	Value string

	Operation ConstraintOperation
}

// NewClaimConstraint claims value within the named index.
func NewClaimConstraint(indexName, value string) *UniqueConstraint {
	return &UniqueConstraint{IndexName: indexName, Value: value, Operation: ConstraintClaim}
}

// NewReleaseConstraint releases value within the named index.
func NewReleaseConstraint(indexName, value string) *UniqueConstraint {
	return &UniqueConstraint{IndexName: indexName, Value: value, Operation: ConstraintRelease}
}
