package domain

// InstanceState is the lifecycle state of an instance (tenant) aggregate.
type InstanceState int32

const (
	InstanceStateUnspecified InstanceState = iota
	InstanceStateActive
)

// Exists reports whether the instance has been set up.
func (s InstanceState) Exists() bool {
	return s == InstanceStateActive
}
