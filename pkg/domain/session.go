package domain

// SessionState is the lifecycle state of a session aggregate.
type SessionState int32

const (
	SessionStateUnspecified SessionState = iota
	SessionStateActive
	SessionStateTerminated
)

// Exists reports whether the session has been created and not terminated.
func (s SessionState) Exists() bool {
	return s == SessionStateActive
}

// PersonalAccessTokenState is the lifecycle state of a PAT aggregate.
type PersonalAccessTokenState int32

const (
	PersonalAccessTokenStateUnspecified PersonalAccessTokenState = iota
	PersonalAccessTokenStateActive
	PersonalAccessTokenStateRemoved
)

// Exists reports whether the token is live.
func (s PersonalAccessTokenState) Exists() bool {
	return s == PersonalAccessTokenStateActive
}
