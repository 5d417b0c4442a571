package eventstore

// SearchQueryBuilder filters events of one instance. Queries are combined
// with OR; all other fields restrict the combined result.
type SearchQueryBuilder struct {
	// InstanceID scopes the search. Required.
	InstanceID string

	// ResourceOwner restricts to one org when set.
	ResourceOwner string

	// PositionAfter restricts to events with a global position greater than
	// the given one. Used by projections to resume at their checkpoint.
	PositionAfter uint64

	// Limit caps the number of returned events, 0 means no cap.
	Limit uint64

	// Desc returns events in descending position order. Default is ascending.
	Desc bool

	// Queries are the OR'd stream filters. Empty matches all events of the
	// instance.
	Queries []*SearchQuery
}

// SearchQuery is one stream filter leg. Empty fields match everything.
type SearchQuery struct {
	AggregateTypes []AggregateType
	AggregateIDs   []string
	EventTypes     []EventType
}

// NewSearchQueryBuilder starts a search over one instance.
func NewSearchQueryBuilder(instanceID string) *SearchQueryBuilder {
	return &SearchQueryBuilder{InstanceID: instanceID}
}

// AddQuery appends an OR leg and returns it for further restriction.
func (b *SearchQueryBuilder) AddQuery() *SearchQuery {
	q := &SearchQuery{}
	b.Queries = append(b.Queries, q)
	return q
}

// MatchAggregate is shorthand for the common single-stream query.
func (b *SearchQueryBuilder) MatchAggregate(typ AggregateType, id string) *SearchQueryBuilder {
	q := b.AddQuery()
	q.AggregateTypes = []AggregateType{typ}
	q.AggregateIDs = []string{id}
	return b
}
