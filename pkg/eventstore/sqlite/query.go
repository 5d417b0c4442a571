package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
)

const eventColumns = `position, instance_id, resource_owner, aggregate_type, aggregate_id,
	aggregate_version, event_type, payload, constraints, creator, correlation_id, created_at`

// Query returns the events matching the search, ordered by position.
func (s *Store) Query(ctx context.Context, query *eventstore.SearchQueryBuilder) ([]*eventstore.Event, error) {
	if query == nil || query.InstanceID == "" {
		return nil, errs.NewInvalidArgument(nil, "SQLIT-ks2Qa", "search requires an instance")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(eventColumns)
	sb.WriteString(" FROM events WHERE instance_id = ?")
	args := []any{query.InstanceID}

	if query.ResourceOwner != "" {
		sb.WriteString(" AND resource_owner = ?")
		args = append(args, query.ResourceOwner)
	}
	if query.PositionAfter > 0 {
		sb.WriteString(" AND position > ?")
		args = append(args, int64(query.PositionAfter))
	}
	if len(query.Queries) > 0 {
		legs := make([]string, 0, len(query.Queries))
		for _, q := range query.Queries {
			leg, legArgs := buildQueryLeg(q)
			legs = append(legs, leg)
			args = append(args, legArgs...)
		}
		sb.WriteString(" AND (")
		sb.WriteString(strings.Join(legs, " OR "))
		sb.WriteString(")")
	}

	sb.WriteString(" ORDER BY position")
	if query.Desc {
		sb.WriteString(" DESC")
	}
	if query.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, int64(query.Limit))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errs.NewInternal(err, "SQLIT-eh6Mw", "query events")
	}
	defer rows.Close()

	var events []*eventstore.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewInternal(err, "SQLIT-ra8Bn", "iterate events")
	}
	return events, nil
}

// Scan returns up to limit events of all instances past the given position.
func (s *Store) Scan(ctx context.Context, after, limit uint64) ([]*eventstore.Event, error) {
	if limit == 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE position > ? ORDER BY position LIMIT ?",
		int64(after), int64(limit),
	)
	if err != nil {
		return nil, errs.NewInternal(err, "SQLIT-kt5Xn", "scan events")
	}
	defer rows.Close()

	var events []*eventstore.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewInternal(err, "SQLIT-nm1Qd", "iterate scanned events")
	}
	return events, nil
}

// buildQueryLeg renders one OR leg of the search. Empty legs match every
// event of the instance.
func buildQueryLeg(q *eventstore.SearchQuery) (string, []any) {
	var conds []string
	var args []any

	if len(q.AggregateTypes) > 0 {
		conds = append(conds, "aggregate_type IN ("+placeholders(len(q.AggregateTypes))+")")
		for _, t := range q.AggregateTypes {
			args = append(args, string(t))
		}
	}
	if len(q.AggregateIDs) > 0 {
		conds = append(conds, "aggregate_id IN ("+placeholders(len(q.AggregateIDs))+")")
		for _, id := range q.AggregateIDs {
			args = append(args, id)
		}
	}
	if len(q.EventTypes) > 0 {
		conds = append(conds, "event_type IN ("+placeholders(len(q.EventTypes))+")")
		for _, t := range q.EventTypes {
			args = append(args, string(t))
		}
	}
	if len(conds) == 0 {
		return "(1 = 1)", nil
	}
	return "(" + strings.Join(conds, " AND ") + ")", args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanEvent(rows *sql.Rows) (*eventstore.Event, error) {
	var (
		position         int64
		instanceID       string
		resourceOwner    string
		aggregateType    string
		aggregateID      string
		aggregateVersion int64
		eventType        string
		payload          []byte
		constraintsJSON  sql.NullString
		creator          string
		correlationID    string
		createdAt        int64
	)
	if err := rows.Scan(
		&position, &instanceID, &resourceOwner, &aggregateType, &aggregateID,
		&aggregateVersion, &eventType, &payload, &constraintsJSON, &creator,
		&correlationID, &createdAt,
	); err != nil {
		return nil, errs.NewInternal(err, "SQLIT-df3Pw", "scan event row")
	}

	event := &eventstore.Event{
		Position:         uint64(position),
		InstanceID:       instanceID,
		ResourceOwner:    resourceOwner,
		AggregateType:    eventstore.AggregateType(aggregateType),
		AggregateID:      aggregateID,
		AggregateVersion: uint64(aggregateVersion),
		Type:             eventstore.EventType(eventType),
		Payload:          payload,
		Creator:          creator,
		CorrelationID:    correlationID,
		CreatedAt:        time.Unix(0, createdAt),
	}
	if constraintsJSON.Valid && constraintsJSON.String != "" {
		if err := json.Unmarshal([]byte(constraintsJSON.String), &event.Constraints); err != nil {
			return nil, errs.NewInternal(err, "SQLIT-bu7Hq", "decode stored constraints")
		}
	}
	return event, nil
}
