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

// Push appends all commands in one transaction. Expected versions are
// verified per aggregate against the live stream; version numbers are
// assigned consecutively in command order. Any failure rolls the whole
// batch back.
func (s *Store) Push(ctx context.Context, commands ...eventstore.Command) ([]*eventstore.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.NewInternal(err, "SQLIT-tb3Fa", "begin push transaction")
	}
	defer tx.Rollback()

	versions, err := s.verifyExpectedVersions(ctx, tx, commands)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	events := make([]*eventstore.Event, 0, len(commands))
	for _, cmd := range commands {
		key := streamKey(cmd.Aggregate())
		versions[key]++
		event, err := s.insertEvent(ctx, tx, cmd, versions[key], now)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.NewInternal(err, "SQLIT-qzO8e", "commit push transaction")
	}
	return events, nil
}

// verifyExpectedVersions checks each distinct stream of the batch against
// the version anchor its first command carries and returns the current
// version per stream.
func (s *Store) verifyExpectedVersions(ctx context.Context, tx *sql.Tx, commands []eventstore.Command) (map[string]uint64, error) {
	versions := make(map[string]uint64)
	for _, cmd := range commands {
		agg := cmd.Aggregate()
		key := streamKey(agg)
		if _, ok := versions[key]; ok {
			continue
		}

		var current int64
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(aggregate_version), 0) FROM events
			WHERE instance_id = ? AND aggregate_type = ? AND aggregate_id = ?`,
			agg.InstanceID, agg.Type, agg.ID,
		).Scan(&current)
		if err != nil {
			return nil, errs.NewInternal(err, "SQLIT-eq2Rq", "read current version of %s %s", agg.Type, agg.ID)
		}

		if uint64(current) != agg.ExpectedVersion {
			return nil, errs.NewConflict(nil, "SQLIT-Bq7dw",
				"%s %s changed concurrently: expected version %d, stream at %d",
				agg.Type, agg.ID, agg.ExpectedVersion, current)
		}
		versions[key] = uint64(current)
	}
	return versions, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, cmd eventstore.Command, version uint64, now time.Time) (*eventstore.Event, error) {
	agg := cmd.Aggregate()

	if err := s.applyConstraints(ctx, tx, agg, cmd.Constraints()); err != nil {
		return nil, err
	}

	var payload []byte
	if cmd.Payload() != nil {
		var err error
		payload, err = json.Marshal(cmd.Payload())
		if err != nil {
			return nil, errs.NewInternal(err, "SQLIT-eby3k", "encode payload of %s", cmd.Type())
		}
	}

	var constraintsJSON sql.NullString
	if len(cmd.Constraints()) > 0 {
		raw, err := json.Marshal(cmd.Constraints())
		if err != nil {
			return nil, errs.NewInternal(err, "SQLIT-rrA2p", "encode constraints of %s", cmd.Type())
		}
		constraintsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (
			instance_id, resource_owner, aggregate_type, aggregate_id,
			aggregate_version, event_type, payload, constraints,
			creator, correlation_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agg.InstanceID, agg.ResourceOwner, agg.Type, agg.ID,
		int64(version), cmd.Type(), payload, constraintsJSON,
		cmd.Creator(), cmd.CorrelationID(), now.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err, "events") {
			return nil, errs.NewConflict(err, "SQLIT-Jf2rs",
				"%s %s changed concurrently", agg.Type, agg.ID)
		}
		return nil, errs.NewInternal(err, "SQLIT-fa2Sq", "insert event %s", cmd.Type())
	}

	position, err := res.LastInsertId()
	if err != nil {
		return nil, errs.NewInternal(err, "SQLIT-pl9Ze", "read position of %s", cmd.Type())
	}

	return &eventstore.Event{
		Position:         uint64(position),
		InstanceID:       agg.InstanceID,
		ResourceOwner:    agg.ResourceOwner,
		AggregateType:    agg.Type,
		AggregateID:      agg.ID,
		AggregateVersion: version,
		Type:             cmd.Type(),
		Payload:          payload,
		Constraints:      cmd.Constraints(),
		Creator:          cmd.Creator(),
		CorrelationID:    cmd.CorrelationID(),
		CreatedAt:        now,
	}, nil
}

func streamKey(agg *eventstore.Aggregate) string {
	return agg.InstanceID + "|" + string(agg.Type) + "|" + agg.ID
}

// isUniqueViolation reports whether err is a UNIQUE violation on the given
// table. The driver exposes constraint failures only through the message.
func isUniqueViolation(err error, table string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, table+".")
}
