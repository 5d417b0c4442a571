package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
)

// applyConstraints claims and releases unique values inside the push
// transaction. A claim on a value held by any aggregate fails the push.
func (s *Store) applyConstraints(ctx context.Context, tx *sql.Tx, agg *eventstore.Aggregate, constraints []*eventstore.UniqueConstraint) error {
	for _, c := range constraints {
		switch c.Operation {
		case eventstore.ConstraintClaim:
			var owner string
			err := tx.QueryRowContext(ctx, `
				SELECT aggregate_id FROM unique_constraints
				WHERE instance_id = ? AND index_name = ? AND value = ?`,
				agg.InstanceID, c.IndexName, c.Value,
			).Scan(&owner)
			switch {
			case err == nil:
				return errs.NewAlreadyExists(nil, "SQLIT-we1Qp", "%s %q already taken", c.IndexName, c.Value)
			case err != sql.ErrNoRows:
				return errs.NewInternal(err, "SQLIT-ha4Xz", "check %s %q", c.IndexName, c.Value)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO unique_constraints (instance_id, index_name, value, aggregate_id, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				agg.InstanceID, c.IndexName, c.Value, agg.ID, time.Now().Unix(),
			)
			if err != nil {
				if isUniqueViolation(err, "unique_constraints") {
					return errs.NewAlreadyExists(err, "SQLIT-jja0q", "%s %q already taken", c.IndexName, c.Value)
				}
				return errs.NewInternal(err, "SQLIT-mm3Wd", "claim %s %q", c.IndexName, c.Value)
			}

		case eventstore.ConstraintRelease:
			_, err := tx.ExecContext(ctx, `
				DELETE FROM unique_constraints
				WHERE instance_id = ? AND index_name = ? AND value = ?`,
				agg.InstanceID, c.IndexName, c.Value,
			)
			if err != nil {
				return errs.NewInternal(err, "SQLIT-o2MaH", "release %s %q", c.IndexName, c.Value)
			}

		default:
			return errs.NewInvalidArgument(nil, "SQLIT-x8Laq", "unknown constraint operation %q", c.Operation)
		}
	}
	return nil
}

// RebuildConstraints empties the constraint index and replays every claim
// and release from the event log in position order. Used for recovery when
// the index is suspected to have diverged.
func (s *Store) RebuildConstraints(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewInternal(err, "SQLIT-u3Rfa", "begin rebuild transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM unique_constraints"); err != nil {
		return errs.NewInternal(err, "SQLIT-c6Nde", "clear constraint index")
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT instance_id, aggregate_id, constraints, created_at FROM events
		WHERE constraints IS NOT NULL
		ORDER BY position`)
	if err != nil {
		return errs.NewInternal(err, "SQLIT-plQ3r", "scan events for constraints")
	}
	defer rows.Close()

	type claim struct {
		instanceID  string
		aggregateID string
		createdAt   int64
	}
	claims := make(map[[3]string]claim)
	for rows.Next() {
		var (
			instanceID  string
			aggregateID string
			rawJSON     string
			createdAt   int64
		)
		if err := rows.Scan(&instanceID, &aggregateID, &rawJSON, &createdAt); err != nil {
			return errs.NewInternal(err, "SQLIT-iw1Vz", "scan constraint row")
		}
		var constraints []*eventstore.UniqueConstraint
		if err := json.Unmarshal([]byte(rawJSON), &constraints); err != nil {
			return errs.NewInternal(err, "SQLIT-aj9Pw", "decode stored constraints")
		}
		for _, c := range constraints {
			key := [3]string{instanceID, c.IndexName, c.Value}
			switch c.Operation {
			case eventstore.ConstraintClaim:
				claims[key] = claim{instanceID: instanceID, aggregateID: aggregateID, createdAt: createdAt}
			case eventstore.ConstraintRelease:
				delete(claims, key)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return errs.NewInternal(err, "SQLIT-wbR4x", "iterate constraint rows")
	}

	for key, c := range claims {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO unique_constraints (instance_id, index_name, value, aggregate_id, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			key[0], key[1], key[2], c.aggregateID, time.Unix(0, c.createdAt).Unix(),
		); err != nil {
			return errs.NewInternal(err, "SQLIT-gn2Sb", "restore claim %s %q", key[1], key[2])
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.NewInternal(err, "SQLIT-yq8Lc", "commit rebuild transaction")
	}
	return nil
}
