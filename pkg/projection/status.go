package projection

import (
	"context"
	"database/sql"
	"time"

	"github.com/authapp/iamcore/pkg/errs"
)

// State is the run state of a projection handler.
type State string

const (
	StateRunning    State = "running"
	StateFailing    State = "failing"
	StateRebuilding State = "rebuilding"
	StateStopped    State = "stopped"
)

// Status is the persisted health record of one projection: its run state,
// how many catch-up rounds in a row have failed, and the last error text.
type Status struct {
	ProjectionName      string
	State               State
	ConsecutiveFailures int
	LastError           string
	UpdatedAt           time.Time
}

// StatusStore records per-projection status rows for operators.
type StatusStore struct {
	db *sql.DB
}

// NewStatusStore creates the store; the schema is shared with the
// checkpoint store migrations.
func NewStatusStore(db *sql.DB) *StatusStore {
	return &StatusStore{db: db}
}

// Save upserts the status row of a projection.
func (s *StatusStore) Save(ctx context.Context, status *Status) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projection_status (projection_name, state, consecutive_failures, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (projection_name) DO UPDATE SET
			state = excluded.state,
			consecutive_failures = excluded.consecutive_failures,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		status.ProjectionName, string(status.State), status.ConsecutiveFailures, status.LastError, time.Now().Unix(),
	)
	if err != nil {
		return errs.NewInternal(err, "PROJE-zu7Rb", "save status of %s", status.ProjectionName)
	}
	return nil
}

// Load returns the recorded status, a stopped zero record when none exists.
func (s *StatusStore) Load(ctx context.Context, projectionName string) (*Status, error) {
	status := &Status{ProjectionName: projectionName}
	var (
		state     string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT state, consecutive_failures, last_error, updated_at
		FROM projection_status WHERE projection_name = ?`,
		projectionName,
	).Scan(&state, &status.ConsecutiveFailures, &status.LastError, &updatedAt)
	switch {
	case err == sql.ErrNoRows:
		status.State = StateStopped
		return status, nil
	case err != nil:
		return nil, errs.NewInternal(err, "PROJE-vm2Xc", "load status of %s", projectionName)
	}
	status.State = State(state)
	status.UpdatedAt = time.Unix(updatedAt, 0)
	return status, nil
}
