package projection

import (
	"context"
	"database/sql"
	"time"

	"github.com/authapp/iamcore/pkg/errs"
)

// Checkpoint records how far a projection has folded the event log.
type Checkpoint struct {
	ProjectionName string
	Position       uint64
	UpdatedAt      time.Time
}

// CheckpointStore persists checkpoints in the same database as the
// projection tables so both can be written in one transaction.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore creates the store on db and ensures its schema.
func NewCheckpointStore(db *sql.DB) (*CheckpointStore, error) {
	if err := runMigrations(db); err != nil {
		return nil, errs.NewInternal(err, "PROJE-fh6Wq", "migrate projection schema")
	}
	return &CheckpointStore{db: db}, nil
}

// DB returns the underlying handle for starting projection transactions.
func (s *CheckpointStore) DB() *sql.DB {
	return s.db
}

// Ensure creates the zero checkpoint row when the projection is first
// registered. Existing checkpoints are left untouched.
func (s *CheckpointStore) Ensure(ctx context.Context, projectionName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projection_checkpoints (projection_name, position, updated_at)
		VALUES (?, 0, ?)
		ON CONFLICT (projection_name) DO NOTHING`,
		projectionName, time.Now().Unix(),
	)
	if err != nil {
		return errs.NewInternal(err, "PROJE-en5Kw", "ensure checkpoint of %s", projectionName)
	}
	return nil
}

// Load returns the checkpoint of a projection, position 0 when it has
// never saved one.
func (s *CheckpointStore) Load(ctx context.Context, projectionName string) (*Checkpoint, error) {
	var (
		position  int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT position, updated_at FROM projection_checkpoints WHERE projection_name = ?",
		projectionName,
	).Scan(&position, &updatedAt)
	switch {
	case err == sql.ErrNoRows:
		return &Checkpoint{ProjectionName: projectionName}, nil
	case err != nil:
		return nil, errs.NewInternal(err, "PROJE-ga2Lm", "load checkpoint of %s", projectionName)
	}
	return &Checkpoint{
		ProjectionName: projectionName,
		Position:       uint64(position),
		UpdatedAt:      time.Unix(updatedAt, 0),
	}, nil
}

// SaveInTx advances the checkpoint inside the transaction that also writes
// the projection data, so data and checkpoint can never diverge.
func (s *CheckpointStore) SaveInTx(ctx context.Context, tx *sql.Tx, checkpoint *Checkpoint) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection_checkpoints (projection_name, position, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (projection_name) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at`,
		checkpoint.ProjectionName, int64(checkpoint.Position), time.Now().Unix(),
	)
	if err != nil {
		return errs.NewInternal(err, "PROJE-sw8Ie", "save checkpoint of %s", checkpoint.ProjectionName)
	}
	return nil
}

// ResetInTx zeroes the checkpoint inside a rebuild transaction.
func (s *CheckpointStore) ResetInTx(ctx context.Context, tx *sql.Tx, projectionName string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection_checkpoints (projection_name, position, updated_at)
		VALUES (?, 0, ?)
		ON CONFLICT (projection_name) DO UPDATE SET
			position = 0,
			updated_at = excluded.updated_at`,
		projectionName, time.Now().Unix(),
	)
	if err != nil {
		return errs.NewInternal(err, "PROJE-qe3Hr", "reset checkpoint of %s", projectionName)
	}
	return nil
}
