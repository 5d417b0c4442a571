package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/projection"
	"github.com/authapp/iamcore/pkg/repository/session"
)

// SessionsProjectionName is the checkpoint name of the sessions read table.
const SessionsProjectionName = "sessions"

// Session is one row of the sessions read table. The session token is not
// part of the read model.
type Session struct {
	ID            string              `json:"id"`
	ResourceOwner string              `json:"resourceOwner"`
	UserID        string              `json:"userId"`
	State         domain.SessionState `json:"state"`
	Metadata      map[string]string   `json:"metadata,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	ChangedAt     time.Time           `json:"changedAt"`
	// ExpiresAt is zero for sessions without a lifetime.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Position  uint64    `json:"position"`
}

// Active reports whether the session can still authenticate at now.
func (s *Session) Active(now time.Time) bool {
	if s.State != domain.SessionStateActive {
		return false
	}
	return s.ExpiresAt.IsZero() || s.ExpiresAt.After(now)
}

const sessionColumns = `instance_id, id, resource_owner, user_id, state, metadata,
	created_at, changed_at, expires_at, position`

// SessionByID returns one session.
func (q *Queries) SessionByID(ctx context.Context, sessionID string) (*Session, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, errs.NewInvalidArgument(nil, "QUERY-sd2Lq", "session id is empty")
	}

	row, hit := cacheGet[*Session](ctx, q, "session", instanceID, sessionID)
	if !hit {
		row, err = q.sessionBy(ctx, "instance_id = ? AND id = ?", instanceID, sessionID)
		if err != nil {
			return nil, err
		}
		q.cacheSet(ctx, "session", instanceID, sessionID, row)
	}
	if err := q.checker.Check(ctx, authz.PermissionUserRead, row.ResourceOwner, row.UserID); err != nil {
		return nil, err
	}
	return row, nil
}

// ActiveSessionsOfUser lists the sessions of a user that are neither
// terminated nor expired.
func (q *Queries) ActiveSessionsOfUser(ctx context.Context, userID string) ([]*Session, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errs.NewInvalidArgument(nil, "QUERY-uf3Bn", "user id is empty")
	}

	now := time.Now().UnixNano()
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM projection_sessions
		WHERE instance_id = ? AND user_id = ? AND state = ?
			AND (expires_at = 0 OR expires_at > ?)
		ORDER BY created_at DESC, position DESC`,
		instanceID, userID, int64(domain.SessionStateActive), now)
	if err != nil {
		return nil, errs.NewInternal(err, "QUERY-lm8Rz", "list sessions")
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewInternal(err, "QUERY-cq5Vw", "list sessions")
	}

	for _, s := range sessions {
		if err := q.checker.Check(ctx, authz.PermissionUserRead, s.ResourceOwner, s.UserID); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (q *Queries) sessionBy(ctx context.Context, where string, args ...any) (*Session, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM projection_sessions WHERE `+where, args...)
	return scanSession(row)
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s          Session
		instanceID string
		state      int64
		metadata   string
		createdAt  int64
		changedAt  int64
		expiresAt  int64
		position   int64
	)
	err := row.Scan(&instanceID, &s.ID, &s.ResourceOwner, &s.UserID, &state,
		&metadata, &createdAt, &changedAt, &expiresAt, &position)
	switch {
	case err == sql.ErrNoRows:
		return nil, errs.NewNotFound(err, "QUERY-nx4Tq", "session not found")
	case err != nil:
		return nil, errs.NewInternal(err, "QUERY-oe7Gd", "scan session")
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &s.Metadata); err != nil {
			return nil, errs.NewInternal(err, "QUERY-mf2Hx", "decode session metadata")
		}
	}
	s.State = domain.SessionState(state)
	s.CreatedAt = time.Unix(0, createdAt)
	s.ChangedAt = time.Unix(0, changedAt)
	if expiresAt != 0 {
		s.ExpiresAt = time.Unix(0, expiresAt)
	}
	s.Position = uint64(position)
	return &s, nil
}

type sessionsProjection struct{}

// NewSessionsProjection folds session events into the sessions read table.
func NewSessionsProjection() projection.Projection {
	return sessionsProjection{}
}

func (sessionsProjection) Name() string { return SessionsProjectionName }

func (sessionsProjection) Init(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projection_sessions (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			resource_owner TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			state          INTEGER NOT NULL,
			metadata       TEXT NOT NULL DEFAULT '',
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			expires_at     INTEGER NOT NULL DEFAULT 0,
			position       INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_projection_sessions_user
			ON projection_sessions (instance_id, user_id);`)
	return err
}

func (sessionsProjection) Reset(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM projection_sessions")
	return err
}

func (sessionsProjection) Reducers() map[eventstore.EventType]projection.ReduceFunc {
	return map[eventstore.EventType]projection.ReduceFunc{
		session.AddedType:       reduceSessionAdded,
		session.MetadataSetType: reduceSessionMetadataSet,
		session.TerminatedType:  reduceSessionTerminated,
	}
}

func reduceSessionAdded(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload session.AddedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	var expiresAt int64
	if payload.Lifetime > 0 {
		expiresAt = event.CreatedAt.Add(payload.Lifetime).UnixNano()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection_sessions (
			instance_id, id, resource_owner, user_id, state, metadata,
			created_at, changed_at, expires_at, position
		) VALUES (?, ?, ?, ?, ?, '', ?, ?, ?, ?)`,
		event.InstanceID, event.AggregateID, event.ResourceOwner, payload.UserID,
		int64(domain.SessionStateActive),
		event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano(), expiresAt, int64(event.Position),
	)
	return err
}

func reduceSessionMetadataSet(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload session.MetadataSetPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	encoded, err := json.Marshal(payload.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE projection_sessions SET
			metadata = ?, changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ?`,
		string(encoded), event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID,
	)
	return err
}

func reduceSessionTerminated(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_sessions SET
			state = ?, changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ?`,
		int64(domain.SessionStateTerminated), event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID,
	)
	return err
}
