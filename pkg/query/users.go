package query

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/projection"
	"github.com/authapp/iamcore/pkg/repository/user"
)

// UsersProjectionName is the checkpoint name of the users read table.
const UsersProjectionName = "users"

// User is one row of the users read table.
type User struct {
	ID                string           `json:"id"`
	ResourceOwner     string           `json:"resourceOwner"`
	Username          string           `json:"username"`
	FirstName         string           `json:"firstName"`
	LastName          string           `json:"lastName"`
	DisplayName       string           `json:"displayName"`
	PreferredLanguage string           `json:"preferredLanguage,omitempty"`
	Email             string           `json:"email"`
	EmailVerified     bool             `json:"emailVerified"`
	State             domain.UserState `json:"state"`
	AvatarKey         string           `json:"avatarKey,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	ChangedAt         time.Time        `json:"changedAt"`
	Position          uint64           `json:"position"`
}

const userColumns = `instance_id, id, resource_owner, username, first_name, last_name,
	display_name, preferred_language, email, email_verified, state, avatar_key,
	created_at, changed_at, position`

// UserByID returns one user.
func (q *Queries) UserByID(ctx context.Context, userID string) (*User, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errs.NewInvalidArgument(nil, "QUERY-ad3Fq", "user id is empty")
	}

	row, hit := cacheGet[*User](ctx, q, "user", instanceID, userID)
	if !hit {
		row, err = q.userBy(ctx, "instance_id = ? AND id = ?", instanceID, userID)
		if err != nil {
			return nil, err
		}
		q.cacheSet(ctx, "user", instanceID, userID, row)
	}
	if err := q.checker.Check(ctx, authz.PermissionUserRead, row.ResourceOwner, row.ID); err != nil {
		return nil, err
	}
	return row, nil
}

// UserByUsername resolves the instance-unique username.
func (q *Queries) UserByUsername(ctx context.Context, username string) (*User, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	normalized := domain.Username(username).Normalize()
	if err := normalized.Validate(); err != nil {
		return nil, err
	}

	row, err := q.userBy(ctx, "instance_id = ? AND username = ?", instanceID, string(normalized))
	if err != nil {
		return nil, err
	}
	if err := q.checker.Check(ctx, authz.PermissionUserRead, row.ResourceOwner, row.ID); err != nil {
		return nil, err
	}
	return row, nil
}

// SearchUsers lists the users of one org, optionally filtered by a text
// that must appear in the username, display name or email.
func (q *Queries) SearchUsers(ctx context.Context, orgID, text string, limit, offset uint64) ([]*User, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		return nil, errs.NewInvalidArgument(nil, "QUERY-wl2Pn", "org id is empty")
	}
	if err := q.checker.Check(ctx, authz.PermissionUserRead, orgID, ""); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM projection_users
		WHERE instance_id = ? AND resource_owner = ?`
	args := []any{instanceID, orgID}
	if text != "" {
		pattern := likePattern(text)
		query += ` AND (username LIKE ? ESCAPE '\' OR display_name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY username LIMIT ? OFFSET ?`
	args = append(args, int64(searchLimit(limit)), int64(offset))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.NewInternal(err, "QUERY-sx8Lw", "search users")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewInternal(err, "QUERY-kt3Bz", "search users")
	}
	return users, nil
}

func (q *Queries) userBy(ctx context.Context, where string, args ...any) (*User, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM projection_users WHERE `+where, args...)
	return scanUser(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u          User
		instanceID string
		verified   int64
		state      int64
		createdAt  int64
		changedAt  int64
		position   int64
	)
	err := row.Scan(&instanceID, &u.ID, &u.ResourceOwner, &u.Username, &u.FirstName,
		&u.LastName, &u.DisplayName, &u.PreferredLanguage, &u.Email, &verified,
		&state, &u.AvatarKey, &createdAt, &changedAt, &position)
	switch {
	case err == sql.ErrNoRows:
		return nil, errs.NewNotFound(err, "QUERY-t3Flq", "user not found")
	case err != nil:
		return nil, errs.NewInternal(err, "QUERY-gz2Hw", "scan user")
	}
	u.EmailVerified = verified != 0
	u.State = domain.UserState(state)
	u.CreatedAt = time.Unix(0, createdAt)
	u.ChangedAt = time.Unix(0, changedAt)
	u.Position = uint64(position)
	return &u, nil
}

// likePattern wraps text for a substring match, escaping SQL wildcards.
func likePattern(text string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(text)
	return "%" + escaped + "%"
}

type usersProjection struct{}

// NewUsersProjection folds user events into the users read table.
func NewUsersProjection() projection.Projection {
	return usersProjection{}
}

func (usersProjection) Name() string { return UsersProjectionName }

func (usersProjection) Init(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projection_users (
			instance_id        TEXT NOT NULL,
			id                 TEXT NOT NULL,
			resource_owner     TEXT NOT NULL,
			username           TEXT NOT NULL,
			first_name         TEXT NOT NULL DEFAULT '',
			last_name          TEXT NOT NULL DEFAULT '',
			display_name       TEXT NOT NULL DEFAULT '',
			preferred_language TEXT NOT NULL DEFAULT '',
			email              TEXT NOT NULL DEFAULT '',
			email_verified     INTEGER NOT NULL DEFAULT 0,
			state              INTEGER NOT NULL,
			avatar_key         TEXT NOT NULL DEFAULT '',
			created_at         INTEGER NOT NULL,
			changed_at         INTEGER NOT NULL,
			position           INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_projection_users_username
			ON projection_users (instance_id, username);
		CREATE INDEX IF NOT EXISTS idx_projection_users_owner
			ON projection_users (instance_id, resource_owner);`)
	return err
}

func (usersProjection) Reset(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM projection_users")
	return err
}

func (usersProjection) Reducers() map[eventstore.EventType]projection.ReduceFunc {
	return map[eventstore.EventType]projection.ReduceFunc{
		user.HumanAddedType:      reduceUserAdded,
		user.ProfileChangedType:  reduceUserProfileChanged,
		user.EmailChangedType:    reduceUserEmailChanged,
		user.EmailVerifiedType:   reduceUserEmailVerified,
		user.PasswordChangedType: reduceUserTouched,
		user.LockedType:          reduceUserState(domain.UserStateLocked),
		user.UnlockedType:        reduceUserState(domain.UserStateActive),
		user.DeactivatedType:     reduceUserState(domain.UserStateInactive),
		user.ReactivatedType:     reduceUserState(domain.UserStateActive),
		user.RemovedType:         reduceUserRemoved,
		user.AvatarAddedType:     reduceUserAvatarAdded,
		user.AvatarRemovedType:   reduceUserAvatarRemoved,
	}
}

// reduceUserTouched records that the user changed without projecting the
// payload. Password hashes stay out of read tables.
func reduceUserTouched(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_users SET
			changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ?`,
		event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID,
	)
	return err
}

func reduceUserAdded(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload user.HumanAddedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection_users (
			instance_id, id, resource_owner, username, first_name, last_name,
			display_name, preferred_language, email, email_verified, state,
			avatar_key, created_at, changed_at, position
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, '', ?, ?, ?)`,
		event.InstanceID, event.AggregateID, event.ResourceOwner,
		payload.Username, payload.FirstName, payload.LastName,
		payload.DisplayName, payload.PreferredLanguage, payload.Email,
		int64(domain.UserStateActive),
		event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano(), int64(event.Position),
	)
	return err
}

func reduceUserProfileChanged(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload user.ProfileChangedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_users SET
			first_name = ?, last_name = ?, display_name = ?, preferred_language = ?,
			changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ?`,
		payload.FirstName, payload.LastName, payload.DisplayName, payload.PreferredLanguage,
		event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID,
	)
	return err
}

func reduceUserEmailChanged(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload user.EmailChangedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_users SET
			email = ?, email_verified = 0, changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ?`,
		payload.Email, event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID,
	)
	return err
}

func reduceUserEmailVerified(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_users SET
			email_verified = 1, changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ?`,
		event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID,
	)
	return err
}

func reduceUserState(state domain.UserState) projection.ReduceFunc {
	return func(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE projection_users SET
				state = ?, changed_at = ?, position = ?
			WHERE instance_id = ? AND id = ?`,
			int64(state), event.CreatedAt.UnixNano(), int64(event.Position),
			event.InstanceID, event.AggregateID,
		)
		return err
	}
}

func reduceUserRemoved(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM projection_users WHERE instance_id = ? AND id = ?",
		event.InstanceID, event.AggregateID,
	)
	return err
}

func reduceUserAvatarAdded(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload user.AvatarAddedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_users SET
			avatar_key = ?, changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ?`,
		payload.StoreKey, event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID,
	)
	return err
}

func reduceUserAvatarRemoved(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_users SET
			avatar_key = '', changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ?`,
		event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID,
	)
	return err
}
