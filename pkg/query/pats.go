package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/projection"
	"github.com/authapp/iamcore/pkg/repository/pat"
)

// PersonalAccessTokensProjectionName is the checkpoint name of the tokens
// read table.
const PersonalAccessTokensProjectionName = "personal_access_tokens"

// PersonalAccessToken is one row of the tokens read table. Only token
// metadata is projected, never the signed JWT.
type PersonalAccessToken struct {
	ID            string    `json:"id"`
	ResourceOwner string    `json:"resourceOwner"`
	UserID        string    `json:"userId"`
	Expiration    time.Time `json:"expiration"`
	Scopes        []string  `json:"scopes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Position      uint64    `json:"position"`
}

const patColumns = `instance_id, id, resource_owner, user_id, expiration, scopes, created_at, position`

// PersonalAccessTokenByID returns one token.
func (q *Queries) PersonalAccessTokenByID(ctx context.Context, tokenID string) (*PersonalAccessToken, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if tokenID == "" {
		return nil, errs.NewInvalidArgument(nil, "QUERY-tk8Wq", "token id is empty")
	}

	row, hit := cacheGet[*PersonalAccessToken](ctx, q, "pat", instanceID, tokenID)
	if !hit {
		row, err = q.patBy(ctx, "instance_id = ? AND id = ?", instanceID, tokenID)
		if err != nil {
			return nil, err
		}
		q.cacheSet(ctx, "pat", instanceID, tokenID, row)
	}
	if err := q.checker.Check(ctx, authz.PermissionUserRead, row.ResourceOwner, row.UserID); err != nil {
		return nil, err
	}
	return row, nil
}

// PersonalAccessTokensOfUser lists the tokens of a user, newest first.
func (q *Queries) PersonalAccessTokensOfUser(ctx context.Context, userID string) ([]*PersonalAccessToken, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errs.NewInvalidArgument(nil, "QUERY-ub5Mz", "user id is empty")
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+patColumns+` FROM projection_personal_access_tokens
		WHERE instance_id = ? AND user_id = ?
		ORDER BY created_at DESC, position DESC`,
		instanceID, userID)
	if err != nil {
		return nil, errs.NewInternal(err, "QUERY-zr2Pq", "list tokens")
	}
	defer rows.Close()

	var tokens []*PersonalAccessToken
	for rows.Next() {
		t, err := scanPersonalAccessToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewInternal(err, "QUERY-qa9Jk", "list tokens")
	}

	for _, t := range tokens {
		if err := q.checker.Check(ctx, authz.PermissionUserRead, t.ResourceOwner, t.UserID); err != nil {
			return nil, err
		}
	}
	return tokens, nil
}

func (q *Queries) patBy(ctx context.Context, where string, args ...any) (*PersonalAccessToken, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+patColumns+` FROM projection_personal_access_tokens WHERE `+where, args...)
	return scanPersonalAccessToken(row)
}

func scanPersonalAccessToken(row rowScanner) (*PersonalAccessToken, error) {
	var (
		t          PersonalAccessToken
		instanceID string
		expiration int64
		scopes     string
		createdAt  int64
		position   int64
	)
	err := row.Scan(&instanceID, &t.ID, &t.ResourceOwner, &t.UserID,
		&expiration, &scopes, &createdAt, &position)
	switch {
	case err == sql.ErrNoRows:
		return nil, errs.NewNotFound(err, "QUERY-pt6Fd", "token not found")
	case err != nil:
		return nil, errs.NewInternal(err, "QUERY-iw3Cz", "scan token")
	}
	if scopes != "" {
		if err := json.Unmarshal([]byte(scopes), &t.Scopes); err != nil {
			return nil, errs.NewInternal(err, "QUERY-sj7Lb", "decode token scopes")
		}
	}
	t.Expiration = time.Unix(0, expiration)
	t.CreatedAt = time.Unix(0, createdAt)
	t.Position = uint64(position)
	return &t, nil
}

type personalAccessTokensProjection struct{}

// NewPersonalAccessTokensProjection folds token events into the tokens
// read table.
func NewPersonalAccessTokensProjection() projection.Projection {
	return personalAccessTokensProjection{}
}

func (personalAccessTokensProjection) Name() string {
	return PersonalAccessTokensProjectionName
}

func (personalAccessTokensProjection) Init(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projection_personal_access_tokens (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			resource_owner TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			expiration     INTEGER NOT NULL,
			scopes         TEXT NOT NULL DEFAULT '',
			created_at     INTEGER NOT NULL,
			position       INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_projection_pats_user
			ON projection_personal_access_tokens (instance_id, user_id);`)
	return err
}

func (personalAccessTokensProjection) Reset(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM projection_personal_access_tokens")
	return err
}

func (personalAccessTokensProjection) Reducers() map[eventstore.EventType]projection.ReduceFunc {
	return map[eventstore.EventType]projection.ReduceFunc{
		pat.AddedType:   reducePersonalAccessTokenAdded,
		pat.RemovedType: reducePersonalAccessTokenRemoved,
	}
}

func reducePersonalAccessTokenAdded(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload pat.AddedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	var scopes string
	if len(payload.Scopes) > 0 {
		encoded, err := json.Marshal(payload.Scopes)
		if err != nil {
			return err
		}
		scopes = string(encoded)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection_personal_access_tokens (
			instance_id, id, resource_owner, user_id, expiration, scopes, created_at, position
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.InstanceID, event.AggregateID, event.ResourceOwner, payload.UserID,
		payload.Expiration.UnixNano(), scopes,
		event.CreatedAt.UnixNano(), int64(event.Position),
	)
	return err
}

func reducePersonalAccessTokenRemoved(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM projection_personal_access_tokens WHERE instance_id = ? AND id = ?",
		event.InstanceID, event.AggregateID,
	)
	return err
}
