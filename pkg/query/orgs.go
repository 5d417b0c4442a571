package query

import (
	"context"
	"database/sql"
	"time"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/projection"
	"github.com/authapp/iamcore/pkg/repository/org"
)

// OrgsProjectionName is the checkpoint name of the orgs read tables.
const OrgsProjectionName = "orgs"

// Org is one row of the orgs read table.
type Org struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	State         domain.OrgState `json:"state"`
	PrimaryDomain string          `json:"primaryDomain,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ChangedAt     time.Time       `json:"changedAt"`
	Position      uint64          `json:"position"`
}

// OrgDomain is one verified domain of an org.
type OrgDomain struct {
	OrgID     string    `json:"orgId"`
	Domain    string    `json:"domain"`
	IsPrimary bool      `json:"isPrimary"`
	CreatedAt time.Time `json:"createdAt"`
}

const orgColumns = `instance_id, id, name, state, primary_domain, created_at, changed_at, position`

// OrgByID returns one org.
func (q *Queries) OrgByID(ctx context.Context, orgID string) (*Org, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		return nil, errs.NewInvalidArgument(nil, "QUERY-kb2Wd", "org id is empty")
	}

	row, hit := cacheGet[*Org](ctx, q, "org", instanceID, orgID)
	if !hit {
		row, err = q.orgBy(ctx, "instance_id = ? AND id = ?", instanceID, orgID)
		if err != nil {
			return nil, err
		}
		q.cacheSet(ctx, "org", instanceID, orgID, row)
	}
	if err := q.checker.Check(ctx, authz.PermissionOrgRead, row.ID, row.ID); err != nil {
		return nil, err
	}
	return row, nil
}

// OrgByDomain resolves the org a domain belongs to. Domains are unique
// across the instance.
func (q *Queries) OrgByDomain(ctx context.Context, domainName string) (*Org, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	normalized := domain.NormalizeDomain(domainName)
	if err := domain.ValidateDomain(normalized); err != nil {
		return nil, err
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT o.instance_id, o.id, o.name, o.state, o.primary_domain, o.created_at, o.changed_at, o.position
		FROM projection_orgs o
		JOIN projection_org_domains d ON d.instance_id = o.instance_id AND d.org_id = o.id
		WHERE o.instance_id = ? AND d.domain = ?`,
		instanceID, normalized)
	o, err := scanOrg(row)
	if err != nil {
		return nil, err
	}
	if err := q.checker.Check(ctx, authz.PermissionOrgRead, o.ID, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// OrgDomains lists the domains of an org, primary first.
func (q *Queries) OrgDomains(ctx context.Context, orgID string) ([]*OrgDomain, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		return nil, errs.NewInvalidArgument(nil, "QUERY-pj8Tc", "org id is empty")
	}
	if err := q.checker.Check(ctx, authz.PermissionOrgRead, orgID, orgID); err != nil {
		return nil, err
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT org_id, domain, is_primary, created_at
		FROM projection_org_domains
		WHERE instance_id = ? AND org_id = ?
		ORDER BY is_primary DESC, domain`,
		instanceID, orgID)
	if err != nil {
		return nil, errs.NewInternal(err, "QUERY-vd4Jm", "list org domains")
	}
	defer rows.Close()

	var domains []*OrgDomain
	for rows.Next() {
		var (
			d         OrgDomain
			isPrimary int64
			createdAt int64
		)
		if err := rows.Scan(&d.OrgID, &d.Domain, &isPrimary, &createdAt); err != nil {
			return nil, errs.NewInternal(err, "QUERY-bq6Xs", "scan org domain")
		}
		d.IsPrimary = isPrimary != 0
		d.CreatedAt = time.Unix(0, createdAt)
		domains = append(domains, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewInternal(err, "QUERY-ya3Pv", "list org domains")
	}
	return domains, nil
}

func (q *Queries) orgBy(ctx context.Context, where string, args ...any) (*Org, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM projection_orgs WHERE `+where, args...)
	return scanOrg(row)
}

func scanOrg(row rowScanner) (*Org, error) {
	var (
		o          Org
		instanceID string
		state      int64
		createdAt  int64
		changedAt  int64
		position   int64
	)
	err := row.Scan(&instanceID, &o.ID, &o.Name, &state, &o.PrimaryDomain,
		&createdAt, &changedAt, &position)
	switch {
	case err == sql.ErrNoRows:
		return nil, errs.NewNotFound(err, "QUERY-rw2Kq", "org not found")
	case err != nil:
		return nil, errs.NewInternal(err, "QUERY-hm9Zd", "scan org")
	}
	o.State = domain.OrgState(state)
	o.CreatedAt = time.Unix(0, createdAt)
	o.ChangedAt = time.Unix(0, changedAt)
	o.Position = uint64(position)
	return &o, nil
}

type orgsProjection struct{}

// NewOrgsProjection folds org events into the orgs and org domains read
// tables.
func NewOrgsProjection() projection.Projection {
	return orgsProjection{}
}

func (orgsProjection) Name() string { return OrgsProjectionName }

func (orgsProjection) Init(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projection_orgs (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			name           TEXT NOT NULL,
			state          INTEGER NOT NULL,
			primary_domain TEXT NOT NULL DEFAULT '',
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			position       INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE TABLE IF NOT EXISTS projection_org_domains (
			instance_id TEXT NOT NULL,
			org_id      TEXT NOT NULL,
			domain      TEXT NOT NULL,
			is_primary  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			PRIMARY KEY (instance_id, domain)
		);
		CREATE INDEX IF NOT EXISTS idx_projection_org_domains_org
			ON projection_org_domains (instance_id, org_id);`)
	return err
}

func (orgsProjection) Reset(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM projection_orgs"); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM projection_org_domains")
	return err
}

func (orgsProjection) Reducers() map[eventstore.EventType]projection.ReduceFunc {
	return map[eventstore.EventType]projection.ReduceFunc{
		org.AddedType:            reduceOrgAdded,
		org.ChangedType:          reduceOrgChanged,
		org.DeactivatedType:      reduceOrgState(domain.OrgStateInactive),
		org.ReactivatedType:      reduceOrgState(domain.OrgStateActive),
		org.DomainAddedType:      reduceOrgDomainAdded,
		org.DomainPrimarySetType: reduceOrgDomainPrimarySet,
		org.DomainRemovedType:    reduceOrgDomainRemoved,
	}
}

func reduceOrgAdded(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload org.AddedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection_orgs (
			instance_id, id, name, state, primary_domain, created_at, changed_at, position
		) VALUES (?, ?, ?, ?, '', ?, ?, ?)`,
		event.InstanceID, event.AggregateID, payload.Name, int64(domain.OrgStateActive),
		event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano(), int64(event.Position),
	)
	return err
}

func reduceOrgChanged(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload org.ChangedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_orgs SET
			name = ?, changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ?`,
		payload.Name, event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID,
	)
	return err
}

func reduceOrgState(state domain.OrgState) projection.ReduceFunc {
	return func(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE projection_orgs SET
				state = ?, changed_at = ?, position = ?
			WHERE instance_id = ? AND id = ?`,
			int64(state), event.CreatedAt.UnixNano(), int64(event.Position),
			event.InstanceID, event.AggregateID,
		)
		return err
	}
}

func reduceOrgDomainAdded(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload org.DomainAddedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection_org_domains (
			instance_id, org_id, domain, is_primary, created_at
		) VALUES (?, ?, ?, 0, ?)`,
		event.InstanceID, event.AggregateID, payload.Domain, event.CreatedAt.UnixNano(),
	)
	return err
}

func reduceOrgDomainPrimarySet(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload org.DomainPrimarySetPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE projection_org_domains SET is_primary = 0
		WHERE instance_id = ? AND org_id = ?`,
		event.InstanceID, event.AggregateID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE projection_org_domains SET is_primary = 1
		WHERE instance_id = ? AND domain = ?`,
		event.InstanceID, payload.Domain); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_orgs SET
			primary_domain = ?, changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ?`,
		payload.Domain, event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID,
	)
	return err
}

func reduceOrgDomainRemoved(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error {
	var payload org.DomainRemovedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM projection_org_domains
		WHERE instance_id = ? AND domain = ?`,
		event.InstanceID, payload.Domain); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projection_orgs SET
			primary_domain = '', changed_at = ?, position = ?
		WHERE instance_id = ? AND id = ? AND primary_domain = ?`,
		event.CreatedAt.UnixNano(), int64(event.Position),
		event.InstanceID, event.AggregateID, payload.Domain,
	)
	return err
}
