package command

import (
	"context"
	"strings"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/org"
)

// AddOrg creates an organization. The name is claimed instance-wide; a
// second org with the same name fails with AlreadyExists.
func (c *Commands) AddOrg(ctx context.Context, name string) (*domain.ObjectDetails, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.NewInvalidArgument(nil, "ORG-mruNY", "org name is empty")
	}

	orgID, err := c.nextID()
	if err != nil {
		return nil, err
	}

	if err := c.checker.Check(ctx, authz.PermissionOrgWrite, orgID, orgID); err != nil {
		return nil, err
	}

	agg := org.NewAggregate(instanceID, orgID)
	pushedEvents, err := c.es.Push(ctx, org.NewAddedEvent(ctx, agg, name))
	if err != nil {
		return nil, err
	}

	wm := NewOrgWriteModel(instanceID, orgID)
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	details := writeModelToDetails(&wm.WriteModel)
	details.ID = orgID
	return details, nil
}

// ChangeOrg renames an organization. Renaming to the current name is a
// rejected no-op.
func (c *Commands) ChangeOrg(ctx context.Context, orgID, name string) (*domain.ObjectDetails, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		return nil, errs.NewInvalidArgument(nil, "ORG-1OKvI", "org id is empty")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.NewInvalidArgument(nil, "ORG-tUdBA", "org name is empty")
	}

	wm := NewOrgWriteModel(instanceID, orgID)
	if err := c.load(ctx, wm); err != nil {
		return nil, err
	}
	if !wm.State.Exists() {
		return nil, errs.NewNotFound(nil, "ORG-3OfIm", "org %s not found", orgID)
	}
	if wm.Name == name {
		return nil, errs.NewPreconditionFailed(nil, "ORG-4VSrJ", "org is already named %q", name)
	}

	if err := c.checker.Check(ctx, authz.PermissionOrgWrite, wm.ResourceOwner, orgID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, org.AggregateType)
	pushedEvents, err := c.es.Push(ctx, org.NewChangedEvent(ctx, agg, wm.Name, name))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}

// DeactivateOrg moves an active org to inactive.
func (c *Commands) DeactivateOrg(ctx context.Context, orgID string) (*domain.ObjectDetails, error) {
	return c.changeOrgState(ctx, orgID, domain.OrgStateInactive)
}

// ReactivateOrg moves an inactive org back to active.
func (c *Commands) ReactivateOrg(ctx context.Context, orgID string) (*domain.ObjectDetails, error) {
	return c.changeOrgState(ctx, orgID, domain.OrgStateActive)
}

func (c *Commands) changeOrgState(ctx context.Context, orgID string, target domain.OrgState) (*domain.ObjectDetails, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		return nil, errs.NewInvalidArgument(nil, "ORG-oLHkZ", "org id is empty")
	}

	wm := NewOrgWriteModel(instanceID, orgID)
	if err := c.load(ctx, wm); err != nil {
		return nil, err
	}
	if !wm.State.Exists() {
		return nil, errs.NewNotFound(nil, "ORG-marBQ", "org %s not found", orgID)
	}
	if wm.State == target {
		if target == domain.OrgStateInactive {
			return nil, errs.NewPreconditionFailed(nil, "ORG-Dbs2g", "org is already inactive")
		}
		return nil, errs.NewPreconditionFailed(nil, "ORG-bd4Tr", "org is already active")
	}

	if err := c.checker.Check(ctx, authz.PermissionOrgWrite, wm.ResourceOwner, orgID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, org.AggregateType)
	var event eventstore.Command
	if target == domain.OrgStateInactive {
		event = org.NewDeactivatedEvent(ctx, agg)
	} else {
		event = org.NewReactivatedEvent(ctx, agg)
	}
	pushedEvents, err := c.es.Push(ctx, event)
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}
