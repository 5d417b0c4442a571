package command

import (
	"context"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/org"
)

// AddOrgDomain registers a domain on the org. Domains are claimed
// instance-wide: two orgs cannot hold the same domain.
func (c *Commands) AddOrgDomain(ctx context.Context, orgID, domainName string) (*domain.ObjectDetails, error) {
	wm, domainName, err := c.orgDomainPreflight(ctx, orgID, domainName)
	if err != nil {
		return nil, err
	}
	if wm.HasDomain(domainName) {
		return nil, errs.NewAlreadyExists(nil, "ORG-nq4If", "domain %s is already registered", domainName)
	}

	if err := c.checker.Check(ctx, authz.PermissionOrgWrite, wm.ResourceOwner, orgID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, org.AggregateType)
	pushedEvents, err := c.es.Push(ctx, org.NewDomainAddedEvent(ctx, agg, domainName))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}

// SetPrimaryOrgDomain marks a registered domain as the org's primary one.
func (c *Commands) SetPrimaryOrgDomain(ctx context.Context, orgID, domainName string) (*domain.ObjectDetails, error) {
	wm, domainName, err := c.orgDomainPreflight(ctx, orgID, domainName)
	if err != nil {
		return nil, err
	}
	if !wm.HasDomain(domainName) {
		return nil, errs.NewPreconditionFailed(nil, "ORG-Sf3gc", "domain %s is not registered on org %s", domainName, orgID)
	}
	if wm.PrimaryDomain == domainName {
		return nil, errs.NewPreconditionFailed(nil, "ORG-c6qy5", "domain %s is already primary", domainName)
	}

	if err := c.checker.Check(ctx, authz.PermissionOrgWrite, wm.ResourceOwner, orgID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, org.AggregateType)
	pushedEvents, err := c.es.Push(ctx, org.NewDomainPrimarySetEvent(ctx, agg, domainName))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}

// RemoveOrgDomain removes a registered, non-primary domain and releases
// its claim for other orgs.
func (c *Commands) RemoveOrgDomain(ctx context.Context, orgID, domainName string) (*domain.ObjectDetails, error) {
	wm, domainName, err := c.orgDomainPreflight(ctx, orgID, domainName)
	if err != nil {
		return nil, err
	}
	if !wm.HasDomain(domainName) {
		return nil, errs.NewNotFound(nil, "ORG-gh2Vx", "domain %s is not registered on org %s", domainName, orgID)
	}
	if wm.PrimaryDomain == domainName {
		return nil, errs.NewPreconditionFailed(nil, "ORG-pJ3fW", "primary domain cannot be removed")
	}

	if err := c.checker.Check(ctx, authz.PermissionOrgWrite, wm.ResourceOwner, orgID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, org.AggregateType)
	pushedEvents, err := c.es.Push(ctx, org.NewDomainRemovedEvent(ctx, agg, domainName))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}

// orgDomainPreflight validates the input, normalizes the domain and loads
// the org, which must exist.
func (c *Commands) orgDomainPreflight(ctx context.Context, orgID, domainName string) (*OrgWriteModel, string, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, "", err
	}
	if orgID == "" {
		return nil, "", errs.NewInvalidArgument(nil, "ORG-JsnL2", "org id is empty")
	}
	if err := domain.ValidateDomain(domainName); err != nil {
		return nil, "", err
	}
	domainName = domain.NormalizeDomain(domainName)

	wm := NewOrgWriteModel(instanceID, orgID)
	if err := c.load(ctx, wm); err != nil {
		return nil, "", err
	}
	if !wm.State.Exists() {
		return nil, "", errs.NewNotFound(nil, "ORG-kFq2w", "org %s not found", orgID)
	}
	return wm, domainName, nil
}
