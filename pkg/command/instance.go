package command

import (
	"context"
	"strings"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/instance"
	"github.com/authapp/iamcore/pkg/repository/org"
	"github.com/authapp/iamcore/pkg/repository/user"
)

// InstanceSetup is the input to SetUpInstance: the tenant, its first org
// and the admin user owning it.
type InstanceSetup struct {
	InstanceName string
	OrgName      string
	Admin        AddHuman
}

// SetUpInstanceResult carries the IDs minted during setup.
type SetUpInstanceResult struct {
	Details     *domain.ObjectDetails
	OrgID       string
	AdminUserID string
}

// SetUpInstance bootstraps a tenant: the instance record, its default org
// and the first admin user are appended in one atomic batch across the
// three aggregates. Either the whole tenant exists afterwards or none of
// it does. The admin's email is trusted, no verification code is issued.
func (c *Commands) SetUpInstance(ctx context.Context, setup *InstanceSetup) (*SetUpInstanceResult, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	instanceName := strings.TrimSpace(setup.InstanceName)
	if instanceName == "" {
		return nil, errs.NewInvalidArgument(nil, "INSTA-k2Kfq", "instance name is empty")
	}
	orgName := strings.TrimSpace(setup.OrgName)
	if orgName == "" {
		return nil, errs.NewInvalidArgument(nil, "INSTA-zx0Bw", "org name is empty")
	}
	admin := setup.Admin
	admin.EmailVerified = true
	payload, err := humanPayload(&admin)
	if err != nil {
		return nil, err
	}

	wm := NewInstanceWriteModel(instanceID)
	if err := c.load(ctx, wm); err != nil {
		return nil, err
	}
	if wm.State.Exists() {
		return nil, errs.NewAlreadyExists(nil, "INSTA-3bNqk", "instance %s is already set up", instanceID)
	}

	if err := c.checker.Check(ctx, authz.PermissionInstanceWrite, instanceID, instanceID); err != nil {
		return nil, err
	}

	orgID, err := c.nextID()
	if err != nil {
		return nil, err
	}
	adminID, err := c.nextID()
	if err != nil {
		return nil, err
	}

	instanceAgg := instance.NewAggregate(instanceID)
	orgAgg := org.NewAggregate(instanceID, orgID)
	userAgg := user.NewAggregate(instanceID, orgID, adminID)

	pushedEvents, err := c.es.PushMany(ctx,
		instance.NewAddedEvent(ctx, instanceAgg, instanceName),
		org.NewAddedEvent(ctx, orgAgg, orgName),
		user.NewHumanAddedEvent(ctx, userAgg, payload),
		user.NewEmailVerifiedEvent(ctx, userAgg),
		instance.NewDefaultOrgSetEvent(ctx, instanceAgg, orgID),
	)
	if err != nil {
		return nil, err
	}

	var instanceEvents []*eventstore.Event
	for _, event := range pushedEvents {
		if event.AggregateType == instance.AggregateType {
			instanceEvents = append(instanceEvents, event)
		}
	}
	if err := appendAndReduce(wm, instanceEvents...); err != nil {
		return nil, err
	}

	details := writeModelToDetails(&wm.WriteModel)
	details.ID = instanceID
	return &SetUpInstanceResult{
		Details:     details,
		OrgID:       orgID,
		AdminUserID: adminID,
	}, nil
}
