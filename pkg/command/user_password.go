package command

import (
	"context"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/password"
	"github.com/authapp/iamcore/pkg/repository/user"
)

// ChangeUserPassword replaces the user's password. When a password is
// already set the old one must be supplied and match; a user created
// passwordless sets their first password without one.
func (c *Commands) ChangeUserPassword(ctx context.Context, orgID, userID, oldPassword, newPassword string) (*domain.ObjectDetails, error) {
	if err := password.ValidateStrength(newPassword); err != nil {
		return nil, errs.NewInvalidArgument(err, "USER-io3Dv", "new password too weak")
	}

	wm, err := c.userPreflight(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if wm.EncodedHash != "" {
		if oldPassword == "" {
			return nil, errs.NewPreconditionFailed(nil, "USER-tf2Mn", "old password required")
		}
		if err := password.Compare(wm.EncodedHash, oldPassword); err != nil {
			return nil, errs.NewPreconditionFailed(err, "USER-3n6Fz", "old password does not match")
		}
	}

	if err := c.checker.Check(ctx, authz.PermissionUserWrite, wm.ResourceOwner, userID); err != nil {
		return nil, err
	}

	encoded, err := password.Hash(newPassword)
	if err != nil {
		return nil, errs.NewInternal(err, "USER-gs8Wq", "password hashing failed")
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, user.AggregateType)
	pushedEvents, err := c.es.Push(ctx, user.NewPasswordChangedEvent(ctx, agg, encoded))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}
