package command

import (
	"context"

	"go.uber.org/zap"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/user"
	"github.com/authapp/iamcore/pkg/static"
)

// maxAvatarSize bounds uploads; avatars are small images, not documents.
const maxAvatarSize = 1 << 20

// AddUserAvatar uploads the image to blob storage and records the key on
// the user. The upload happens before the push; if the push fails the
// object is removed again, best effort.
func (c *Commands) AddUserAvatar(ctx context.Context, orgID, userID, contentType string, data []byte) (*domain.ObjectDetails, error) {
	if len(data) == 0 {
		return nil, errs.NewInvalidArgument(nil, "USER-tQ9zc", "avatar data is empty")
	}
	if len(data) > maxAvatarSize {
		return nil, errs.NewInvalidArgument(nil, "USER-mB81d", "avatar exceeds %d bytes", maxAvatarSize)
	}
	if contentType == "" {
		return nil, errs.NewInvalidArgument(nil, "USER-xp2Hq", "content type is empty")
	}
	if c.static == nil {
		return nil, errs.NewInternal(nil, "USER-gxT3w", "no static storage configured")
	}

	wm, err := c.userPreflight(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}

	if err := c.checker.Check(ctx, authz.PermissionUserWrite, wm.ResourceOwner, userID); err != nil {
		return nil, err
	}

	key := static.UserAvatarKey(wm.InstanceID, wm.ResourceOwner, userID)
	if _, err := c.static.Put(ctx, key, contentType, data); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, user.AggregateType)
	pushedEvents, err := c.es.Push(ctx, user.NewAvatarAddedEvent(ctx, agg, key))
	if err != nil {
		if removeErr := c.static.Remove(ctx, key); removeErr != nil {
			c.logger.Warn("orphaned avatar object after failed push",
				zap.String("key", key), zap.Error(removeErr))
		}
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}

// RemoveUserAvatar deletes the stored object and clears the key. A user
// without an avatar cannot have one removed.
func (c *Commands) RemoveUserAvatar(ctx context.Context, orgID, userID string) (*domain.ObjectDetails, error) {
	if c.static == nil {
		return nil, errs.NewInternal(nil, "USER-b3Wfq", "no static storage configured")
	}

	wm, err := c.userPreflight(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if wm.AvatarKey == "" {
		return nil, errs.NewPreconditionFailed(nil, "USER-vrM0q", "user has no avatar")
	}

	if err := c.checker.Check(ctx, authz.PermissionUserWrite, wm.ResourceOwner, userID); err != nil {
		return nil, err
	}

	// Removing a missing object is fine; the event is the source of truth.
	if err := c.static.Remove(ctx, wm.AvatarKey); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, user.AggregateType)
	pushedEvents, err := c.es.Push(ctx, user.NewAvatarRemovedEvent(ctx, agg))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}
