package command

import (
	"context"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/notification"
	"github.com/authapp/iamcore/pkg/password"
	"github.com/authapp/iamcore/pkg/repository/user"
)

const emailCodeLength = 8

// AddHuman is the input to AddHumanUser.
type AddHuman struct {
	Username    string
	FirstName   string
	LastName    string
	DisplayName string

	// PreferredLanguage is a BCP 47 tag, empty for unset.
	PreferredLanguage string

	Email string
	Phone string

	// Password is the initial plaintext password; empty starts the user
	// passwordless.
	Password string

	// EmailVerified skips the verification code, used when an admin vouches
	// for the address.
	EmailVerified bool
}

// humanPayload validates the input and builds the initial event payload,
// hashing the password when one is set.
func humanPayload(human *AddHuman) (*user.HumanAddedPayload, error) {
	username := domain.Username(human.Username).Normalize()
	if err := username.Validate(); err != nil {
		return nil, err
	}
	email := domain.EmailAddress(human.Email).Normalize()
	if err := email.Validate(); err != nil {
		return nil, err
	}
	if human.Phone != "" {
		if err := domain.PhoneNumber(human.Phone).Validate(); err != nil {
			return nil, err
		}
	}
	profile := &domain.Profile{FirstName: human.FirstName, LastName: human.LastName}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if _, err := domain.ParseLanguage(human.PreferredLanguage); err != nil {
		return nil, err
	}

	displayName := human.DisplayName
	if displayName == "" {
		displayName = profile.FullName()
	}
	payload := &user.HumanAddedPayload{
		Username:          string(username),
		FirstName:         human.FirstName,
		LastName:          human.LastName,
		DisplayName:       displayName,
		PreferredLanguage: human.PreferredLanguage,
		Email:             string(email),
		Phone:             human.Phone,
	}
	if human.Password != "" {
		if err := password.ValidateStrength(human.Password); err != nil {
			return nil, errs.NewInvalidArgument(err, "USER-zsQe2", "password too weak")
		}
		encoded, err := password.Hash(human.Password)
		if err != nil {
			return nil, errs.NewInternal(err, "USER-sm3Fp", "password hashing failed")
		}
		payload.EncodedHash = encoded
	}
	return payload, nil
}

// AddHumanUser creates a human user in the given org. The username is
// claimed instance-wide. Unless the email is marked verified, an encrypted
// verification code is issued in the same batch and sent post-commit.
func (c *Commands) AddHumanUser(ctx context.Context, orgID string, human *AddHuman) (*domain.ObjectDetails, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		return nil, errs.NewInvalidArgument(nil, "USER-XaDkf", "org id is empty")
	}
	payload, err := humanPayload(human)
	if err != nil {
		return nil, err
	}
	if !human.EmailVerified {
		if err := c.requireEncryption(); err != nil {
			return nil, err
		}
	}

	orgModel := NewOrgWriteModel(instanceID, orgID)
	if err := c.load(ctx, orgModel); err != nil {
		return nil, err
	}
	if !orgModel.State.Exists() {
		return nil, errs.NewNotFound(nil, "USER-he3Kq", "org %s not found", orgID)
	}
	if orgModel.State != domain.OrgStateActive {
		return nil, errs.NewPreconditionFailed(nil, "USER-am2Rw", "org %s is not active", orgID)
	}

	userID, err := c.nextID()
	if err != nil {
		return nil, err
	}

	if err := c.checker.Check(ctx, authz.PermissionUserWrite, orgID, userID); err != nil {
		return nil, err
	}

	agg := user.NewAggregate(instanceID, orgID, userID)
	commands := []eventstore.Command{user.NewHumanAddedEvent(ctx, agg, payload)}

	var plainCode string
	if human.EmailVerified {
		commands = append(commands, user.NewEmailVerifiedEvent(ctx, agg))
	} else {
		var crypted *crypto.CryptoValue
		plainCode, crypted, err = crypto.GenerateCode(emailCodeLength, c.encryption)
		if err != nil {
			return nil, err
		}
		commands = append(commands, user.NewEmailCodeAddedEvent(ctx, agg, crypted, c.codeExpiry))
	}

	pushedEvents, err := c.es.Push(ctx, commands...)
	if err != nil {
		return nil, err
	}

	wm := NewUserWriteModel(instanceID, userID)
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}

	if plainCode != "" {
		c.notify(ctx, &notification.Message{
			InstanceID: instanceID,
			UserID:     userID,
			Channel:    notification.ChannelEmail,
			Recipient:  payload.Email,
			Subject:    "Verify your email",
			Body:       plainCode,
		})
	}

	details := writeModelToDetails(&wm.WriteModel)
	details.ID = userID
	return details, nil
}

// LockUser blocks a user from authenticating until unlocked.
func (c *Commands) LockUser(ctx context.Context, orgID, userID string) (*domain.ObjectDetails, error) {
	return c.changeUserState(ctx, orgID, userID, func(wm *UserWriteModel) error {
		if wm.State == domain.UserStateLocked {
			return errs.NewPreconditionFailed(nil, "USER-1di9a", "user is already locked")
		}
		return nil
	}, user.NewLockedEvent)
}

// UnlockUser lifts a lock.
func (c *Commands) UnlockUser(ctx context.Context, orgID, userID string) (*domain.ObjectDetails, error) {
	return c.changeUserState(ctx, orgID, userID, func(wm *UserWriteModel) error {
		if wm.State != domain.UserStateLocked {
			return errs.NewPreconditionFailed(nil, "USER-o2Bqw", "user is not locked")
		}
		return nil
	}, user.NewUnlockedEvent)
}

// DeactivateUser disables an active user.
func (c *Commands) DeactivateUser(ctx context.Context, orgID, userID string) (*domain.ObjectDetails, error) {
	return c.changeUserState(ctx, orgID, userID, func(wm *UserWriteModel) error {
		if wm.State == domain.UserStateInactive {
			return errs.NewPreconditionFailed(nil, "USER-jsD3w", "user is already deactivated")
		}
		if wm.State != domain.UserStateActive {
			return errs.NewPreconditionFailed(nil, "USER-eQ2pz", "user cannot be deactivated in its current state")
		}
		return nil
	}, user.NewDeactivatedEvent)
}

// ReactivateUser re-enables a deactivated user.
func (c *Commands) ReactivateUser(ctx context.Context, orgID, userID string) (*domain.ObjectDetails, error) {
	return c.changeUserState(ctx, orgID, userID, func(wm *UserWriteModel) error {
		if wm.State != domain.UserStateInactive {
			return errs.NewPreconditionFailed(nil, "USER-mPq2a", "user is not deactivated")
		}
		return nil
	}, user.NewReactivatedEvent)
}

func (c *Commands) changeUserState(
	ctx context.Context,
	orgID, userID string,
	precondition func(*UserWriteModel) error,
	newEvent func(context.Context, *eventstore.Aggregate) *eventstore.BaseEvent,
) (*domain.ObjectDetails, error) {
	wm, err := c.userPreflight(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if err := precondition(wm); err != nil {
		return nil, err
	}

	if err := c.checker.Check(ctx, authz.PermissionUserWrite, wm.ResourceOwner, userID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, user.AggregateType)
	pushedEvents, err := c.es.Push(ctx, newEvent(ctx, agg))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}

// RemoveUser tombstones the user and releases the username for reuse.
func (c *Commands) RemoveUser(ctx context.Context, orgID, userID string) (*domain.ObjectDetails, error) {
	wm, err := c.userPreflight(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}

	if err := c.checker.Check(ctx, authz.PermissionUserWrite, wm.ResourceOwner, userID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, user.AggregateType)
	pushedEvents, err := c.es.Push(ctx, user.NewRemovedEvent(ctx, agg, wm.Username))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}

// userPreflight validates ids, loads the user write model and requires a
// live user.
func (c *Commands) userPreflight(ctx context.Context, orgID, userID string) (*UserWriteModel, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		return nil, errs.NewInvalidArgument(nil, "USER-fj2Nq", "org id is empty")
	}
	if userID == "" {
		return nil, errs.NewInvalidArgument(nil, "USER-wgB4q", "user id is empty")
	}

	wm := NewUserWriteModel(instanceID, userID)
	if err := c.load(ctx, wm); err != nil {
		return nil, err
	}
	if !wm.State.Exists() {
		return nil, errs.NewNotFound(nil, "USER-GfW2b", "user %s not found", userID)
	}
	if wm.ResourceOwner != orgID {
		return nil, errs.NewNotFound(nil, "USER-dkq3R", "user %s not found in org %s", userID, orgID)
	}
	return wm, nil
}
