package command

import (
	"context"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/notification"
	"github.com/authapp/iamcore/pkg/repository/user"
)

// ChangeUserEmail sets a new, unverified address and issues a fresh
// verification code. The address change and the code are appended as one
// batch so no reader ever sees the new address without a pending code.
func (c *Commands) ChangeUserEmail(ctx context.Context, orgID, userID, email string) (*domain.ObjectDetails, error) {
	address := domain.EmailAddress(email).Normalize()
	if err := address.Validate(); err != nil {
		return nil, err
	}
	if err := c.requireEncryption(); err != nil {
		return nil, err
	}

	wm, err := c.userPreflight(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if wm.Email == string(address) {
		return nil, errs.NewPreconditionFailed(nil, "USER-md9Ak", "email not changed")
	}

	if err := c.checker.Check(ctx, authz.PermissionUserWrite, wm.ResourceOwner, userID); err != nil {
		return nil, err
	}

	plainCode, crypted, err := crypto.GenerateCode(emailCodeLength, c.encryption)
	if err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, user.AggregateType)
	pushedEvents, err := c.es.PushMany(ctx,
		user.NewEmailChangedEvent(ctx, agg, string(address)),
		user.NewEmailCodeAddedEvent(ctx, agg, crypted, c.codeExpiry),
	)
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}

	c.notify(ctx, &notification.Message{
		InstanceID: wm.InstanceID,
		UserID:     userID,
		Channel:    notification.ChannelEmail,
		Recipient:  string(address),
		Subject:    "Verify your email",
		Body:       plainCode,
	})

	return writeModelToDetails(&wm.WriteModel), nil
}

// VerifyUserEmail checks the supplied code against the stored envelope
// and marks the address verified. Verifying an already verified address
// fails rather than appending a duplicate event.
func (c *Commands) VerifyUserEmail(ctx context.Context, orgID, userID, code string) (*domain.ObjectDetails, error) {
	if code == "" {
		return nil, errs.NewInvalidArgument(nil, "USER-jn3Lq", "verification code is empty")
	}
	if err := c.requireEncryption(); err != nil {
		return nil, err
	}

	wm, err := c.userPreflight(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if wm.EmailVerified {
		return nil, errs.NewPreconditionFailed(nil, "USER-zo2Fs", "email already verified")
	}
	if err := crypto.VerifyCode(wm.CodeCreation, wm.CodeExpiry, wm.Code, code, c.encryption); err != nil {
		return nil, err
	}

	if err := c.checker.Check(ctx, authz.PermissionUserWrite, wm.ResourceOwner, userID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, user.AggregateType)
	pushedEvents, err := c.es.Push(ctx, user.NewEmailVerifiedEvent(ctx, agg))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}
