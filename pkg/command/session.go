package command

import (
	"context"
	"time"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/session"
)

// CreatedSession is the result of CreateSession. Token is the plaintext
// session token, returned exactly once; only its encrypted form is stored.
type CreatedSession struct {
	Details   *domain.ObjectDetails
	SessionID string
	Token     string
}

// CreateSession starts a session for a user. The user must exist and be
// active; a locked or deactivated user cannot authenticate.
func (c *Commands) CreateSession(ctx context.Context, userID string, metadata map[string]string, lifetime time.Duration) (*CreatedSession, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errs.NewInvalidArgument(nil, "SESSN-fhr2q", "user id is empty")
	}
	if lifetime < 0 {
		return nil, errs.NewInvalidArgument(nil, "SESSN-J9dmx", "lifetime must not be negative")
	}
	if err := c.requireEncryption(); err != nil {
		return nil, err
	}
	if lifetime == 0 {
		lifetime = c.sessionLifetime
	}

	userWM := NewUserWriteModel(instanceID, userID)
	if err := c.load(ctx, userWM); err != nil {
		return nil, err
	}
	if !userWM.State.Exists() {
		return nil, errs.NewNotFound(nil, "SESSN-c2Ryq", "user %s not found", userID)
	}
	if userWM.State != domain.UserStateActive {
		return nil, errs.NewPreconditionFailed(nil, "SESSN-wj3Bk", "user %s cannot authenticate in its current state", userID)
	}

	sessionID, err := c.nextID()
	if err != nil {
		return nil, err
	}

	if err := c.checker.Check(ctx, authz.PermissionSessionWrite, userWM.ResourceOwner, sessionID); err != nil {
		return nil, err
	}

	plainToken, err := c.nextID()
	if err != nil {
		return nil, err
	}
	cryptedToken, err := crypto.Encrypt([]byte(plainToken), c.encryption)
	if err != nil {
		return nil, err
	}

	agg := session.NewAggregate(instanceID, userWM.ResourceOwner, sessionID)
	commands := []eventstore.Command{
		session.NewAddedEvent(ctx, agg, &session.AddedPayload{
			UserID:            userID,
			UserResourceOwner: userWM.ResourceOwner,
			Token:             cryptedToken,
			Lifetime:          lifetime,
		}),
	}
	if len(metadata) > 0 {
		commands = append(commands, session.NewMetadataSetEvent(ctx, agg, metadata))
	}

	pushedEvents, err := c.es.Push(ctx, commands...)
	if err != nil {
		return nil, err
	}

	wm := NewSessionWriteModel(instanceID, sessionID)
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return &CreatedSession{
		Details:   writeModelToDetails(&wm.WriteModel),
		SessionID: sessionID,
		Token:     plainToken,
	}, nil
}

// SetSessionMetadata replaces the session's metadata. Submitting the
// stored metadata unchanged fails instead of appending a no-op event.
func (c *Commands) SetSessionMetadata(ctx context.Context, sessionID string, metadata map[string]string) (*domain.ObjectDetails, error) {
	wm, err := c.sessionPreflight(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if wm.metadataEqual(metadata) {
		return nil, errs.NewPreconditionFailed(nil, "SESSN-gkY2f", "metadata not changed")
	}

	if err := c.checker.Check(ctx, authz.PermissionSessionWrite, wm.ResourceOwner, sessionID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, session.AggregateType)
	pushedEvents, err := c.es.Push(ctx, session.NewMetadataSetEvent(ctx, agg, metadata))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}

// TerminateSession ends a session. Terminating twice fails.
func (c *Commands) TerminateSession(ctx context.Context, sessionID string) (*domain.ObjectDetails, error) {
	wm, err := c.sessionPreflight(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := c.checker.Check(ctx, authz.PermissionSessionWrite, wm.ResourceOwner, sessionID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, session.AggregateType)
	pushedEvents, err := c.es.Push(ctx, session.NewTerminatedEvent(ctx, agg))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}

// sessionPreflight loads the session and requires it to be active.
func (c *Commands) sessionPreflight(ctx context.Context, sessionID string) (*SessionWriteModel, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, errs.NewInvalidArgument(nil, "SESSN-mw0Xz", "session id is empty")
	}

	wm := NewSessionWriteModel(instanceID, sessionID)
	if err := c.load(ctx, wm); err != nil {
		return nil, err
	}
	if wm.State == domain.SessionStateUnspecified {
		return nil, errs.NewNotFound(nil, "SESSN-pbQ3e", "session %s not found", sessionID)
	}
	if wm.State == domain.SessionStateTerminated {
		return nil, errs.NewPreconditionFailed(nil, "SESSN-ql4Hn", "session %s is terminated", sessionID)
	}
	return wm, nil
}
