package command

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/pat"
)

// AddedPersonalAccessToken is the result of AddPersonalAccessToken. Token
// is the signed JWT, returned exactly once; it is never stored.
type AddedPersonalAccessToken struct {
	Details *domain.ObjectDetails
	TokenID string
	Token   string
}

// patClaims is the JWT claim set of a personal access token.
type patClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// AddPersonalAccessToken issues a long lived API token for a user. The
// event records owner, expiration and scopes; the JWT is minted only after
// the write is durable, so a signing failure never leaves a stored token
// without a bearer.
func (c *Commands) AddPersonalAccessToken(ctx context.Context, orgID, userID string, expiration time.Time, scopes []string) (*AddedPersonalAccessToken, error) {
	if !expiration.After(time.Now()) {
		return nil, errs.NewInvalidArgument(nil, "PAT-sd3Fk", "expiration must be in the future")
	}
	if len(c.tokenSigningKey) == 0 {
		return nil, errs.NewInternal(nil, "PAT-9mWdq", "no token signing key configured")
	}

	userWM, err := c.userPreflight(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if userWM.State != domain.UserStateActive {
		return nil, errs.NewPreconditionFailed(nil, "PAT-zzR4t", "user %s cannot hold tokens in its current state", userID)
	}

	tokenID, err := c.nextID()
	if err != nil {
		return nil, err
	}

	if err := c.checker.Check(ctx, authz.PermissionTokenWrite, userWM.ResourceOwner, userID); err != nil {
		return nil, err
	}

	agg := pat.NewAggregate(userWM.InstanceID, userWM.ResourceOwner, tokenID)
	pushedEvents, err := c.es.Push(ctx, pat.NewAddedEvent(ctx, agg, &pat.AddedPayload{
		UserID:     userID,
		Expiration: expiration,
		Scopes:     scopes,
	}))
	if err != nil {
		return nil, err
	}

	wm := NewPersonalAccessTokenWriteModel(userWM.InstanceID, tokenID)
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}

	signed, err := c.signPersonalAccessToken(userWM.InstanceID, userID, tokenID, expiration, scopes)
	if err != nil {
		return nil, err
	}

	return &AddedPersonalAccessToken{
		Details: writeModelToDetails(&wm.WriteModel),
		TokenID: tokenID,
		Token:   signed,
	}, nil
}

// RemovePersonalAccessToken revokes a token.
func (c *Commands) RemovePersonalAccessToken(ctx context.Context, orgID, userID, tokenID string) (*domain.ObjectDetails, error) {
	instanceID, err := authz.InstanceID(ctx)
	if err != nil {
		return nil, err
	}
	if tokenID == "" {
		return nil, errs.NewInvalidArgument(nil, "PAT-wq1Rn", "token id is empty")
	}

	wm := NewPersonalAccessTokenWriteModel(instanceID, tokenID)
	if err := c.load(ctx, wm); err != nil {
		return nil, err
	}
	if !wm.State.Exists() || wm.UserID != userID || wm.ResourceOwner != orgID {
		return nil, errs.NewNotFound(nil, "PAT-dk82v", "token %s not found", tokenID)
	}

	if err := c.checker.Check(ctx, authz.PermissionTokenWrite, wm.ResourceOwner, userID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, pat.AggregateType)
	pushedEvents, err := c.es.Push(ctx, pat.NewRemovedEvent(ctx, agg))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}

func (c *Commands) signPersonalAccessToken(instanceID, userID, tokenID string, expiration time.Time, scopes []string) (string, error) {
	now := time.Now()
	claims := patClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    instanceID,
			Subject:   userID,
			ID:        tokenID,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.tokenSigningKey)
	if err != nil {
		return "", errs.NewInternal(err, "PAT-fa8Dz", "token signing failed")
	}
	return signed, nil
}
