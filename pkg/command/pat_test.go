package command_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/pkg/errs"
)

func TestAddPersonalAccessToken(t *testing.T) {
	c, _ := newTestCommands(t)
	ctx := callerCtx()
	orgID := seedOrg(t, c, "ACME")
	userID := seedUser(t, c, orgID, "alice")
	expiration := time.Now().Add(30 * 24 * time.Hour)

	added, err := c.AddPersonalAccessToken(ctx, orgID, userID, expiration, []string{"api.read", "api.write"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.TokenID)
	assert.Equal(t, orgID, added.Details.ResourceOwner)

	// The returned JWT is verifiable with the signing key and carries the
	// token's identity.
	var claims struct {
		Scopes []string `json:"scopes"`
		jwt.RegisteredClaims
	}
	parsed, err := jwt.ParseWithClaims(added.Token, &claims, func(*jwt.Token) (any, error) {
		return []byte("test-signing-key"), nil
	})
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.Equal(t, testInstance, claims.Issuer)
	assert.Equal(t, userID, claims.Subject)
	assert.Equal(t, added.TokenID, claims.ID)
	assert.Equal(t, []string{"api.read", "api.write"}, claims.Scopes)
	assert.WithinDuration(t, expiration, claims.ExpiresAt.Time, time.Second)
}

func TestAddPersonalAccessTokenGuards(t *testing.T) {
	c, es := newTestCommands(t)
	ctx := callerCtx()
	orgID := seedOrg(t, c, "ACME")
	userID := seedUser(t, c, orgID, "alice")
	before := storePosition(t, es)

	_, err := c.AddPersonalAccessToken(ctx, orgID, userID, time.Now().Add(-time.Minute), nil)
	assert.True(t, errs.IsInvalidArgument(err), "expiration in the past: %v", err)
	assert.Equal(t, before, storePosition(t, es))

	_, err = c.LockUser(ctx, orgID, userID)
	require.NoError(t, err)
	_, err = c.AddPersonalAccessToken(ctx, orgID, userID, time.Now().Add(time.Hour), nil)
	assert.True(t, errs.IsPreconditionFailed(err), "locked user must not mint tokens: %v", err)
}

func TestRemovePersonalAccessToken(t *testing.T) {
	c, _ := newTestCommands(t)
	ctx := callerCtx()
	orgID := seedOrg(t, c, "ACME")
	userID := seedUser(t, c, orgID, "alice")

	added, err := c.AddPersonalAccessToken(ctx, orgID, userID, time.Now().Add(time.Hour), nil)
	require.NoError(t, err)

	// A token is only reachable through its owner.
	otherID := seedUser(t, c, orgID, "bob")
	_, err = c.RemovePersonalAccessToken(ctx, orgID, otherID, added.TokenID)
	assert.True(t, errs.IsNotFound(err))

	_, err = c.RemovePersonalAccessToken(ctx, orgID, userID, added.TokenID)
	require.NoError(t, err)

	_, err = c.RemovePersonalAccessToken(ctx, orgID, userID, added.TokenID)
	assert.True(t, errs.IsNotFound(err), "double remove: %v", err)
}
