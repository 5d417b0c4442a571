package command_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/session"
)

func TestCreateSession(t *testing.T) {
	c, es := newTestCommands(t)
	ctx := callerCtx()
	orgID := seedOrg(t, c, "ACME")
	userID := seedUser(t, c, orgID, "alice")

	created, err := c.CreateSession(ctx, userID, map[string]string{"device": "laptop"}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, created.SessionID)
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, orgID, created.Details.ResourceOwner, "sessions live in the user's org")
	// session.added plus the metadata batch.
	assert.Equal(t, uint64(2), created.Details.Version)

	// Only the encrypted token is stored; it decrypts back to the one
	// handed out.
	events, err := es.Query(ctx, eventstore.NewSearchQueryBuilder(testInstance).
		MatchAggregate(session.AggregateType, created.SessionID))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	var payload session.AddedPayload
	require.NoError(t, events[0].UnmarshalPayload(&payload))
	require.NotNil(t, payload.Token)
	plain, err := crypto.DecryptString(payload.Token, testCrypto(t))
	require.NoError(t, err)
	assert.Equal(t, created.Token, plain)
	assert.NotContains(t, string(events[0].Payload), created.Token)
}

func TestCreateSessionRequiresActiveUser(t *testing.T) {
	c, _ := newTestCommands(t)
	ctx := callerCtx()
	orgID := seedOrg(t, c, "ACME")
	userID := seedUser(t, c, orgID, "alice")

	_, err := c.CreateSession(ctx, "ghost", nil, 0)
	assert.True(t, errs.IsNotFound(err))

	_, err = c.LockUser(ctx, orgID, userID)
	require.NoError(t, err)
	_, err = c.CreateSession(ctx, userID, nil, 0)
	assert.True(t, errs.IsPreconditionFailed(err), "locked user must not authenticate: %v", err)

	_, err = c.CreateSession(ctx, userID, nil, -time.Hour)
	assert.True(t, errs.IsInvalidArgument(err))
}

func TestSetSessionMetadata(t *testing.T) {
	c, _ := newTestCommands(t)
	ctx := callerCtx()
	orgID := seedOrg(t, c, "ACME")
	userID := seedUser(t, c, orgID, "alice")

	created, err := c.CreateSession(ctx, userID, map[string]string{"device": "laptop"}, 0)
	require.NoError(t, err)

	_, err = c.SetSessionMetadata(ctx, created.SessionID, map[string]string{"device": "laptop"})
	assert.True(t, errs.IsPreconditionFailed(err), "unchanged metadata: %v", err)

	details, err := c.SetSessionMetadata(ctx, created.SessionID, map[string]string{"device": "phone"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), details.Version)

	_, err = c.SetSessionMetadata(ctx, "ghost", map[string]string{"k": "v"})
	assert.True(t, errs.IsNotFound(err))
}

func TestTerminateSession(t *testing.T) {
	c, _ := newTestCommands(t)
	ctx := callerCtx()
	orgID := seedOrg(t, c, "ACME")
	userID := seedUser(t, c, orgID, "alice")

	created, err := c.CreateSession(ctx, userID, nil, 0)
	require.NoError(t, err)

	_, err = c.TerminateSession(ctx, created.SessionID)
	require.NoError(t, err)

	_, err = c.TerminateSession(ctx, created.SessionID)
	assert.True(t, errs.IsPreconditionFailed(err), "double terminate: %v", err)

	_, err = c.SetSessionMetadata(ctx, created.SessionID, map[string]string{"k": "v"})
	assert.True(t, errs.IsPreconditionFailed(err), "terminated sessions are frozen: %v", err)
}
