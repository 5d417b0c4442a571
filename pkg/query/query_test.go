package query_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/cache"
	"github.com/authapp/iamcore/pkg/command"
	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/eventstore/sqlite"
	"github.com/authapp/iamcore/pkg/projection"
	"github.com/authapp/iamcore/pkg/query"
)

const testInstance = "inst-1"

// testEnv wires the full read path: commands push into a real store, the
// projection manager folds, queries read the tables.
type testEnv struct {
	commands *command.Commands
	queries  *query.Queries
	manager  *projection.Manager
	es       *eventstore.Eventstore
	store    *sqlite.Store
}

func newTestEnv(t *testing.T, opts ...query.Option) *testEnv {
	t.Helper()
	store, err := sqlite.New(sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	es := eventstore.New(store)

	commands := command.New(es,
		command.WithEncryption(testCrypto(t)),
		command.WithPermissionChecker(authz.PermitAllChecker()),
		command.WithTokenSigningKey([]byte("test-signing-key")),
	)

	manager, err := projection.NewManager(es, store.DB(), zap.NewNop(),
		projection.WithInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, manager.Register(context.Background(), query.Projections()...))
	manager.Start(context.Background())
	t.Cleanup(manager.Stop)

	base := []query.Option{query.WithPermissionChecker(authz.PermitAllChecker())}
	queries := query.New(es, store.DB(), append(base, opts...)...)

	return &testEnv{
		commands: commands,
		queries:  queries,
		manager:  manager,
		es:       es,
		store:    store,
	}
}

func testCrypto(t *testing.T) crypto.EncryptionAlgorithm {
	t.Helper()
	alg, err := crypto.NewAESCrypto("test", map[string][]byte{
		"test": bytes.Repeat([]byte("k"), 32),
	})
	require.NoError(t, err)
	return alg
}

func callerCtx() context.Context {
	return authz.WithCtxData(context.Background(), authz.CtxData{
		InstanceID:    testInstance,
		UserID:        "caller-1",
		OrgID:         "caller-org",
		Roles:         []string{authz.RoleIAMOwner},
		CorrelationID: "corr-1",
	})
}

// await blocks until every projection has folded the log up to the write.
func (e *testEnv) await(t *testing.T, details *domain.ObjectDetails) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, name := range []string{
		query.UsersProjectionName,
		query.OrgsProjectionName,
		query.SessionsProjectionName,
		query.PersonalAccessTokensProjectionName,
	} {
		require.NoError(t, e.manager.WaitForPosition(ctx, name, details.Position))
	}
}

func (e *testEnv) seedOrg(t *testing.T, name string) string {
	t.Helper()
	details, err := e.commands.AddOrg(callerCtx(), name)
	require.NoError(t, err)
	e.await(t, details)
	return details.ID
}

func (e *testEnv) seedUser(t *testing.T, orgID, username string) string {
	t.Helper()
	details, err := e.commands.AddHumanUser(callerCtx(), orgID, &command.AddHuman{
		Username:      username,
		FirstName:     "Erin",
		LastName:      "Examplesen",
		Email:         username + "@example.com",
		Password:      "correct-horse-battery-staple",
		EmailVerified: true,
	})
	require.NoError(t, err)
	e.await(t, details)
	return details.ID
}

func TestUserLookupAfterWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := callerCtx()

	orgID := env.seedOrg(t, "Acme")
	userID := env.seedUser(t, orgID, "erin")

	u, err := env.queries.UserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, u.ID)
	assert.Equal(t, orgID, u.ResourceOwner)
	assert.Equal(t, "erin", u.Username)
	assert.Equal(t, "erin@example.com", u.Email)
	assert.True(t, u.EmailVerified)
	assert.Equal(t, domain.UserStateActive, u.State)
	assert.Equal(t, "Erin Examplesen", u.DisplayName)
	assert.False(t, u.CreatedAt.IsZero())
	assert.NotZero(t, u.Position)

	byName, err := env.queries.UserByUsername(ctx, "  ERIN ")
	require.NoError(t, err)
	assert.Equal(t, userID, byName.ID)

	details, err := env.commands.ChangeUserProfile(ctx, orgID, userID, command.ChangeProfile{
		FirstName:         "Erin",
		LastName:          "Quorra",
		PreferredLanguage: "de",
	})
	require.NoError(t, err)
	env.await(t, details)

	u2, err := env.queries.UserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Quorra", u2.LastName)
	assert.Equal(t, "Erin Quorra", u2.DisplayName)
	assert.Equal(t, "de", u2.PreferredLanguage)
	assert.False(t, u2.ChangedAt.Before(u.ChangedAt))
	assert.Greater(t, u2.Position, u.Position)

	details, err = env.commands.ChangeUserEmail(ctx, orgID, userID, "erin.quorra@example.com")
	require.NoError(t, err)
	env.await(t, details)

	u3, err := env.queries.UserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "erin.quorra@example.com", u3.Email)
	assert.False(t, u3.EmailVerified, "address change resets verification")

	details, err = env.commands.LockUser(ctx, orgID, userID)
	require.NoError(t, err)
	env.await(t, details)

	u4, err := env.queries.UserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.UserStateLocked, u4.State)
}

func TestRemovedUserDisappears(t *testing.T) {
	env := newTestEnv(t)
	ctx := callerCtx()

	orgID := env.seedOrg(t, "Acme")
	userID := env.seedUser(t, orgID, "erin")

	details, err := env.commands.RemoveUser(ctx, orgID, userID)
	require.NoError(t, err)
	env.await(t, details)

	_, err = env.queries.UserByID(ctx, userID)
	assert.True(t, errs.IsNotFound(err))

	users, err := env.queries.SearchUsers(ctx, orgID, "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestSearchUsersFiltersAndPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := callerCtx()

	orgID := env.seedOrg(t, "Acme")
	env.seedUser(t, orgID, "anna")
	env.seedUser(t, orgID, "bob")
	env.seedUser(t, orgID, "carol")

	otherOrg := env.seedOrg(t, "Globex")
	env.seedUser(t, otherOrg, "dave")

	all, err := env.queries.SearchUsers(ctx, orgID, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3, "other orgs stay out")
	assert.Equal(t, "anna", all[0].Username)
	assert.Equal(t, "bob", all[1].Username)
	assert.Equal(t, "carol", all[2].Username)

	matched, err := env.queries.SearchUsers(ctx, orgID, "ar", 0, 0)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "carol", matched[0].Username)

	page, err := env.queries.SearchUsers(ctx, orgID, "", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	page, err = env.queries.SearchUsers(ctx, orgID, "", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "carol", page[0].Username)

	// SQL wildcards in the filter match literally, not as patterns.
	none, err := env.queries.SearchUsers(ctx, orgID, "%", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOrgReadSide(t *testing.T) {
	env := newTestEnv(t)
	ctx := callerCtx()

	orgID := env.seedOrg(t, "Acme")

	details, err := env.commands.ChangeOrg(ctx, orgID, "Acme GmbH")
	require.NoError(t, err)
	env.await(t, details)

	o, err := env.queries.OrgByID(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, "Acme GmbH", o.Name)
	assert.Equal(t, domain.OrgStateActive, o.State)
	assert.Empty(t, o.PrimaryDomain)

	_, err = env.commands.AddOrgDomain(ctx, orgID, "acme.example.com")
	require.NoError(t, err)
	details, err = env.commands.AddOrgDomain(ctx, orgID, "shop.example.com")
	require.NoError(t, err)
	env.await(t, details)

	details, err = env.commands.SetPrimaryOrgDomain(ctx, orgID, "acme.example.com")
	require.NoError(t, err)
	env.await(t, details)

	o, err = env.queries.OrgByID(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, "acme.example.com", o.PrimaryDomain)

	byDomain, err := env.queries.OrgByDomain(ctx, "ACME.Example.Com")
	require.NoError(t, err)
	assert.Equal(t, orgID, byDomain.ID)

	domains, err := env.queries.OrgDomains(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "acme.example.com", domains[0].Domain)
	assert.True(t, domains[0].IsPrimary)
	assert.Equal(t, "shop.example.com", domains[1].Domain)
	assert.False(t, domains[1].IsPrimary)

	details, err = env.commands.RemoveOrgDomain(ctx, orgID, "shop.example.com")
	require.NoError(t, err)
	env.await(t, details)

	_, err = env.queries.OrgByDomain(ctx, "shop.example.com")
	assert.True(t, errs.IsNotFound(err))
	domains, err = env.queries.OrgDomains(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, domains, 1)

	details, err = env.commands.DeactivateOrg(ctx, orgID)
	require.NoError(t, err)
	env.await(t, details)

	o, err = env.queries.OrgByID(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrgStateInactive, o.State)
}

func TestSessionReadSide(t *testing.T) {
	env := newTestEnv(t)
	ctx := callerCtx()

	orgID := env.seedOrg(t, "Acme")
	userID := env.seedUser(t, orgID, "erin")

	bounded, err := env.commands.CreateSession(ctx, userID, map[string]string{"user_agent": "cli"}, time.Hour)
	require.NoError(t, err)
	env.await(t, bounded.Details)

	s, err := env.queries.SessionByID(ctx, bounded.SessionID)
	require.NoError(t, err)
	assert.Equal(t, userID, s.UserID)
	assert.Equal(t, orgID, s.ResourceOwner)
	assert.Equal(t, domain.SessionStateActive, s.State)
	assert.Equal(t, map[string]string{"user_agent": "cli"}, s.Metadata)
	assert.WithinDuration(t, s.CreatedAt.Add(time.Hour), s.ExpiresAt, time.Second)
	assert.True(t, s.Active(time.Now()))
	assert.False(t, s.Active(time.Now().Add(2*time.Hour)))

	unbounded, err := env.commands.CreateSession(ctx, userID, nil, 0)
	require.NoError(t, err)
	env.await(t, unbounded.Details)

	s2, err := env.queries.SessionByID(ctx, unbounded.SessionID)
	require.NoError(t, err)
	assert.True(t, s2.ExpiresAt.IsZero())
	assert.True(t, s2.Active(time.Now().Add(100*time.Hour)))

	details, err := env.commands.TerminateSession(ctx, bounded.SessionID)
	require.NoError(t, err)
	env.await(t, details)

	s, err = env.queries.SessionByID(ctx, bounded.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateTerminated, s.State)

	active, err := env.queries.ActiveSessionsOfUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, unbounded.SessionID, active[0].ID)
}

func TestExpiredSessionsAreNotActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := callerCtx()

	orgID := env.seedOrg(t, "Acme")
	userID := env.seedUser(t, orgID, "erin")

	created, err := env.commands.CreateSession(ctx, userID, nil, time.Millisecond)
	require.NoError(t, err)
	env.await(t, created.Details)

	time.Sleep(5 * time.Millisecond)

	active, err := env.queries.ActiveSessionsOfUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, active)

	// The row itself stays; only the active view filters it.
	s, err := env.queries.SessionByID(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateActive, s.State)
	assert.False(t, s.Active(time.Now()))
}

func TestPersonalAccessTokenReadSide(t *testing.T) {
	env := newTestEnv(t)
	ctx := callerCtx()

	orgID := env.seedOrg(t, "Acme")
	userID := env.seedUser(t, orgID, "erin")

	expiration := time.Now().Add(24 * time.Hour)
	first, err := env.commands.AddPersonalAccessToken(ctx, orgID, userID, expiration, []string{"api"})
	require.NoError(t, err)
	second, err := env.commands.AddPersonalAccessToken(ctx, orgID, userID, expiration, nil)
	require.NoError(t, err)
	env.await(t, second.Details)

	tok, err := env.queries.PersonalAccessTokenByID(ctx, first.TokenID)
	require.NoError(t, err)
	assert.Equal(t, userID, tok.UserID)
	assert.Equal(t, orgID, tok.ResourceOwner)
	assert.Equal(t, []string{"api"}, tok.Scopes)
	assert.WithinDuration(t, expiration, tok.Expiration, time.Second)

	tokens, err := env.queries.PersonalAccessTokensOfUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, second.TokenID, tokens[0].ID, "newest first")
	assert.Equal(t, first.TokenID, tokens[1].ID)

	details, err := env.commands.RemovePersonalAccessToken(ctx, orgID, userID, first.TokenID)
	require.NoError(t, err)
	env.await(t, details)

	_, err = env.queries.PersonalAccessTokenByID(ctx, first.TokenID)
	assert.True(t, errs.IsNotFound(err))
	tokens, err = env.queries.PersonalAccessTokensOfUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
}

func TestByIDLookupsServeFromCache(t *testing.T) {
	env := newTestEnv(t,
		query.WithCache(cache.NewMemoryCache()),
		query.WithCacheTTL(time.Hour),
	)
	ctx := callerCtx()

	orgID := env.seedOrg(t, "Acme")
	userID := env.seedUser(t, orgID, "erin")

	u, err := env.queries.UserByID(ctx, userID)
	require.NoError(t, err)

	// Pull the row out from under the cache; a cached read must not notice.
	_, err = env.store.DB().Exec("DELETE FROM projection_users")
	require.NoError(t, err)

	cached, err := env.queries.UserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, cached.ID)
	assert.Equal(t, u.Username, cached.Username)
	assert.Equal(t, u.Position, cached.Position)
	assert.True(t, u.CreatedAt.Equal(cached.CreatedAt))

	uncached := query.New(env.es, env.store.DB(),
		query.WithPermissionChecker(authz.PermitAllChecker()))
	_, err = uncached.UserByID(ctx, userID)
	assert.True(t, errs.IsNotFound(err))
}

func TestReadPermissions(t *testing.T) {
	env := newTestEnv(t, query.WithPermissionChecker(authz.NewDefaultChecker()))

	orgID := env.seedOrg(t, "Acme")
	aliceID := env.seedUser(t, orgID, "alice")
	bobID := env.seedUser(t, orgID, "bob")
	otherOrg := env.seedOrg(t, "Globex")
	carolID := env.seedUser(t, otherOrg, "carol")

	memberCtx := authz.WithCtxData(context.Background(), authz.CtxData{
		InstanceID: testInstance,
		UserID:     aliceID,
		OrgID:      orgID,
		Roles:      []string{authz.RoleOrgMember},
	})

	// Org members read users of their own org only.
	_, err := env.queries.UserByID(memberCtx, bobID)
	require.NoError(t, err)
	_, err = env.queries.UserByID(memberCtx, carolID)
	assert.True(t, errs.IsPermissionDenied(err))
	_, err = env.queries.SearchUsers(memberCtx, otherOrg, "", 0, 0)
	assert.True(t, errs.IsPermissionDenied(err))

	// Without any role a caller still reads themselves.
	selfCtx := authz.WithCtxData(context.Background(), authz.CtxData{
		InstanceID: testInstance,
		UserID:     aliceID,
		OrgID:      orgID,
	})
	self, err := env.queries.UserByID(selfCtx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, "alice", self.Username)
	_, err = env.queries.UserByID(selfCtx, bobID)
	assert.True(t, errs.IsPermissionDenied(err))

	// No instance in context fails before any table access.
	_, err = env.queries.UserByID(context.Background(), aliceID)
	assert.True(t, errs.IsInvalidArgument(err))
}

func TestRebuildMatchesIncremental(t *testing.T) {
	env := newTestEnv(t)
	ctx := callerCtx()

	orgID := env.seedOrg(t, "Acme")
	aliceID := env.seedUser(t, orgID, "alice")
	bobID := env.seedUser(t, orgID, "bob")

	_, err := env.commands.ChangeUserProfile(ctx, orgID, aliceID, command.ChangeProfile{
		FirstName: "Alice", LastName: "Walker",
	})
	require.NoError(t, err)
	_, err = env.commands.AddOrgDomain(ctx, orgID, "acme.example.com")
	require.NoError(t, err)
	_, err = env.commands.SetPrimaryOrgDomain(ctx, orgID, "acme.example.com")
	require.NoError(t, err)
	session, err := env.commands.CreateSession(ctx, aliceID, map[string]string{"k": "v"}, time.Hour)
	require.NoError(t, err)
	_, err = env.commands.AddPersonalAccessToken(ctx, orgID, aliceID, time.Now().Add(time.Hour), []string{"api"})
	require.NoError(t, err)
	details, err := env.commands.RemoveUser(ctx, orgID, bobID)
	require.NoError(t, err)
	env.await(t, details)

	users, err := env.queries.SearchUsers(ctx, orgID, "", 0, 0)
	require.NoError(t, err)
	org, err := env.queries.OrgByID(ctx, orgID)
	require.NoError(t, err)
	domains, err := env.queries.OrgDomains(ctx, orgID)
	require.NoError(t, err)
	sessions, err := env.queries.ActiveSessionsOfUser(ctx, aliceID)
	require.NoError(t, err)
	tokens, err := env.queries.PersonalAccessTokensOfUser(ctx, aliceID)
	require.NoError(t, err)

	env.manager.Stop()
	require.NoError(t, env.manager.Rebuild(context.Background()))

	rebuiltUsers, err := env.queries.SearchUsers(ctx, orgID, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, users, rebuiltUsers)
	rebuiltOrg, err := env.queries.OrgByID(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, org, rebuiltOrg)
	rebuiltDomains, err := env.queries.OrgDomains(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, domains, rebuiltDomains)
	rebuiltSessions, err := env.queries.ActiveSessionsOfUser(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, sessions, rebuiltSessions)
	rebuiltTokens, err := env.queries.PersonalAccessTokensOfUser(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, tokens, rebuiltTokens)

	_, err = env.queries.SessionByID(ctx, session.SessionID)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.queries.Health(context.Background()))
}
