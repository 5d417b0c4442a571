package command_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/command"
	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/eventstore/sqlite"
	"github.com/authapp/iamcore/pkg/notification"
)

const testInstance = "inst-1"

// newTestCommands wires Commands against a real in-memory store, a test
// AES key and a permit-all checker. Options override the defaults.
func newTestCommands(t *testing.T, opts ...command.Option) (*command.Commands, *eventstore.Eventstore) {
	t.Helper()
	store, err := sqlite.New(sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	es := eventstore.New(store)

	base := []command.Option{
		command.WithEncryption(testCrypto(t)),
		command.WithPermissionChecker(authz.PermitAllChecker()),
		command.WithTokenSigningKey([]byte("test-signing-key")),
	}
	return command.New(es, append(base, opts...)...), es
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

// recordingChecker captures every permission consultation, optionally
// denying them all.
type recordingChecker struct {
	mu    sync.Mutex
	calls []string
	deny  bool
}

func (r *recordingChecker) Check(_ context.Context, permission, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, permission)
	if r.deny {
		return errs.NewPermissionDenied(nil, "TEST-dny1x", "denied")
	}
	return nil
}

func (r *recordingChecker) checked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// captureSender records post-commit notifications.
type captureSender struct {
	mu   sync.Mutex
	msgs []*notification.Message
}

func (c *captureSender) Send(_ context.Context, msg *notification.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *msg
	c.msgs = append(c.msgs, &copied)
	return nil
}

func (c *captureSender) messages() []*notification.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*notification.Message(nil), c.msgs...)
}

// storePosition asserts on the log's tail so tests can prove an operation
// never reached the store.
func storePosition(t *testing.T, es *eventstore.Eventstore) uint64 {
	t.Helper()
	pos, err := es.LatestPosition(context.Background(), testInstance)
	require.NoError(t, err)
	return pos
}

// seedOrg creates an org and returns its ID.
func seedOrg(t *testing.T, c *command.Commands, name string) string {
	t.Helper()
	details, err := c.AddOrg(callerCtx(), name)
	require.NoError(t, err)
	require.NotEmpty(t, details.ID)
	return details.ID
}

// seedUser creates a user with a verified email and returns its ID.
func seedUser(t *testing.T, c *command.Commands, orgID, username string) string {
	t.Helper()
	details, err := c.AddHumanUser(callerCtx(), orgID, &command.AddHuman{
		Username:      username,
		FirstName:     "Erin",
		LastName:      "Examplesen",
		Email:         username + "@example.com",
		Password:      "correct-horse-battery-staple",
		EmailVerified: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, details.ID)
	return details.ID
}
