// Package command is the write side: every operation loads the write
// models it needs, validates input and state, checks the caller's
// permission, and appends events through the eventstore. The fixed order
// matters: a structurally broken request never costs a store access, a
// failed precondition never costs a permission check, and nothing reaches
// the log before every check has passed.
package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/id"
	"github.com/authapp/iamcore/pkg/notification"
	"github.com/authapp/iamcore/pkg/static"
)

const (
	defaultCodeExpiry      = time.Hour
	defaultSessionLifetime = 24 * time.Hour
)

// Commands bundles the write operations of all aggregates around their
// shared collaborators.
type Commands struct {
	es          *eventstore.Eventstore
	idGenerator id.Generator
	checker     authz.Checker
	encryption  crypto.EncryptionAlgorithm
	static      *static.Storage
	notifier    notification.Sender
	logger      *zap.Logger

	codeExpiry      time.Duration
	sessionLifetime time.Duration
	tokenSigningKey []byte
}

// Option configures Commands.
type Option func(*Commands)

// WithIDGenerator replaces the default sortable generator.
func WithIDGenerator(g id.Generator) Option {
	return func(c *Commands) { c.idGenerator = g }
}

// WithPermissionChecker sets the checker consulted by every operation.
func WithPermissionChecker(checker authz.Checker) Option {
	return func(c *Commands) { c.checker = checker }
}

// WithEncryption sets the algorithm for verification codes and session
// tokens.
func WithEncryption(alg crypto.EncryptionAlgorithm) Option {
	return func(c *Commands) { c.encryption = alg }
}

// WithStaticStorage sets the blob storage for user avatars.
func WithStaticStorage(storage *static.Storage) Option {
	return func(c *Commands) { c.static = storage }
}

// WithNotifier sets the post-commit notification sender.
func WithNotifier(sender notification.Sender) Option {
	return func(c *Commands) { c.notifier = sender }
}

// WithLogger sets the logger, zap.NewNop by default.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Commands) { c.logger = logger }
}

// WithCodeExpiry sets the verification code lifetime.
func WithCodeExpiry(d time.Duration) Option {
	return func(c *Commands) { c.codeExpiry = d }
}

// WithSessionLifetime sets the default session lifetime.
func WithSessionLifetime(d time.Duration) Option {
	return func(c *Commands) { c.sessionLifetime = d }
}

// WithTokenSigningKey sets the HMAC key signing personal access tokens.
func WithTokenSigningKey(key []byte) Option {
	return func(c *Commands) { c.tokenSigningKey = key }
}

// New creates the command side on top of the eventstore. Without options
// it generates sortable IDs and checks permissions against the default
// role matrix.
func New(es *eventstore.Eventstore, opts ...Option) *Commands {
	c := &Commands{
		es:              es,
		idGenerator:     id.NewSortableGenerator(),
		checker:         authz.NewDefaultChecker(),
		logger:          zap.NewNop(),
		codeExpiry:      defaultCodeExpiry,
		sessionLifetime: defaultSessionLifetime,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// load folds the write model's stream into it. A missing stream is not an
// error; the model then reports a nonexistent aggregate.
func (c *Commands) load(ctx context.Context, wm eventstore.Reducer) error {
	return c.es.QueryToReducer(ctx, wm)
}

// appendAndReduce folds freshly pushed events into the model, completing
// step seven of every operation.
func appendAndReduce(wm eventstore.Reducer, events ...*eventstore.Event) error {
	wm.AppendEvents(events...)
	return wm.Reduce()
}

// writeModelToDetails builds the write receipt from the model's
// bookkeeping after the final fold.
func writeModelToDetails(wm *eventstore.WriteModel) *domain.ObjectDetails {
	return &domain.ObjectDetails{
		Version:       wm.ProcessedVersion,
		EventDate:     wm.ChangeDate,
		ResourceOwner: wm.ResourceOwner,
		Position:      wm.Position,
	}
}

// nextID draws from the generator, mapping failure to Internal.
func (c *Commands) nextID() (string, error) {
	next, err := c.idGenerator.Next()
	if err != nil {
		return "", errs.NewInternal(err, "COMND-Jd8eq", "id generation failed")
	}
	return next, nil
}

// requireEncryption guards operations that need the code/token algorithm.
func (c *Commands) requireEncryption() error {
	if c.encryption == nil {
		return errs.NewInternal(nil, "COMND-fn91A", "no encryption algorithm configured")
	}
	return nil
}

// notify sends post-commit, fire and forget. The write already succeeded;
// a failed send is logged and swallowed.
func (c *Commands) notify(ctx context.Context, msg *notification.Message) {
	if c.notifier == nil {
		return
	}
	msg.CreatedAt = time.Now()
	if msg.CorrelationID == "" {
		msg.CorrelationID = authz.GetCtxData(ctx).CorrelationID
	}
	if err := c.notifier.Send(ctx, msg); err != nil {
		c.logger.Warn("notification send failed",
			zap.String("channel", string(msg.Channel)),
			zap.String("userID", msg.UserID),
			zap.Error(err))
	}
}
