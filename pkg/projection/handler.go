// Package projection folds the event log into read tables. Each projection
// runs in its own handler goroutine: it scans events past its checkpoint in
// bounded batches and commits data changes and checkpoint advance in one
// transaction, so a crash can never leave them apart.
package projection

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
)

// ReduceFunc applies one event to the projection's table inside the
// handler's transaction.
type ReduceFunc func(ctx context.Context, tx *sql.Tx, event *eventstore.Event) error

// Projection owns one read table set and declares the event types it folds.
type Projection interface {
	Name() string

	// Init creates the projection's tables. Called once at registration,
	// must be idempotent.
	Init(ctx context.Context, db *sql.DB) error

	// Reset clears all projection data inside a rebuild transaction.
	Reset(ctx context.Context, tx *sql.Tx) error

	// Reducers maps consumed event types to their reduce funcs. Events of
	// any other type pass the projection by, advancing only the checkpoint.
	Reducers() map[eventstore.EventType]ReduceFunc
}

const (
	defaultInterval    = 500 * time.Millisecond
	defaultBatchSize   = 200
	defaultWaitPoll    = 10 * time.Millisecond
	failuresUntilState = 3
)

// Handler drives one projection.
type Handler struct {
	projection  Projection
	reducers    map[eventstore.EventType]ReduceFunc
	es          *eventstore.Eventstore
	checkpoints *CheckpointStore
	statuses    *StatusStore
	logger      *zap.Logger

	interval  time.Duration
	batchSize uint64

	mu       sync.Mutex // serializes catch-up and rebuild
	failures int

	wake chan struct{}
	done chan struct{}
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithInterval sets the poll interval between catch-up rounds.
func WithInterval(d time.Duration) HandlerOption {
	return func(h *Handler) { h.interval = d }
}

// WithBatchSize caps how many events one transaction folds.
func WithBatchSize(n uint64) HandlerOption {
	return func(h *Handler) { h.batchSize = n }
}

// WithHandlerLogger sets the logger, zap.NewNop by default.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler builds the handler for one projection.
func NewHandler(projection Projection, es *eventstore.Eventstore, checkpoints *CheckpointStore, opts ...HandlerOption) *Handler {
	h := &Handler{
		projection:  projection,
		reducers:    projection.Reducers(),
		es:          es,
		checkpoints: checkpoints,
		statuses:    NewStatusStore(checkpoints.DB()),
		logger:      zap.NewNop(),
		interval:    defaultInterval,
		batchSize:   defaultBatchSize,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(zap.String("projection", projection.Name()))
	return h
}

// Init creates the projection's tables and its checkpoint and status rows.
// Must run once before Start or Rebuild.
func (h *Handler) Init(ctx context.Context) error {
	name := h.projection.Name()
	if err := h.projection.Init(ctx, h.checkpoints.DB()); err != nil {
		return errs.NewInternal(err, "PROJE-in9Gd", "init %s", name)
	}
	if err := h.checkpoints.Ensure(ctx, name); err != nil {
		return err
	}
	status, err := h.statuses.Load(ctx, name)
	if err != nil {
		return err
	}
	if status.UpdatedAt.IsZero() {
		return h.statuses.Save(ctx, &Status{ProjectionName: name, State: StateStopped})
	}
	return nil
}

// Start runs the handler loop until ctx is canceled.
func (h *Handler) Start(ctx context.Context) {
	go h.run(ctx)
}

// Done is closed when the handler loop has exited.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Trigger wakes the handler before its next poll tick. Safe from any
// goroutine; wake-ups coalesce.
func (h *Handler) Trigger() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handler) run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.saveStatus(stopCtx, StateStopped, "")
	}()

	h.saveStatus(ctx, StateRunning, "")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		h.catchUp(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-h.wake:
		}
	}
}

// catchUp folds batches until the projection has seen every committed
// event or an error interrupts the round.
func (h *Handler) catchUp(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		n, err := h.processBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.failures++
			h.logger.Warn("catch-up round failed",
				zap.Error(err),
				zap.Int("consecutive_failures", h.failures))
			state := StateRunning
			if h.failures >= failuresUntilState {
				state = StateFailing
			}
			h.saveStatus(ctx, state, err.Error())
			return
		}
		if h.failures > 0 {
			h.failures = 0
			h.saveStatus(ctx, StateRunning, "")
		}
		if n < int(h.batchSize) {
			return
		}
	}
}

func (h *Handler) saveStatus(ctx context.Context, state State, lastError string) {
	status := &Status{
		ProjectionName:      h.projection.Name(),
		State:               state,
		ConsecutiveFailures: h.failures,
		LastError:           lastError,
	}
	if err := h.statuses.Save(ctx, status); err != nil {
		h.logger.Warn("recording status failed",
			zap.String("state", string(state)), zap.Error(err))
	}
}

// processBatch folds one batch. Data writes and the checkpoint advance
// commit together.
func (h *Handler) processBatch(ctx context.Context) (int, error) {
	checkpoint, err := h.checkpoints.Load(ctx, h.projection.Name())
	if err != nil {
		return 0, err
	}

	events, err := h.es.Scan(ctx, checkpoint.Position, h.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := h.checkpoints.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.NewInternal(err, "PROJE-tx0Fa", "begin projection transaction")
	}
	defer tx.Rollback()

	for _, event := range events {
		reduce, ok := h.reducers[event.Type]
		if !ok {
			continue
		}
		if err := reduce(ctx, tx, event); err != nil {
			return 0, errs.NewInternal(err, "PROJE-rd4Kc",
				"%s failed reducing %s at position %d", h.projection.Name(), event.Type, event.Position)
		}
	}

	checkpoint.Position = events[len(events)-1].Position
	if err := h.checkpoints.SaveInTx(ctx, tx, checkpoint); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.NewInternal(err, "PROJE-cm9Vb", "commit projection transaction")
	}
	return len(events), nil
}

// Rebuild clears the projection data and checkpoint in one transaction and
// folds the whole log again. The handler must not be running.
func (h *Handler) Rebuild(ctx context.Context) error {
	h.mu.Lock()

	h.failures = 0
	h.saveStatus(ctx, StateRebuilding, "")

	err := func() error {
		tx, err := h.checkpoints.DB().BeginTx(ctx, nil)
		if err != nil {
			return errs.NewInternal(err, "PROJE-rb2Sa", "begin rebuild transaction")
		}
		defer tx.Rollback()

		if err := h.projection.Reset(ctx, tx); err != nil {
			return errs.NewInternal(err, "PROJE-rs3Bd", "reset %s", h.projection.Name())
		}
		if err := h.checkpoints.ResetInTx(ctx, tx, h.projection.Name()); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return errs.NewInternal(err, "PROJE-rc7Lq", "commit rebuild transaction")
		}
		return nil
	}()
	h.mu.Unlock()
	if err != nil {
		return err
	}

	h.catchUp(ctx)

	h.saveStatus(ctx, StateStopped, "")
	return nil
}

// WaitForPosition blocks until the projection's checkpoint has reached
// position or ctx is done. It polls the checkpoint; callers bound the wait
// through ctx.
func (h *Handler) WaitForPosition(ctx context.Context, position uint64) error {
	ticker := time.NewTicker(defaultWaitPoll)
	defer ticker.Stop()

	for {
		checkpoint, err := h.checkpoints.Load(ctx, h.projection.Name())
		if err != nil {
			return err
		}
		if checkpoint.Position >= position {
			return nil
		}

		select {
		case <-ctx.Done():
			return errs.NewInternal(ctx.Err(), "PROJE-wt1Pz",
				"%s did not reach position %d", h.projection.Name(), position)
		case <-ticker.C:
		}
	}
}
