package projection

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
)

// Manager owns the handlers of all registered projections and runs them
// with one shared lifecycle.
type Manager struct {
	es          *eventstore.Eventstore
	checkpoints *CheckpointStore
	logger      *zap.Logger
	opts        []HandlerOption

	mu       sync.Mutex
	handlers map[string]*Handler
	cancel   context.CancelFunc
}

// NewManager creates a manager whose handlers share the projection database
// and the given handler options.
func NewManager(es *eventstore.Eventstore, db *sql.DB, logger *zap.Logger, opts ...HandlerOption) (*Manager, error) {
	checkpoints, err := NewCheckpointStore(db)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		es:          es,
		checkpoints: checkpoints,
		logger:      logger,
		opts:        opts,
		handlers:    make(map[string]*Handler),
	}, nil
}

// Register adds projections to the manager, creating their tables and
// checkpoint rows. Must be called before Start.
func (m *Manager) Register(ctx context.Context, projections ...Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range projections {
		opts := append([]HandlerOption{WithHandlerLogger(m.logger)}, m.opts...)
		h := NewHandler(p, m.es, m.checkpoints, opts...)
		if err := h.Init(ctx); err != nil {
			return err
		}
		m.handlers[p.Name()] = h
	}
	return nil
}

// Start runs every registered handler until Stop is called or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, m.cancel = context.WithCancel(ctx)
	for _, h := range m.handlers {
		h.Start(ctx)
	}
	m.logger.Info("projections started", zap.Int("count", len(m.handlers)))
}

// Stop cancels all handlers and waits for their loops to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	handlers := make([]*Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	for _, h := range handlers {
		<-h.Done()
	}
	m.logger.Info("projections stopped")
}

// TriggerAll wakes every handler, used when the event bus signals fresh
// events.
func (m *Manager) TriggerAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handlers {
		h.Trigger()
	}
}

// Rebuild rebuilds the named projections, or all of them when none are
// named. Handlers must not be running.
func (m *Manager) Rebuild(ctx context.Context, names ...string) error {
	handlers, err := m.pick(names)
	if err != nil {
		return err
	}
	for _, h := range handlers {
		m.logger.Info("rebuilding projection", zap.String("projection", h.projection.Name()))
		if err := h.Rebuild(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WaitForPosition blocks until the named projection has folded the log up
// to position or ctx is done.
func (m *Manager) WaitForPosition(ctx context.Context, name string, position uint64) error {
	m.mu.Lock()
	h, ok := m.handlers[name]
	m.mu.Unlock()
	if !ok {
		return errs.NewNotFound(nil, "PROJE-nf5Dt", "projection %s not registered", name)
	}
	return h.WaitForPosition(ctx, position)
}

// Checkpoints exposes the shared checkpoint store for read-side queries
// that report projection lag.
func (m *Manager) Checkpoints() *CheckpointStore {
	return m.checkpoints
}

// Statuses exposes the status store for operator surfaces.
func (m *Manager) Statuses() *StatusStore {
	return NewStatusStore(m.checkpoints.DB())
}

func (m *Manager) pick(names []string) ([]*Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(names) == 0 {
		handlers := make([]*Handler, 0, len(m.handlers))
		for _, h := range m.handlers {
			handlers = append(handlers, h)
		}
		return handlers, nil
	}
	handlers := make([]*Handler, 0, len(names))
	for _, name := range names {
		h, ok := m.handlers[name]
		if !ok {
			return nil, errs.NewNotFound(nil, "PROJE-um8Se", "projection %s not registered", name)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}
