package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/projection"
)

const defaultSampleInterval = 15 * time.Second

// LagSampler periodically measures how far each projection trails the log
// head and exports the gauges. It runs as a daemon service.
type LagSampler struct {
	es       *eventstore.Eventstore
	manager  *projection.Manager
	metrics  *Metrics
	logger   *zap.Logger
	names    []string
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// SamplerOption configures a LagSampler.
type SamplerOption func(*LagSampler)

// WithSampleInterval sets how often lag is measured.
func WithSampleInterval(d time.Duration) SamplerOption {
	return func(s *LagSampler) { s.interval = d }
}

// WithSamplerLogger sets the logger, zap.NewNop by default.
func WithSamplerLogger(logger *zap.Logger) SamplerOption {
	return func(s *LagSampler) { s.logger = logger }
}

// NewLagSampler samples the named projections registered on manager.
func NewLagSampler(es *eventstore.Eventstore, manager *projection.Manager, metrics *Metrics, names []string, opts ...SamplerOption) *LagSampler {
	s := &LagSampler{
		es:       es,
		manager:  manager,
		metrics:  metrics,
		logger:   zap.NewNop(),
		names:    names,
		interval: defaultSampleInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LagSampler) Name() string { return "telemetry.lag-sampler" }

// Start begins sampling in the background.
func (s *LagSampler) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample(ctx)
			}
		}
	}()
	return nil
}

// Stop ends sampling, waiting for the loop to exit.
func (s *LagSampler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LagSampler) sample(ctx context.Context) {
	head, err := s.es.HeadPosition(ctx)
	if err != nil {
		s.logger.Warn("sampling log head failed", zap.Error(err))
		return
	}
	statuses := s.manager.Statuses()
	checkpoints := s.manager.Checkpoints()

	for _, name := range s.names {
		checkpoint, err := checkpoints.Load(ctx, name)
		if err != nil {
			s.logger.Warn("loading checkpoint failed",
				zap.String("projection", name), zap.Error(err))
			continue
		}
		var lag int64
		if head > checkpoint.Position {
			lag = int64(head - checkpoint.Position)
		}
		s.metrics.RecordProjectionLag(ctx, name, lag)

		status, err := statuses.Load(ctx, name)
		if err != nil {
			continue
		}
		s.metrics.RecordProjectionFailures(ctx, name, status.ConsecutiveFailures)
	}
}
