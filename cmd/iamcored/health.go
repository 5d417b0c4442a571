package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const healthInterval = 30 * time.Second

// healthLoop probes the core's dependencies on a fixed interval and logs
// state transitions, the single-binary stand-in for an external liveness
// probe.
type healthLoop struct {
	checks map[string]func(context.Context) error
	logger *zap.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	healthy bool
}

func newHealthLoop(logger *zap.Logger, checks map[string]func(context.Context) error) *healthLoop {
	return &healthLoop{
		checks:  checks,
		logger:  logger,
		healthy: true,
	}
}

func (h *healthLoop) Name() string { return "healthcheck" }

func (h *healthLoop) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(ctx)
	return nil
}

func (h *healthLoop) Stop(ctx context.Context) error {
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *healthLoop) HealthCheck(ctx context.Context) error {
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (h *healthLoop) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.HealthCheck(ctx)
			switch {
			case err != nil && h.healthy:
				h.healthy = false
				h.logger.Warn("health check failed", zap.Error(err))
			case err == nil && !h.healthy:
				h.healthy = true
				h.logger.Info("health restored")
			}
		}
	}
}
