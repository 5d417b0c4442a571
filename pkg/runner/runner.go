// Package runner starts the daemon's services in order and stops them in
// reverse on shutdown. One failing start rolls the already started services
// back; SIGINT and SIGTERM trigger a graceful stop.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	defaultStartupTimeout  = time.Minute
	defaultShutdownTimeout = 30 * time.Second
)

// Runner owns the lifecycle of a fixed set of services.
type Runner struct {
	services        []Service
	logger          *zap.Logger
	startupTimeout  time.Duration
	shutdownTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger, zap.NewNop by default.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithStartupTimeout bounds each service's Start.
func WithStartupTimeout(d time.Duration) Option {
	return func(r *Runner) { r.startupTimeout = d }
}

// WithShutdownTimeout bounds the graceful stop of all services.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Runner) { r.shutdownTimeout = d }
}

// New creates a runner over services, started in the given order.
func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:        services,
		logger:          zap.NewNop(),
		startupTimeout:  defaultStartupTimeout,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts every service and blocks until ctx ends or a shutdown signal
// arrives, then stops the services in reverse order.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := make([]Service, 0, len(r.services))
	for _, service := range r.services {
		r.logger.Info("starting service", zap.String("service", service.Name()))

		startCtx, cancel := context.WithTimeout(ctx, r.startupTimeout)
		err := service.Start(startCtx)
		cancel()
		if err != nil {
			r.logger.Error("service failed to start",
				zap.String("service", service.Name()), zap.Error(err))
			stopErr := r.stopAll(started)
			return errors.Join(fmt.Errorf("start %s: %w", service.Name(), err), stopErr)
		}
		started = append(started, service)
	}
	r.logger.Info("all services started", zap.Int("count", len(started)))

	<-ctx.Done()
	r.logger.Info("shutting down", zap.Duration("timeout", r.shutdownTimeout))
	return r.stopAll(started)
}

// HealthCheck asks every service that reports health.
func (r *Runner) HealthCheck(ctx context.Context) error {
	for _, service := range r.services {
		hc, ok := service.(HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("service %s unhealthy: %w", service.Name(), err)
		}
	}
	return nil
}

// stopAll stops services one by one in reverse start order, so dependents
// drain before what they depend on. All stops share one shutdown deadline.
func (r *Runner) stopAll(services []Service) error {
	if len(services) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		service := services[i]
		if err := service.Stop(ctx); err != nil {
			r.logger.Error("service failed to stop",
				zap.String("service", service.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", service.Name(), err))
			continue
		}
		r.logger.Info("service stopped", zap.String("service", service.Name()))
	}
	return errors.Join(errs...)
}
