package runner

import "context"

// Service is one long-running part of the daemon. Start must return once
// the service is ready; background work belongs on a context the service
// owns, not on the start context, which ends when Start returns. Stop must
// honor ctx and return once the service has drained.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by services that can report their health.
type HealthChecker interface {
	Service
	HealthCheck(ctx context.Context) error
}

// Funcs adapts plain start/stop funcs to a Service. Nil funcs are no-ops.
type Funcs struct {
	ServiceName string
	OnStart     func(ctx context.Context) error
	OnStop      func(ctx context.Context) error
}

func (f Funcs) Name() string { return f.ServiceName }

func (f Funcs) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Funcs) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}
