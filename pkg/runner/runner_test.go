package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/iamcore/pkg/runner"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func service(rec *recorder, name string) runner.Funcs {
	return runner.Funcs{
		ServiceName: name,
		OnStart: func(context.Context) error {
			rec.add("start " + name)
			return nil
		},
		OnStop: func(context.Context) error {
			rec.add("stop " + name)
			return nil
		},
	}
}

// canceledContext returns a context that is already done, so Run starts
// everything and immediately shuts down.
func canceledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestRunStartsInOrderAndStopsInReverse(t *testing.T) {
	rec := &recorder{}
	r := runner.New([]runner.Service{
		service(rec, "store"),
		service(rec, "bus"),
		service(rec, "projections"),
	})

	require.NoError(t, r.Run(canceledContext()))

	assert.Equal(t, []string{
		"start store",
		"start bus",
		"start projections",
		"stop projections",
		"stop bus",
		"stop store",
	}, rec.list())
}

func TestRunRollsBackStartedServicesOnFailure(t *testing.T) {
	rec := &recorder{}
	broken := runner.Funcs{
		ServiceName: "bus",
		OnStart: func(context.Context) error {
			return errors.New("connection refused")
		},
		OnStop: func(context.Context) error {
			rec.add("stop bus")
			return nil
		},
	}
	r := runner.New([]runner.Service{
		service(rec, "store"),
		broken,
		service(rec, "projections"),
	})

	err := r.Run(canceledContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start bus")

	// The failed service and the never-started one are not stopped.
	assert.Equal(t, []string{"start store", "stop store"}, rec.list())
}

func TestRunJoinsStopErrors(t *testing.T) {
	rec := &recorder{}
	flaky := runner.Funcs{
		ServiceName: "bus",
		OnStart:     func(context.Context) error { return nil },
		OnStop: func(context.Context) error {
			return errors.New("drain failed")
		},
	}
	r := runner.New([]runner.Service{
		service(rec, "store"),
		flaky,
		service(rec, "projections"),
	})

	err := r.Run(canceledContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop bus")

	// A failing stop does not block the remaining services.
	assert.Contains(t, rec.list(), "stop store")
	assert.Contains(t, rec.list(), "stop projections")
}

func TestRunStopsHonorTheShutdownDeadline(t *testing.T) {
	slow := runner.Funcs{
		ServiceName: "slow",
		OnStop: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	r := runner.New(
		[]runner.Service{slow},
		runner.WithShutdownTimeout(20*time.Millisecond),
	)

	start := time.Now()
	err := r.Run(canceledContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop slow")
	assert.Less(t, time.Since(start), 5*time.Second)
}

type checkedService struct {
	runner.Funcs
	err error
}

func (c checkedService) HealthCheck(context.Context) error { return c.err }

func TestHealthCheckAggregatesServices(t *testing.T) {
	healthy := checkedService{Funcs: runner.Funcs{ServiceName: "store"}}
	r := runner.New([]runner.Service{
		healthy,
		runner.Funcs{ServiceName: "opaque"},
	})
	require.NoError(t, r.HealthCheck(context.Background()))

	sick := checkedService{
		Funcs: runner.Funcs{ServiceName: "bus"},
		err:   errors.New("disconnected"),
	}
	r = runner.New([]runner.Service{healthy, sick})
	err := r.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service bus unhealthy")
}
