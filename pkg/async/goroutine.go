package async

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

// SafeGo executes fn in a goroutine with:
// - a context detached from parentCtx's cancellation but keeping its values
// - panic recovery
// - timeout enforcement
// - error logging
//
// The caller does not wait. Use this instead of bare `go func()` for
// fire-and-forget work started from request handlers.
//
// Example:
//
//	SafeGo(r.Context(), logger, 2*time.Minute, "authcache renewal", func(ctx context.Context) error {
//	    return cache.Renew(ctx, user)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, logger, timeout, taskName, fn)
}

func run(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.GetLogger(parentCtx)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
	defer cancel()

	defer observability.RecoverPanic(logger.WithField("task", taskName), "background task")

	start := time.Now()
	if err := fn(ctx); err != nil {
		logger.WithField("task", taskName).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			WithError(err).
			Warn("background task failed")
	}
}

// Tracker runs SafeGo tasks and lets shutdown wait for the ones in flight.
type Tracker struct {
	logger  *observability.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewTracker creates a tracker whose tasks run with the given timeout
func NewTracker(logger *observability.Logger, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Tracker{logger: logger, timeout: timeout}
}

// Go starts fn without waiting for it
func (t *Tracker) Go(parentCtx context.Context, taskName string, fn func(context.Context) error) {
	t.wg.Add(1)
	SafeGo(parentCtx, t.logger, t.timeout, taskName, func(ctx context.Context) error {
		defer t.wg.Done()
		return fn(ctx)
	})
}

// Wait blocks until every started task returns or ctx is done
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
