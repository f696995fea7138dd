package resilience

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
)

// Outcome is the result of a guarded call. Err holds the failure that caused
// a fallback and is nil when Value came from the guarded function.
type Outcome[T any] struct {
	Value    T
	Fallback bool
	Shared   bool
	Err      error
}

// Guard collapses concurrent calls sharing a key into one execution, retries
// retryable failures and substitutes a fallback value when the call still
// fails. A guarded call never returns without a value.
type Guard[T any] struct {
	service     string
	group       singleflight.Group
	retry       RetryConfig
	degradation *DegradationManager
}

// NewGuard creates a guard for one upstream service. degradation may be nil.
func NewGuard[T any](service string, retry RetryConfig, degradation *DegradationManager) *Guard[T] {
	return &Guard[T]{
		service:     service,
		retry:       retry,
		degradation: degradation,
	}
}

// Do runs fn under key. fallback receives the final error and must not fail.
// A caller whose ctx ends while waiting gets the fallback; the shared call
// keeps running for the callers still waiting on it.
func (g *Guard[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error), fallback func(error) T) Outcome[T] {
	if g.degradation != nil && !g.degradation.IsServiceAvailable(g.service) {
		err := errors.NewUpstreamServiceError(g.service, nil)
		return Outcome[T]{Value: fallback(err), Fallback: true, Err: err}
	}

	ch := g.group.DoChan(key, func() (interface{}, error) {
		// the shared call outlives any single caller's cancellation but
		// keeps the deadline it started with
		callCtx := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithDeadline(callCtx, deadline)
			defer cancel()
		}

		var result T
		err := RetryWithConfig(callCtx, g.retry, func() error {
			r, err := fn(callCtx)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		return result, err
	})

	var (
		v      interface{}
		err    error
		shared bool
	)
	select {
	case res := <-ch:
		v, err, shared = res.Val, res.Err, res.Shared
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		slog.Warn("Guarded call failed, using fallback",
			"service", g.service,
			"key", key,
			"shared", shared,
			"error", err)
		return Outcome[T]{Value: fallback(err), Fallback: true, Shared: shared, Err: err}
	}

	return Outcome[T]{Value: v.(T), Shared: shared}
}
