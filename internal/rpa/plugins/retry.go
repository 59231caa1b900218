package plugins

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/rpa-browser/internal/rpa/hooks"
	"go.uber.org/zap"
)

const RetryName = "retry"

// Retry re-runs a failed action after a fixed delay until it succeeds or
// MaxAttempts total attempts have been made. The last error is returned when
// every attempt fails.
type Retry struct {
	hooks.Base
	maxAttempts int
	delay       time.Duration

	mu      sync.Mutex
	retries int
}

// NewRetry returns a factory for Retry. maxAttempts counts the original
// attempt; values below 1 are treated as 1, which disables retrying.
func NewRetry(maxAttempts int, delay time.Duration) hooks.Factory {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return func(deps hooks.Deps) hooks.Plugin {
		r := &Retry{
			Base:        hooks.NewBase(RetryName, deps),
			maxAttempts: maxAttempts,
			delay:       delay,
		}
		r.On(hooks.BeforeExec, "setup retry", r.setup)
		r.On(hooks.OnError, "handle retry", r.handle)
		r.On(hooks.OnSuccess, "reset retry count", r.reset)
		return r
	}
}

// Attempts is the number of re-invocations made for the most recent action.
func (r *Retry) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries
}

func (r *Retry) setRetries(n int) {
	r.mu.Lock()
	r.retries = n
	r.mu.Unlock()
}

func (r *Retry) setup(_ context.Context, call *hooks.Call) error {
	r.setRetries(0)
	r.Logger.Debug("Retry armed",
		zap.String("action", call.Action),
		zap.Int("max_attempts", r.maxAttempts),
	)
	return nil
}

func (r *Retry) reset(_ context.Context, _ *hooks.Call) error {
	r.setRetries(0)
	return nil
}

func (r *Retry) handle(ctx context.Context, call *hooks.Call) error {
	lastErr := call.Err
	retried := false
	for call.Attempts() < r.maxAttempts {
		attempt := call.Attempts() + 1
		r.Logger.Warn("Retrying action",
			zap.String("action", call.Action),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Duration("delay", r.delay),
			zap.Error(lastErr),
		)
		if err := sleep(ctx, r.delay); err != nil {
			break
		}

		retried = true
		r.Metrics.IncRetry(call.Action)
		r.setRetries(attempt - 1)
		res, err := call.Reinvoke(ctx)
		if err == nil {
			r.Logger.Info("Retry succeeded", zap.String("action", call.Action), zap.Int("attempt", attempt))
			call.Resolve(res, nil)
			return nil
		}
		lastErr = err
	}

	if retried {
		r.Logger.Error("All retry attempts exhausted",
			zap.String("action", call.Action),
			zap.Int("attempts", call.Attempts()),
			zap.Error(lastErr),
		)
		call.Resolve(nil, lastErr)
	}
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
