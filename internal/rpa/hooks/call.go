package hooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/rpa-browser/api/schemas"
)

// Operation is the intercepted action with its arguments already bound.
type Operation func(ctx context.Context) (any, error)

var errNoOperation = errors.New("call has no bound operation")

// ErrOperationPanicked wraps a panic raised by the intercepted operation.
var ErrOperationPanicked = errors.New("operation panicked")

// Call describes one intercepted page action as it moves through the
// phases. A Call is confined to the goroutine running the action.
type Call struct {
	// Action is the catalogue name, e.g. "goto" or "click".
	Action string
	Page   schemas.Page
	Args   []any

	StartedAt time.Time
	// Result and Err hold the current outcome. Err is set before OnError runs.
	Result any
	Err    error

	op       Operation
	attempts int
	resolved bool
}

// NewCall describes action on page with its arguments.
func NewCall(action string, page schemas.Page, args ...any) *Call {
	return &Call{Action: action, Page: page, Args: args}
}

// Attempts is the number of times the operation has run so far.
func (c *Call) Attempts() int { return c.attempts }

// Elapsed is the time since the call entered the pipeline.
func (c *Call) Elapsed() time.Duration {
	if c.StartedAt.IsZero() {
		return 0
	}
	return time.Since(c.StartedAt)
}

// Reinvoke runs the bare operation again, without any hooks.
func (c *Call) Reinvoke(ctx context.Context) (any, error) {
	if c.op == nil {
		return nil, errNoOperation
	}
	return c.invoke(ctx)
}

// invoke runs the bound operation once, turning a panic into an error so the
// error and after phases still run.
func (c *Call) invoke(ctx context.Context) (result any, err error) {
	c.attempts++
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%s: %w: %v", c.Action, ErrOperationPanicked, r)
		}
	}()
	return c.op(ctx)
}

// Resolve replaces the outcome returned to the caller.
func (c *Call) Resolve(result any, err error) {
	c.Result = result
	c.Err = err
	c.resolved = true
}

// Resolved reports whether a hook has replaced the outcome.
func (c *Call) Resolved() bool { return c.resolved }
