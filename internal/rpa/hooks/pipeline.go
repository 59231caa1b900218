package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"go.uber.org/zap"
)

// HookError is a contained failure of one plugin's chain during one phase.
type HookError struct {
	Plugin string
	Phase  Phase
	Action string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s failed during %s of %s: %v", e.Plugin, e.Phase, e.Action, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Pipeline runs the five phases around an operation for a fixed, ordered
// set of plugins.
type Pipeline struct {
	plugins []Plugin
	logger  *zap.Logger
	metrics *metrics.Metrics

	// OnHookError observes every contained hook failure. Optional.
	OnHookError func(*HookError)
}

// NewPipeline returns a pipeline running plugins in the given order.
func NewPipeline(logger *zap.Logger, m *metrics.Metrics, plugins ...Plugin) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		plugins: plugins,
		logger:  logger.Named("pipeline"),
		metrics: m,
	}
}

// Plugins returns the registered plugins in execution order.
func (p *Pipeline) Plugins() []Plugin {
	return append([]Plugin(nil), p.plugins...)
}

// Execute runs before_exec, on_exec, op, then on_success or on_error, and
// finally after_exec. Hook failures are logged and never returned. A panic in
// op is reported as ErrOperationPanicked. Unless a hook resolved the call,
// op's own result and error are returned unchanged.
func (p *Pipeline) Execute(ctx context.Context, call *Call, op Operation) (any, error) {
	call.op = op
	call.StartedAt = time.Now()

	p.run(ctx, BeforeExec, call)
	p.run(ctx, OnExec, call)

	result, err := call.invoke(ctx)
	call.Result, call.Err = result, err

	if err == nil {
		p.run(ctx, OnSuccess, call)
	} else {
		p.run(ctx, OnError, call)
	}
	p.run(ctx, AfterExec, call)

	if call.resolved {
		result, err = call.Result, call.Err
	}
	p.metrics.ObserveAction(call.Action, call.Elapsed(), err)
	return result, err
}

func (p *Pipeline) run(ctx context.Context, phase Phase, call *Call) {
	for _, plugin := range p.plugins {
		chain := plugin.Chain(phase)
		if chain == nil {
			continue
		}
		if err := chain.Run(ctx, call); err != nil {
			p.contain(&HookError{Plugin: plugin.Name(), Phase: phase, Action: call.Action, Err: err})
		}
	}
}

func (p *Pipeline) contain(herr *HookError) {
	p.logger.Warn("Hook failed",
		zap.String("plugin", herr.Plugin),
		zap.Stringer("phase", herr.Phase),
		zap.String("action", herr.Action),
		zap.Error(herr.Err),
	)
	p.metrics.IncHookFailure(herr.Phase.String(), herr.Plugin)
	if p.OnHookError != nil {
		p.OnHookError(herr)
	}
}
