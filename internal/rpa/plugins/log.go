package plugins

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/rpa-browser/internal/rpa/hooks"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const LogName = "log"

// Log emits a structured notice at every phase. It never affects the action.
type Log struct {
	hooks.Base
	level zapcore.Level
}

// NewLog returns a factory for Log. level sets the severity of progress
// notices; failures are always logged at error level. An unparsable level
// falls back to info.
func NewLog(level string) hooks.Factory {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	return func(deps hooks.Deps) hooks.Plugin {
		l := &Log{Base: hooks.NewBase(LogName, deps), level: lvl}

		l.On(hooks.BeforeExec, "log start", l.start)
		l.On(hooks.BeforeExec, "log context", l.describe)
		l.On(hooks.OnExec, "log progress", l.progress)
		l.On(hooks.OnSuccess, "log success", l.success)
		l.On(hooks.OnError, "log error", l.failure)
		l.On(hooks.AfterExec, "log complete", l.complete)
		return l
	}
}

func (l *Log) emit(msg string, fields ...zap.Field) {
	if ce := l.Logger.Check(l.level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (l *Log) start(_ context.Context, call *hooks.Call) error {
	l.emit("Action started", zap.String("action", call.Action), zap.Int("arg_count", len(call.Args)))
	return nil
}

func (l *Log) describe(_ context.Context, call *hooks.Call) error {
	fields := []zap.Field{zap.String("action", call.Action), zap.Bool("context_bound", l.Context != nil)}
	if call.Page != nil {
		fields = append(fields, zap.String("page_id", call.Page.ID()))
	}
	if l.Engine != nil {
		fields = append(fields, zap.Stringer("token", l.Engine.Token()))
	}
	l.Logger.Debug("Action context", fields...)
	return nil
}

func (l *Log) progress(_ context.Context, call *hooks.Call) error {
	l.Logger.Debug("Action in progress", zap.String("action", call.Action))
	return nil
}

func (l *Log) success(_ context.Context, call *hooks.Call) error {
	l.emit("Action succeeded", zap.String("action", call.Action), zap.Int("attempts", call.Attempts()))
	return nil
}

func (l *Log) failure(_ context.Context, call *hooks.Call) error {
	l.Logger.Error("Action failed",
		zap.String("action", call.Action),
		zap.String("error_type", fmt.Sprintf("%T", call.Err)),
		zap.Error(call.Err),
	)
	return nil
}

func (l *Log) complete(_ context.Context, call *hooks.Call) error {
	fields := []zap.Field{
		zap.String("action", call.Action),
		zap.Duration("elapsed", call.Elapsed()),
		zap.Int("attempts", call.Attempts()),
	}
	if call.Resolved() {
		fields = append(fields, zap.Bool("resolved_by_hook", true), zap.NamedError("final_error", call.Err))
	}
	l.emit("Action completed", fields...)
	return nil
}
