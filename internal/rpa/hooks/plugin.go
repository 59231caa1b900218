package hooks

import (
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/browser/engine"
	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"go.uber.org/zap"
)

// Deps are the collaborators every plugin is bound to at construction.
type Deps struct {
	Engine  *engine.Engine
	Context schemas.BrowserContext
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Plugin exposes one chain per phase. Chains are built in the constructor
// and never change afterwards.
type Plugin interface {
	Name() string
	Chain(Phase) *Chain
}

// Factory builds a plugin instance for one page manager.
type Factory func(Deps) Plugin

// Base implements Plugin and is meant to be embedded.
type Base struct {
	Deps
	name   string
	chains [numPhases]Chain
}

// NewBase returns a Base named name with a logger scoped to it.
func NewBase(name string, deps Deps) Base {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named(name)
	return Base{Deps: deps, name: name}
}

func (b *Base) Name() string { return b.name }

// Chain returns the chain for phase, or nil for an unknown phase.
func (b *Base) Chain(p Phase) *Chain {
	if !p.Valid() {
		return nil
	}
	return &b.chains[p]
}

// On appends op to the chain for phase. Call it from the plugin constructor.
func (b *Base) On(p Phase, name string, op HookFunc) {
	if c := b.Chain(p); c != nil {
		c.Append(name, op)
	}
}
