// Package pagemanager binds one browser context to a set of plugin instances
// and hands out pages whose catalogued actions run through the hook pipeline.
package pagemanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/browser/engine"
	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"github.com/xkilldash9x/rpa-browser/internal/rpa/hooks"
	"go.uber.org/zap"
)

// Manager instruments the pages of a single browser context. It is safe for
// concurrent use.
type Manager struct {
	engine   *engine.Engine
	bctx     schemas.BrowserContext
	pipeline *hooks.Pipeline
	logger   *zap.Logger

	mu      sync.Mutex
	wrapped map[string]*Page
}

// New instantiates one plugin per factory, all sharing the engine, the
// context and the logger. Plugins run in factory order.
func New(e *engine.Engine, bctx schemas.BrowserContext, logger *zap.Logger, m *metrics.Metrics, factories ...hooks.Factory) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("page_manager")

	deps := hooks.Deps{Engine: e, Context: bctx, Logger: logger, Metrics: m}
	plugins := make([]hooks.Plugin, 0, len(factories))
	for _, f := range factories {
		if f == nil {
			continue
		}
		plugins = append(plugins, f(deps))
	}

	mgr := &Manager{
		engine:   e,
		bctx:     bctx,
		pipeline: hooks.NewPipeline(logger, m, plugins...),
		logger:   logger,
		wrapped:  make(map[string]*Page),
	}
	if len(plugins) > 0 {
		names := make([]string, len(plugins))
		for i, p := range plugins {
			names[i] = p.Name()
		}
		logger.Debug("Plugins registered", zap.Strings("plugins", names))
	}
	return mgr
}

// Pipeline exposes the pipeline shared by every wrapped page.
func (m *Manager) Pipeline() *hooks.Pipeline { return m.pipeline }

// Plugins returns the plugin instances in execution order.
func (m *Manager) Plugins() []hooks.Plugin { return m.pipeline.Plugins() }

// Context returns the browser context the manager is bound to.
func (m *Manager) Context() schemas.BrowserContext { return m.bctx }

// Wrap instruments page. Wrapping a page this manager already instrumented,
// or the wrapper itself, returns the existing wrapper.
func (m *Manager) Wrap(page schemas.Page) *Page {
	if w, ok := page.(*Page); ok && w.pipeline == m.pipeline {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := page.ID()
	if w, ok := m.wrapped[id]; ok {
		return w
	}
	w := &Page{inner: page, pipeline: m.pipeline, onClose: m.forget}
	m.wrapped[id] = w
	m.logger.Debug("Page instrumented", zap.String("page_id", id))
	return w
}

// IsWrapped reports whether a page with this id has been instrumented.
func (m *Manager) IsWrapped(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.wrapped[id]
	return ok
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.wrapped, id)
	m.mu.Unlock()
}

// NewPage opens a tab in the context and returns it instrumented.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	page, err := m.bctx.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	m.touch()
	return m.Wrap(page), nil
}

// CurrentPage returns the most recently opened page, instrumented, or a new
// page when the context has none. Tabs the browser opened by itself count.
func (m *Manager) CurrentPage(ctx context.Context) (*Page, error) {
	m.sync(ctx)
	pages := m.bctx.Pages()
	if len(pages) > 0 {
		m.touch()
		return m.Wrap(pages[len(pages)-1]), nil
	}
	m.logger.Warn("No open page found, opening a new one")
	return m.NewPage(ctx)
}

// WrapAll instruments every page already open in the context, popups
// included, and drops records of pages that have since closed.
func (m *Manager) WrapAll(ctx context.Context) []*Page {
	m.sync(ctx)
	pages := m.bctx.Pages()
	if len(pages) == 0 {
		m.logger.Warn("No pages to instrument")
		return nil
	}

	m.prune()
	out := make([]*Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, m.Wrap(p))
	}
	m.logger.Info("Instrumented open pages", zap.Int("count", len(out)))
	return out
}

// sync picks up tabs opened outside NewPage. A failure leaves the known
// pages in place.
func (m *Manager) sync(ctx context.Context) {
	if err := schemas.SyncPages(ctx, m.bctx); err != nil {
		m.logger.Warn("Failed to sync pages with the browser", zap.Error(err))
	}
}

func (m *Manager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.wrapped {
		if w.inner.IsClosed() {
			delete(m.wrapped, id)
		}
	}
}

func (m *Manager) touch() {
	if m.engine != nil {
		m.engine.Touch()
	}
}
