// Package live lets a human watch and steer a pooled browser session: a
// registry of live entries keyed by browser token, an MJPEG frame stream and
// a small JSON command protocol carried over a websocket. While an entry
// exists its session is under remote control and exempt from idle eviction.
package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"go.uber.org/zap"
)

// SessionController is the slice of the session pool the registry drives.
type SessionController interface {
	GetPage(ctx context.Context, token schemas.BrowserToken, headless bool) (schemas.Page, error)
	StartRemoteControl(token schemas.BrowserToken)
	StopRemoteControl(token schemas.BrowserToken)
}

// Entry is one registered live session. Its ID is the canonical form of the
// browser token, so a token has at most one entry.
type Entry struct {
	ID        string
	Token     schemas.BrowserToken
	Headless  bool
	CreatedAt time.Time

	mu      sync.Mutex
	page    schemas.Page
	stopped bool
}

// Registry tracks live entries and the page each one is attached to.
type Registry struct {
	ctrl    SessionController
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRegistry returns an empty registry driving ctrl.
func NewRegistry(ctrl SessionController, logger *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		ctrl:    ctrl,
		logger:  logger.Named("live"),
		metrics: m,
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
}

// Create registers a live entry for token and puts its session under remote
// control. The session is launched, and a page opened, if needed. Creating
// an entry that already exists refreshes remote control and returns it.
func (r *Registry) Create(ctx context.Context, token schemas.BrowserToken, headless bool) (*Entry, error) {
	id := token.String()

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = &Entry{ID: id, Token: token, Headless: headless, CreatedAt: r.now()}
		r.entries[id] = e
	}
	n := len(r.entries)
	r.mu.Unlock()
	r.metrics.SetLiveSessions(n)

	if _, err := r.PageFor(ctx, e); err != nil {
		if !ok {
			r.remove(id)
		}
		return nil, err
	}
	if !ok {
		r.logger.Info("Live session created", zap.String("live_id", id), zap.Bool("headless", headless))
	}
	return e, nil
}

// Get returns the entry registered under id.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("live_id %s: %w", id, schemas.ErrLiveNotFound)
	}
	return e, nil
}

// Stop removes the entry and ends remote control of its session. The page is
// left open since automation may still be using the session. It reports
// whether an entry existed.
func (r *Registry) Stop(id string) bool {
	e := r.remove(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	e.page = nil
	e.stopped = true
	e.mu.Unlock()

	r.ctrl.StopRemoteControl(e.Token)
	r.logger.Info("Live session stopped", zap.String("live_id", id))
	return true
}

func (r *Registry) remove(id string) *Entry {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	n := len(r.entries)
	r.mu.Unlock()
	r.metrics.SetLiveSessions(n)
	if !ok {
		return nil
	}
	return e
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// PageFor returns the entry's cached page, opening a new one through the
// pool when there is none or it was closed. Remote control is asserted on
// every call because the session may have been relaunched in between. A
// stopped entry yields ErrLiveNotFound and leaves remote control untouched.
func (r *Registry) PageFor(ctx context.Context, e *Entry) (schemas.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil, fmt.Errorf("live_id %s: %w", e.ID, schemas.ErrLiveNotFound)
	}

	if e.page == nil || e.page.IsClosed() {
		page, err := r.ctrl.GetPage(ctx, e.Token, e.Headless)
		if err != nil {
			return nil, fmt.Errorf("failed to open live page for %s: %w", e.ID, err)
		}
		e.page = page
	}
	r.ctrl.StartRemoteControl(e.Token)
	return e.page, nil
}
