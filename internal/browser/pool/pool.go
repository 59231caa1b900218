// Package pool keeps at most one live browser session per token, reuses it
// across requests and reclaims sessions that have been idle for too long.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/browser/engine"
	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultSweepInterval   = 60 * time.Second
	defaultTeardownTimeout = 15 * time.Second
)

// Eviction reasons reported to metrics and logs.
const (
	reasonRelease  = "release"
	reasonIdle     = "idle"
	reasonShutdown = "shutdown"
)

// EngineFactory builds the engine for a token that has no session yet.
type EngineFactory func(token schemas.BrowserToken, headless bool) (*engine.Engine, error)

// NewEngineFactory returns an EngineFactory sharing one store, driver and
// launch configuration. headless overrides opts.Headless per session.
func NewEngineFactory(store schemas.ProfileStore, driver schemas.Driver, opts engine.Options, logger *zap.Logger, engineOpts ...engine.Option) EngineFactory {
	return func(token schemas.BrowserToken, headless bool) (*engine.Engine, error) {
		o := opts
		o.Headless = headless
		return engine.New(token, store, driver, o, logger, engineOpts...)
	}
}

// Config tunes idle eviction.
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// TeardownTimeout bounds closing one browser.
	TeardownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = defaultTeardownTimeout
	}
	return c
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock replaces time.Now for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithMetrics records pool gauges and counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// session is one live browser owned by the pool. Every field is guarded by
// Pool.mu.
type session struct {
	engine    *engine.Engine
	handle    *engine.Handle
	createdAt time.Time
	lastUsed  time.Time
	remote    bool
	inFlight  int
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Active           int `json:"active"`
	RemoteControlled int `json:"remote_controlled"`
	InFlight         int `json:"in_flight"`
}

// SessionInfo describes one session for diagnostics.
type SessionInfo struct {
	Token         schemas.BrowserToken `json:"browser_token"`
	Headless      bool                 `json:"headless"`
	CreatedAt     time.Time            `json:"created_at"`
	LastUsed      time.Time            `json:"last_used"`
	RemoteControl bool                 `json:"remote_control"`
	InFlight      int                  `json:"in_flight"`
}

// Pool owns every browser session. Creation, release and eviction are
// serialized by a single mutex that is held across launch and teardown.
type Pool struct {
	mu        sync.Mutex
	sessions  map[schemas.BrowserToken]*session
	newEngine EngineFactory
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	onEvict   []func(schemas.BrowserToken)
}

// New creates an empty pool.
func New(factory EngineFactory, cfg Config, logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		sessions:  make(map[schemas.BrowserToken]*session),
		newEngine: factory,
		cfg:       cfg.withDefaults(),
		logger:    logger.Named("pool"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnEvict registers fn to run each time a session leaves the pool, whatever
// the reason. fn runs with the pool locked and must not call back into it.
func (p *Pool) OnEvict(fn func(token schemas.BrowserToken)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEvict = append(p.onEvict, fn)
}

// GetSession returns the token's engine and browser context, launching the
// browser if the token has no session. headless only applies to a new
// launch. A missing profile yields an error wrapping
// schemas.ErrProfileNotFound and a driver failure a *schemas.LaunchError.
func (p *Pool) GetSession(ctx context.Context, token schemas.BrowserToken, headless bool) (*engine.Engine, schemas.BrowserContext, error) {
	if e, bctx, ok := p.existing(token); ok {
		return e, bctx, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have created it while we waited for the lock.
	if s, ok := p.sessions[token]; ok {
		p.touchLocked(s)
		return s.engine, s.handle.Context(), nil
	}

	s, err := p.launchLocked(ctx, token, headless)
	if err != nil {
		return nil, nil, err
	}
	return s.engine, s.handle.Context(), nil
}

func (p *Pool) existing(token schemas.BrowserToken) (*engine.Engine, schemas.BrowserContext, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[token]
	if !ok {
		return nil, nil, false
	}
	p.touchLocked(s)
	return s.engine, s.handle.Context(), true
}

func (p *Pool) launchLocked(ctx context.Context, token schemas.BrowserToken, headless bool) (*session, error) {
	log := p.logger.With(zap.Stringer("token", token), zap.Bool("headless", headless))

	e, err := p.newEngine(token, headless)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine for token %s: %w", token, err)
	}

	start := p.now()
	h, err := e.Launch(ctx)
	p.metrics.ObserveLaunch(p.now().Sub(start), err)
	if err != nil {
		log.Error("Failed to create browser session", zap.Error(err))
		return nil, err
	}

	now := p.now()
	s := &session{engine: e, handle: h, createdAt: now, lastUsed: now}
	p.sessions[token] = s
	p.publishLocked()
	log.Info("Browser session created", zap.Int("active_sessions", len(p.sessions)))
	return s, nil
}

func (p *Pool) touchLocked(s *session) {
	s.lastUsed = p.now()
	s.engine.Touch()
}

// GetPage opens a fresh page in the token's session, creating the session
// if needed. The caller owns the page; the session outlives it.
func (p *Pool) GetPage(ctx context.Context, token schemas.BrowserToken, headless bool) (schemas.Page, error) {
	_, bctx, err := p.GetSession(ctx, token, headless)
	if err != nil {
		return nil, err
	}
	p.Touch(token)

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page for token %s: %w", token, err)
	}
	return page, nil
}

// Touch refreshes the token's activity timestamps. Unknown tokens are ignored.
func (p *Pool) Touch(token schemas.BrowserToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[token]; ok {
		p.touchLocked(s)
	}
}

// Acquire pins the token's session while an action is in flight. The sweep
// skips pinned sessions. The returned release func is idempotent.
func (p *Pool) Acquire(token schemas.BrowserToken) (release func(), ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[token]
	if !ok {
		return func() {}, false
	}
	s.inFlight++
	p.touchLocked(s)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if s.inFlight > 0 {
				s.inFlight--
			}
			p.touchLocked(s)
		})
	}, true
}

// ReleaseSession tears down the token's session even if it is under remote
// control. Releasing an unknown token is a no-op.
func (p *Pool) ReleaseSession(ctx context.Context, token schemas.BrowserToken) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[token]
	if !ok {
		return nil
	}
	return p.evictLocked(ctx, token, s, reasonRelease)
}

// StartRemoteControl exempts the token's session from idle eviction.
func (p *Pool) StartRemoteControl(token schemas.BrowserToken) {
	p.setRemote(token, true)
}

// StopRemoteControl makes the token's session eligible for idle eviction again.
func (p *Pool) StopRemoteControl(token schemas.BrowserToken) {
	p.setRemote(token, false)
}

func (p *Pool) setRemote(token schemas.BrowserToken, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[token]
	if !ok {
		return
	}
	s.remote = active
	p.touchLocked(s)
	p.publishLocked()
	p.logger.Info("Remote control changed", zap.Stringer("token", token), zap.Bool("active", active))
}

// IsRemoteControlActive reports whether the token has a session under remote control.
func (p *Pool) IsRemoteControlActive(token schemas.BrowserToken) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[token]
	return ok && s.remote
}

// Sweep runs one idle-eviction pass and returns the number of sessions
// evicted. Sessions under remote control or with actions in flight are
// skipped. A failing teardown is logged and does not stop the pass.
func (p *Pool) Sweep(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idle []schemas.BrowserToken
	for token, s := range p.sessions {
		if s.remote || s.inFlight > 0 {
			continue
		}
		if s.engine.IsInactiveFor(p.cfg.IdleTimeout) {
			idle = append(idle, token)
		}
	}

	for _, token := range idle {
		_ = p.evictLocked(ctx, token, p.sessions[token], reasonIdle)
	}
	if len(idle) > 0 {
		p.logger.Info("Idle sweep finished",
			zap.Int("evicted", len(idle)),
			zap.Int("remaining", len(p.sessions)),
		)
	}
	return len(idle)
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	p.logger.Info("Idle sweep started",
		zap.Duration("interval", p.cfg.SweepInterval),
		zap.Duration("idle_timeout", p.cfg.IdleTimeout),
	)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Idle sweep stopped")
			return nil
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// CleanupAllSessions tears down every session unconditionally.
func (p *Pool) CleanupAllSessions(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for token, s := range p.sessions {
		if err := p.evictLocked(ctx, token, s, reasonShutdown); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Info("All browser sessions cleaned up")
	return errors.Join(errs...)
}

// evictLocked removes the session from the map and closes its browser. The
// session is removed even when teardown fails.
func (p *Pool) evictLocked(ctx context.Context, token schemas.BrowserToken, s *session, reason string) (err error) {
	delete(p.sessions, token)
	p.publishLocked()
	p.metrics.IncEviction(reason)
	for _, fn := range p.onEvict {
		fn(token)
	}

	log := p.logger.With(zap.Stringer("token", token), zap.String("reason", reason))
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.TeardownTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while closing browser for token %s: %v", token, r)
		}
		if err != nil {
			p.metrics.IncTeardownFailure()
			log.Error("Browser session teardown failed", zap.Error(err))
			return
		}
		log.Info("Browser session closed")
	}()

	if cerr := s.handle.Close(closeCtx); cerr != nil {
		return fmt.Errorf("failed to close browser for token %s: %w", token, cerr)
	}
	return nil
}

func (p *Pool) publishLocked() {
	if p.metrics == nil {
		return
	}
	remote := 0
	for _, s := range p.sessions {
		if s.remote {
			remote++
		}
	}
	p.metrics.SetSessions(len(p.sessions), remote)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{Active: len(p.sessions)}
	for _, s := range p.sessions {
		if s.remote {
			st.RemoteControlled++
		}
		st.InFlight += s.inFlight
	}
	return st
}

// Sessions describes every live session.
func (p *Pool) Sessions() []SessionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SessionInfo, 0, len(p.sessions))
	for token, s := range p.sessions {
		out = append(out, SessionInfo{
			Token:         token,
			Headless:      s.engine.Headless(),
			CreatedAt:     s.createdAt,
			LastUsed:      s.lastUsed,
			RemoteControl: s.remote,
			InFlight:      s.inFlight,
		})
	}
	return out
}

// Has reports whether the token has a live session.
func (p *Pool) Has(token schemas.BrowserToken) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[token]
	return ok
}
