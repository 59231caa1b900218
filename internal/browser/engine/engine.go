// Package engine launches one fingerprinted browser per token. It owns the
// launch configuration and the token's profile directory; the pool owns the
// resulting context.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"go.uber.org/zap"
)

const defaultTeardownTimeout = 15 * time.Second

// Options is the host-wide launch configuration shared by every engine.
type Options struct {
	// UserDataRoot holds one profile directory per token. "~" is expanded.
	UserDataRoot string
	ExecPath     string
	// ExtraArgs are appended after the baseline flags and before the profile flags.
	ExtraArgs     []string
	Headless      bool
	LaunchTimeout time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithGOOS overrides the host platform used to decide GPU flag support.
func WithGOOS(goos string) Option {
	return func(e *Engine) { e.goos = goos }
}

// Engine is the launch recipe for a single browser token.
type Engine struct {
	token      schemas.BrowserToken
	opts       Options
	profileDir string
	store      schemas.ProfileStore
	driver     schemas.Driver
	logger     *zap.Logger
	goos       string
	now        func() time.Time

	lastActivity atomic.Int64 // unix nanoseconds
}

// New builds the engine for token. It does not touch the filesystem or the
// profile store; both happen on Launch.
func New(token schemas.BrowserToken, store schemas.ProfileStore, driver schemas.Driver, opts Options, logger *zap.Logger, options ...Option) (*Engine, error) {
	root, err := homedir.Expand(opts.UserDataRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to expand user data root %q: %w", opts.UserDataRoot, err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user data root %q: %w", opts.UserDataRoot, err)
	}

	e := &Engine{
		token:      token,
		opts:       opts,
		profileDir: filepath.Join(root, token.String()),
		store:      store,
		driver:     driver,
		logger:     logger.Named("engine").With(zap.Stringer("token", token)),
		goos:       runtime.GOOS,
		now:        time.Now,
	}
	for _, o := range options {
		o(e)
	}
	e.Touch()
	return e, nil
}

// Token returns the browser token this engine launches.
func (e *Engine) Token() schemas.BrowserToken { return e.token }

// ProfileDir is the persistent browser profile directory for the token.
func (e *Engine) ProfileDir() string { return e.profileDir }

// Headless reports the display mode the engine launches with.
func (e *Engine) Headless() bool { return e.opts.Headless }

// Args returns the full launch argument list for profile on this host.
func (e *Engine) Args(profile *schemas.Profile) []string {
	return mergeArgs(profile, e.opts.ExtraArgs, e.goos)
}

// Touch records activity now.
func (e *Engine) Touch() {
	e.lastActivity.Store(e.now().UnixNano())
}

// LastActivity returns the time of the most recent Touch.
func (e *Engine) LastActivity() time.Time {
	return time.Unix(0, e.lastActivity.Load())
}

// IsInactiveFor reports whether more than d has passed since the last activity.
func (e *Engine) IsInactiveFor(d time.Duration) bool {
	return e.now().Sub(e.LastActivity()) > d
}

// Launch looks up the token's profile and starts the browser. A missing
// profile returns an error wrapping schemas.ErrProfileNotFound; a driver
// failure returns *schemas.LaunchError. The caller owns the returned Handle.
func (e *Engine) Launch(ctx context.Context) (*Handle, error) {
	profile, err := e.store.Lookup(ctx, e.token)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprint for token %s: %w", e.token, err)
	}

	if err := os.MkdirAll(e.profileDir, 0o755); err != nil {
		return nil, &schemas.LaunchError{Token: e.token, Err: fmt.Errorf("failed to create profile directory: %w", err)}
	}

	if e.opts.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.LaunchTimeout)
		defer cancel()
	}

	args := e.Args(profile)
	e.logger.Debug("Launching browser",
		zap.String("profile_dir", e.profileDir),
		zap.Bool("headless", e.opts.Headless),
		zap.Int("arg_count", len(args)),
	)

	bctx, err := e.driver.Launch(ctx, schemas.LaunchOptions{
		UserDataDir: e.profileDir,
		Args:        args,
		Headless:    e.opts.Headless,
		ExecPath:    e.opts.ExecPath,
	})
	if err != nil {
		return nil, &schemas.LaunchError{Token: e.token, Err: err}
	}

	e.Touch()
	e.logger.Info("Browser launched")
	return newHandle(bctx), nil
}

// WithBrowser launches the browser, runs fn with its context and tears it
// down on every exit path, including a panic in fn or cancellation of ctx.
func (e *Engine) WithBrowser(ctx context.Context, fn func(context.Context, schemas.BrowserContext) error) (err error) {
	h, err := e.Launch(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTeardownTimeout)
		defer cancel()
		if cerr := h.Close(closeCtx); cerr != nil {
			e.logger.Warn("Browser teardown failed", zap.Error(cerr))
			if err == nil {
				err = fmt.Errorf("failed to close browser: %w", cerr)
			}
		}
	}()
	return fn(ctx, h.Context())
}

// Handle owns a launched browser context. Close tears it down exactly once;
// later calls return the first result.
type Handle struct {
	bctx   schemas.BrowserContext
	once   sync.Once
	err    error
	closed atomic.Bool
}

func newHandle(bctx schemas.BrowserContext) *Handle {
	return &Handle{bctx: bctx}
}

// Context returns the browser context owned by the handle.
func (h *Handle) Context() schemas.BrowserContext { return h.bctx }

// Close releases the browser context.
func (h *Handle) Close(ctx context.Context) error {
	h.once.Do(func() {
		defer h.closed.Store(true)
		h.err = h.bctx.Close(ctx)
	})
	return h.err
}

// Closed reports whether Close has run.
func (h *Handle) Closed() bool { return h.closed.Load() }
