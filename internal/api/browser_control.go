package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/browser/engine"
	"github.com/xkilldash9x/rpa-browser/internal/config"
	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"github.com/xkilldash9x/rpa-browser/internal/rpa/pagemanager"
	"github.com/xkilldash9x/rpa-browser/internal/rpa/plugins"
	"go.uber.org/zap"
)

// managers keeps one Page Manager per session so plugin state such as the
// page limit spans requests. A relaunched session gets a fresh manager.
type managers struct {
	cfg     config.PluginsConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	byToken map[schemas.BrowserToken]*pagemanager.Manager
}

func newManagers(cfg config.PluginsConfig, m *metrics.Metrics, logger *zap.Logger) *managers {
	return &managers{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		byToken: make(map[schemas.BrowserToken]*pagemanager.Manager),
	}
}

func (ms *managers) get(token schemas.BrowserToken, e *engine.Engine, bctx schemas.BrowserContext) *pagemanager.Manager {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if mgr, ok := ms.byToken[token]; ok && mgr.Context() == bctx {
		return mgr
	}
	mgr := pagemanager.New(e, bctx, ms.logger.With(zap.Stringer("token", token)), ms.metrics, plugins.FromConfig(ms.cfg)...)
	ms.byToken[token] = mgr
	return mgr
}

func (ms *managers) has(token schemas.BrowserToken) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	_, ok := ms.byToken[token]
	return ok
}

func (ms *managers) drop(token schemas.BrowserToken) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.byToken, token)
}

// withPage runs fn on a fresh instrumented page of the token's session. The
// session is pinned against idle eviction while fn runs and the page is
// closed afterwards.
func (s *Server) withPage(ctx context.Context, token schemas.BrowserToken, headless bool, fn func(context.Context, *pagemanager.Page) error) error {
	var (
		e       *engine.Engine
		bctx    schemas.BrowserContext
		release func()
	)
	// The session can be evicted between creation and pinning; one retry
	// relaunches it.
	for attempt := 0; attempt < 2 && release == nil; attempt++ {
		var err error
		e, bctx, err = s.pool.GetSession(ctx, token, headless)
		if err != nil {
			return err
		}
		if rel, ok := s.pool.Acquire(token); ok {
			release = rel
		}
	}
	if release == nil {
		return fmt.Errorf("token %s: %w", token, schemas.ErrSessionNotFound)
	}
	defer release()

	page, err := s.managers.get(token, e, bctx).NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open page for token %s: %w", token, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pageCloseTimeout)
		defer cancel()
		if err := page.Close(closeCtx); err != nil {
			s.logger.Debug("Failed to close page", zap.Stringer("token", token), zap.Error(err))
		}
	}()
	return fn(ctx, page)
}

func (s *Server) handleOpenURL(w http.ResponseWriter, r *http.Request) {
	var req schemas.OpenURLRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := requireToken(req.BrowserToken); err != nil {
		s.failErr(w, r, err)
		return
	}
	if req.URL == "" {
		s.failErr(w, r, badRequest("url is required"))
		return
	}

	var resp schemas.OpenURLResponse
	err := s.withPage(r.Context(), req.BrowserToken, schemas.BoolOr(req.Headless, s.headless), func(ctx context.Context, page *pagemanager.Page) error {
		if err := page.Goto(ctx, req.URL); err != nil {
			return err
		}
		var err error
		if resp.Title, err = page.Title(ctx); err != nil {
			return err
		}
		resp.CurrentURL, err = page.URL(ctx)
		return err
	})
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, resp)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	var req schemas.ScreenshotRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := requireToken(req.BrowserToken); err != nil {
		s.failErr(w, r, err)
		return
	}
	format := req.Type
	switch format {
	case "":
		format = schemas.ScreenshotPNG
	case schemas.ScreenshotPNG, schemas.ScreenshotJPEG:
	default:
		s.failErr(w, r, badRequest("unsupported screenshot type %q", req.Type))
		return
	}

	var img []byte
	err := s.withPage(r.Context(), req.BrowserToken, schemas.BoolOr(req.Headless, s.headless), func(ctx context.Context, page *pagemanager.Page) error {
		var err error
		img, err = page.Screenshot(ctx, schemas.ScreenshotOptions{
			FullPage: schemas.BoolOr(req.FullPage, false),
			Format:   format,
		})
		return err
	})
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, schemas.ScreenshotResponse{ImageBase64: base64.StdEncoding.EncodeToString(img)})
}

// handleRelease tears the session down even under remote control and drops
// any live entry pointing at it.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req schemas.ReleaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := requireToken(req.BrowserToken); err != nil {
		s.failErr(w, r, err)
		return
	}

	s.live.Stop(req.BrowserToken.String())
	// Eviction also drops the token's page manager.
	if err := s.pool.ReleaseSession(r.Context(), req.BrowserToken); err != nil {
		// The session is gone from the pool even when teardown failed.
		s.logger.Warn("Session released with teardown error", zap.Stringer("token", req.BrowserToken), zap.Error(err))
	}
	s.respond(w, schemas.ReleaseResponse{BrowserToken: req.BrowserToken, IsSuccess: true})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]any{"stats": s.pool.Stats(), "sessions": s.pool.Sessions()})
}

func requireToken(token schemas.BrowserToken) error {
	if token == uuid.Nil {
		return badRequest("browser_token is required")
	}
	return nil
}
