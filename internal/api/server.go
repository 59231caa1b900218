// Package api exposes the session pool, the live view and the fingerprint
// store over HTTP. Every JSON reply is wrapped in schemas.StandardResponse.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/browser/pool"
	"github.com/xkilldash9x/rpa-browser/internal/config"
	"github.com/xkilldash9x/rpa-browser/internal/live"
	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"go.uber.org/zap"
)

const (
	maxBodyBytes     = 1 << 20
	pageCloseTimeout = 5 * time.Second
)

// Deps are the collaborators of a Server. Profiles may be nil, in which
// case the fingerprint routes answer 503.
type Deps struct {
	Config   config.Interface
	Pool     *pool.Pool
	Profiles schemas.ProfileRepository
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Server holds the HTTP handlers and the per-token state they share.
type Server struct {
	cfg      config.ServerConfig
	headless bool
	pool     *pool.Pool
	profiles schemas.ProfileRepository
	managers *managers
	live     *live.Registry
	streamer *live.Streamer
	upgrader *websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// ctx outlives individual requests and bounds hijacked connections.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer wires the handlers. Call Close on shutdown to end live
// connections.
func NewServer(d Deps) *Server {
	logger := d.Logger.Named("api")
	liveCfg := d.Config.Live()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      d.Config.Server(),
		headless: d.Config.Browser().Headless,
		pool:     d.Pool,
		profiles: d.Profiles,
		managers: newManagers(d.Config.Plugins(), d.Metrics, d.Logger),
		live:     live.NewRegistry(d.Pool, d.Logger, d.Metrics),
		streamer: live.NewStreamer(liveCfg.FrameInterval, liveCfg.JPEGQuality, d.Metrics, d.Logger),
		upgrader: live.NewUpgrader(d.Config.Server().CORSOrigins),
		metrics:  d.Metrics,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	// Plugin state dies with the browser it was bound to.
	if d.Pool != nil {
		d.Pool.OnEvict(s.managers.drop)
	}
	return s
}

// Close ends every live stream and control connection.
func (s *Server) Close() { s.cancel() }

// Live returns the live session registry.
func (s *Server) Live() *live.Registry { return s.live }

// APIPrefix is the mount point of the versioned routes.
func (s *Server) APIPrefix() string {
	return strings.TrimRight(s.cfg.BasePath, "/") + "/v1"
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, http.StatusNotFound, "API endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))

	r.Route(s.APIPrefix(), func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.Limit(s.cfg.RateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					s.fail(w, http.StatusTooManyRequests, "rate limit exceeded")
				}),
			))
		}
		if s.cfg.JWTSecret != "" {
			r.Use(s.authenticate)
		}

		r.Route("/browser_control", func(r chi.Router) {
			r.Post("/open_url", s.handleOpenURL)
			r.Post("/screenshot", s.handleScreenshot)
			r.Post("/release_session", s.handleRelease)
			r.Get("/sessions", s.handleSessions)

			r.Post("/live/create", s.handleLiveCreate)
			r.Get("/live/view", s.handleLiveView)
			r.Get("/live/stream", s.handleLiveStream)
			r.Get("/live/ws", s.handleLiveWS)
			r.Post("/live/stop", s.handleLiveStop)
		})

		r.Route("/browser", func(r chi.Router) {
			r.Use(s.requireProfiles)
			r.Post("/create_fingerprint", s.handleCreateProfile)
			r.Post("/read_fingerprint", s.handleReadProfile)
			r.Post("/update_fingerprint", s.handleUpdateProfile)
			r.Post("/delete_fingerprint", s.handleDeleteProfile)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]any{"status": "ok", "pool": s.pool.Stats()})
}
