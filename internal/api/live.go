package api

import (
	"context"
	"net/http"

	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/live"
	"go.uber.org/zap"
)

func (s *Server) handleLiveCreate(w http.ResponseWriter, r *http.Request) {
	var req schemas.LiveCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := requireToken(req.BrowserToken); err != nil {
		s.failErr(w, r, err)
		return
	}

	entry, err := s.live.Create(r.Context(), req.BrowserToken, schemas.BoolOr(req.Headless, s.headless))
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, schemas.LiveCreateResponse{
		LiveID:  entry.ID,
		LiveURL: s.APIPrefix() + "/browser_control/live/view?live_id=" + entry.ID,
	})
}

// entry resolves the live_id query parameter, answering 404 itself when it
// is unknown.
func (s *Server) entry(w http.ResponseWriter, r *http.Request) (*live.Entry, bool) {
	id := r.URL.Query().Get("live_id")
	if id == "" {
		s.failErr(w, r, badRequest("live_id is required"))
		return nil, false
	}
	e, err := s.live.Get(id)
	if err != nil {
		s.failErr(w, r, err)
		return nil, false
	}
	return e, true
}

func (s *Server) handleLiveView(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	s.respond(w, map[string]any{"live_id": e.ID, "exists": true})
}

func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	page, err := s.live.PageFor(r.Context(), e)
	if err != nil {
		s.failErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", live.StreamContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)

	ctx, stop := mergeDone(r.Context(), s.ctx)
	defer stop()
	if err := s.streamer.Stream(ctx, w, page); err != nil {
		s.logger.Debug("Live stream ended with error", zap.String("live_id", e.ID), zap.Error(err))
	}
}

func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	page, err := s.live.PageFor(r.Context(), e)
	if err != nil {
		s.failErr(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		s.logger.Debug("Websocket upgrade failed", zap.String("live_id", e.ID), zap.Error(err))
		return
	}
	live.Serve(s.ctx, conn, page, s.metrics, s.logger)
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	stopped := s.live.Stop(e.ID)
	s.respond(w, schemas.LiveStopResponse{LiveID: e.ID, Stopped: stopped})
}

// mergeDone returns a context carrying a's values that is done when either
// a or b is.
func mergeDone(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
