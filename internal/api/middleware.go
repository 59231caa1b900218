package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// observe logs every request and counts it by route pattern and status.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			// Hijacked for a websocket.
			status = http.StatusSwitchingProtocols
		}
		s.metrics.IncRequest(route, status)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID(r)),
		)
	})
}

// authenticate requires an HS256 bearer token signed with the configured
// secret. Browsers cannot set headers on websocket upgrades, so the token is
// also accepted in the access_token query parameter.
func (s *Server) authenticate(next http.Handler) http.Handler {
	secret := []byte(s.cfg.JWTSecret)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			s.fail(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := jwt.Parse(raw, keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})); err != nil {
			s.logger.Debug("Rejected token", zap.Error(err), zap.String("request_id", requestID(r)))
			s.fail(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// requireProfiles answers 503 when no fingerprint store is configured.
func (s *Server) requireProfiles(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.profiles == nil {
			s.fail(w, http.StatusServiceUnavailable, "fingerprint store is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}
