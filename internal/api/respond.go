package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// respond writes a success envelope.
func (s *Server) respond(w http.ResponseWriter, data any) {
	s.write(w, http.StatusOK, schemas.StandardResponse{Code: 0, Data: data, Msg: "success"})
}

// fail writes an error envelope whose code mirrors the HTTP status.
func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.write(w, status, schemas.StandardResponse{Code: status, Msg: msg})
}

// failErr maps err onto a status and writes it. Server-side failures are
// logged; client errors are not.
func (s *Server) failErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
	}
	s.fail(w, status, err.Error())
}

func (s *Server) write(w http.ResponseWriter, status int, body schemas.StandardResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

// decode reads a JSON body into dst, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var badRequest *badRequestError
	switch {
	case errors.As(err, &badRequest), errors.Is(err, schemas.ErrInvalidProfile):
		return http.StatusBadRequest
	case errors.Is(err, schemas.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// badRequestError is a request that failed validation.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}
