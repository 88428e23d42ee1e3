package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/handlers"
)

// withMiddleware wraps the router so that panics are recovered before the
// access log records the final status.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	return s.accessLog(s.recoverPanics(handler))
}

// accessLog records one line per request. Successful requests log at debug,
// client errors at info and server errors at warn.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		event := s.app.Logger.Debug()
		switch {
		case sw.status >= http.StatusInternalServerError:
			event = s.app.Logger.Warn()
		case sw.status >= http.StatusBadRequest:
			event = s.app.Logger.Info()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Int64("bytes", sw.bytes).
			Str("duration", time.Since(start).String()).
			Msg("Request served")
	})
}

// recoverPanics turns a handler panic into a JSON 500 response
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.app.Logger.Error().
					Str("panic", fmt.Sprintf("%v", rec)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("stack", common.GetStackTrace()).
					Msg("Handler panicked")

				_ = handlers.WriteError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}
