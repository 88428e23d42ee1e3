package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ternarybob/foresight/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.app.Tracing.HTTPMiddleware)

	api := handlers.NewAPIHandler(s.app.Router, s.app.Logger)

	// Ops
	r.HandleFunc("/health", api.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/version", api.VersionHandler).Methods(http.MethodGet)
	if s.app.Metrics != nil {
		path := s.app.Config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.app.Metrics.Handler()).Methods(http.MethodGet)
	}

	// Trigger and read surface
	forecast := handlers.NewForecastHandler(s.app, s.app.Logger)
	forecast.RegisterRoutes(r.PathPrefix("/api").Subrouter())

	r.NotFoundHandler = http.HandlerFunc(api.NotFoundHandler)

	return r
}
