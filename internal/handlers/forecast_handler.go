package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/jobs"
	"github.com/ternarybob/foresight/internal/models"
)

// ForecastService is the trigger and read surface served over HTTP
type ForecastService interface {
	RunForecast(ctx context.Context, profileID string) (*models.JobBundle, error)
	Status(ctx context.Context, bundleID string) (*jobs.BundleStatus, error)
	CancelBundle(ctx context.Context, bundleID string) (*models.JobBundle, error)
	Dashboard(ctx context.Context, profileID string) (*models.DashboardView, error)
	ListAlerts(ctx context.Context, profileID string, unacknowledgedOnly bool, limit int) ([]*models.Alert, error)
	AckAlert(ctx context.Context, alertID string) error
}

// ForecastHandler exposes bundles, dashboards and alerts
type ForecastHandler struct {
	service ForecastService
	logger  arbor.ILogger
}

func NewForecastHandler(service ForecastService, logger arbor.ILogger) *ForecastHandler {
	return &ForecastHandler{service: service, logger: logger}
}

// RegisterRoutes mounts the handler on r
func (h *ForecastHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/profiles/{id}/forecast", h.RunForecast).Methods("POST")
	r.HandleFunc("/profiles/{id}/dashboard", h.Dashboard).Methods("GET")
	r.HandleFunc("/bundles/{id}", h.BundleStatus).Methods("GET")
	r.HandleFunc("/bundles/{id}/cancel", h.CancelBundle).Methods("POST")
	r.HandleFunc("/alerts", h.ListAlerts).Methods("GET")
	r.HandleFunc("/alerts/{id}/ack", h.AckAlert).Methods("POST")

	// A subrouter reports a method mismatch as 404 unless it has its own handler
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
}

// RunForecast creates a bundle: POST /profiles/{id}/forecast
func (h *ForecastHandler) RunForecast(w http.ResponseWriter, r *http.Request) {
	profileID := mux.Vars(r)["id"]

	bundle, err := h.service.RunForecast(r.Context(), profileID)
	if err != nil {
		h.logger.Warn().Err(err).Str("profile_id", profileID).Msg("Forecast request rejected")
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, bundle)
}

// BundleStatus returns a bundle and its jobs: GET /bundles/{id}
func (h *ForecastHandler) BundleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// CancelBundle cancels a bundle: POST /bundles/{id}/cancel
func (h *ForecastHandler) CancelBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.service.CancelBundle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, bundle)
}

// Dashboard returns the latest aggregates of a profile: GET /profiles/{id}/dashboard
func (h *ForecastHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Dashboard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// ListAlerts returns alerts: GET /alerts?profile=&open=true&limit=
func (h *ForecastHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.ListAlerts(r.Context(),
		r.URL.Query().Get("profile"),
		GetBoolParam(r, "open"),
		GetLimitParam(r, 50),
	)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	WriteJSON(w, http.StatusOK, alerts)
}

// AckAlert acknowledges an alert: POST /alerts/{id}/ack
func (h *ForecastHandler) AckAlert(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["id"]
	if err := h.service.AckAlert(r.Context(), alertID); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteSuccess(w, "alert "+alertID+" acknowledged")
}
