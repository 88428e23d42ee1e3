package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/handlers"
	"github.com/ternarybob/foresight/internal/jobs"
	"github.com/ternarybob/foresight/internal/models"
)

// stubService resolves a bundle after a fixed number of status polls
type stubService struct {
	mu       sync.Mutex
	polls    int
	resolved int
	acked    []string
}

func (s *stubService) RunForecast(ctx context.Context, profileID string) (*models.JobBundle, error) {
	if profileID != "coffee" {
		return nil, fmt.Errorf("profile %s: %w", profileID, models.ErrProfileNotFound)
	}
	return &models.JobBundle{ID: "b1", ProfileID: profileID, Status: models.BundleStatusPending, Trigger: models.TriggerManual}, nil
}

func (s *stubService) Status(ctx context.Context, bundleID string) (*jobs.BundleStatus, error) {
	if bundleID != "b1" {
		return nil, models.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	status := models.BundleStatusRunning
	if s.polls >= s.resolved {
		status = models.BundleStatusCompleted
	}
	return &jobs.BundleStatus{
		Bundle: &models.JobBundle{ID: bundleID, ProfileID: "coffee", Status: status},
		Jobs: []*models.Job{
			{ID: "j1", Type: models.DomainPrice, Status: models.JobStatusCompleted, MaxRetries: 3},
		},
	}, nil
}

func (s *stubService) CancelBundle(ctx context.Context, bundleID string) (*models.JobBundle, error) {
	return nil, fmt.Errorf("bundle %s is completed: %w", bundleID, models.ErrInvalidTransition)
}

func (s *stubService) Dashboard(ctx context.Context, profileID string) (*models.DashboardView, error) {
	return &models.DashboardView{
		ProfileID: profileID,
		Ensemble: &models.EnsembleAggregate{
			ForecastValue: 104.2,
			Trend:         models.TrendUp,
			AgreementPct:  100,
			Summary:       "Arabica outlook firm",
		},
	}, nil
}

func (s *stubService) ListAlerts(ctx context.Context, profileID string, unacknowledgedOnly bool, limit int) ([]*models.Alert, error) {
	if profileID != "coffee" || !unacknowledgedOnly || limit != 5 {
		return nil, nil
	}
	return []*models.Alert{{ID: "a1", ProfileID: profileID, Type: models.DeviationAnomaly, Severity: models.SeverityHigh}}, nil
}

func (s *stubService) AckAlert(ctx context.Context, alertID string) error {
	if alertID != "a1" {
		return models.ErrNotFound
	}
	s.mu.Lock()
	s.acked = append(s.acked, alertID)
	s.mu.Unlock()
	return nil
}

func newTestClient(t *testing.T, service handlers.ForecastService) *apiClient {
	t.Helper()
	r := mux.NewRouter()
	handlers.NewForecastHandler(service, arbor.NewLogger()).RegisterRoutes(r.PathPrefix("/api").Subrouter())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return newAPIClient(srv.URL + "/")
}

func TestAPIClient_RoundTrips(t *testing.T) {
	service := &stubService{resolved: 1}
	client := newTestClient(t, service)
	ctx := context.Background()

	bundle, err := client.RunForecast(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, "b1", bundle.ID)
	assert.Equal(t, models.TriggerManual, bundle.Trigger)

	status, err := client.Status(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, status.Jobs, 1)
	assert.Equal(t, models.DomainPrice, status.Jobs[0].Type)

	view, err := client.Dashboard(ctx, "coffee")
	require.NoError(t, err)
	require.NotNil(t, view.Ensemble)
	assert.Equal(t, 104.2, view.Ensemble.ForecastValue)

	alerts, err := client.ListAlerts(ctx, "coffee", true, 5)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "a1", alerts[0].ID)

	require.NoError(t, client.AckAlert(ctx, "a1"))
	assert.Equal(t, []string{"a1"}, service.acked)
}

func TestAPIClient_ErrorMapping(t *testing.T) {
	client := newTestClient(t, &stubService{})
	ctx := context.Background()

	_, err := client.RunForecast(ctx, "tea")
	require.Error(t, err)
	assert.True(t, isNotFound(err))
	assert.Contains(t, err.Error(), "404")

	_, err = client.Status(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = client.CancelBundle(ctx, "b1")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	assert.True(t, isNotFound(client.AckAlert(ctx, "nope")))
}

func TestAPIClient_WaitForBundle(t *testing.T) {
	client := newTestClient(t, &stubService{resolved: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := client.WaitForBundle(ctx, "b1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.BundleStatusCompleted, status.Bundle.Status)
}

func TestAPIClient_WaitForBundleTimeout(t *testing.T) {
	client := newTestClient(t, &stubService{resolved: 1 << 30})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	status, err := client.WaitForBundle(ctx, "b1", 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, status)
	assert.Equal(t, models.BundleStatusRunning, status.Bundle.Status)
}

func TestOutput_Tables(t *testing.T) {
	service := &stubService{resolved: 1}
	ctx := context.Background()

	status, err := service.Status(ctx, "b1")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, printBundleStatus(&buf, status))
	assert.Contains(t, buf.String(), "Bundle b1 (coffee)")
	assert.Contains(t, buf.String(), "0/3")

	view, err := service.Dashboard(ctx, "coffee")
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, printDashboard(&buf, view))
	assert.Contains(t, buf.String(), "104.20")
	assert.Contains(t, buf.String(), "Arabica outlook firm")

	buf.Reset()
	require.NoError(t, printAlerts(&buf, nil))
	assert.Equal(t, "No alerts\n", buf.String())
}

func TestOutput_JSON(t *testing.T) {
	outputFormat = "json"
	defer func() { outputFormat = "table" }()

	var buf bytes.Buffer
	require.NoError(t, printAlerts(&buf, nil))
	assert.JSONEq(t, "[]", buf.String())
}
