package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/foresight/internal/app"
	"github.com/ternarybob/foresight/internal/handlers"
	"github.com/ternarybob/foresight/internal/jobs"
	"github.com/ternarybob/foresight/internal/models"
)

// pipeline is what the commands drive, in-process or over HTTP
type pipeline interface {
	handlers.ForecastService
	WaitForBundle(ctx context.Context, bundleID string, interval time.Duration) (*jobs.BundleStatus, error)
	Close() error
}

// openPipeline returns the API client when --server is set, otherwise an
// in-process application. withWorkers starts the job processors.
func openPipeline(withWorkers bool) (pipeline, error) {
	if remote() {
		return newAPIClient(serverURL), nil
	}

	// One-shot commands never run cron jobs
	config.Scheduler.Enabled = false

	application, err := app.New(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	if withWorkers {
		if err := application.Start(); err != nil {
			application.Close()
			return nil, err
		}
	}
	return application, nil
}

// apiClient talks to the /api routes of a running server
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError carries the error body of a non-2xx response
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps HTTP statuses back onto pipeline errors
func (e *apiError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusConflict:
		return models.ErrInvalidTransition
	}
	return nil
}

func (c *apiClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api"+path, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(body))
		}
		return &apiError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) RunForecast(ctx context.Context, profileID string) (*models.JobBundle, error) {
	var bundle models.JobBundle
	if err := c.do(ctx, http.MethodPost, "/profiles/"+url.PathEscape(profileID)+"/forecast", &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (c *apiClient) Status(ctx context.Context, bundleID string) (*jobs.BundleStatus, error) {
	var status jobs.BundleStatus
	if err := c.do(ctx, http.MethodGet, "/bundles/"+url.PathEscape(bundleID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *apiClient) CancelBundle(ctx context.Context, bundleID string) (*models.JobBundle, error) {
	var bundle models.JobBundle
	if err := c.do(ctx, http.MethodPost, "/bundles/"+url.PathEscape(bundleID)+"/cancel", &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (c *apiClient) Dashboard(ctx context.Context, profileID string) (*models.DashboardView, error) {
	var view models.DashboardView
	if err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(profileID)+"/dashboard", &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *apiClient) ListAlerts(ctx context.Context, profileID string, unacknowledgedOnly bool, limit int) ([]*models.Alert, error) {
	q := url.Values{}
	if profileID != "" {
		q.Set("profile", profileID)
	}
	q.Set("open", strconv.FormatBool(unacknowledgedOnly))
	q.Set("limit", strconv.Itoa(limit))

	var alerts []*models.Alert
	if err := c.do(ctx, http.MethodGet, "/alerts?"+q.Encode(), &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *apiClient) AckAlert(ctx context.Context, alertID string) error {
	return c.do(ctx, http.MethodPost, "/alerts/"+url.PathEscape(alertID)+"/ack", nil)
}

// WaitForBundle polls the bundle until it resolves or ctx is done. On
// timeout it returns the last status seen along with ctx.Err().
func (c *apiClient) WaitForBundle(ctx context.Context, bundleID string, interval time.Duration) (*jobs.BundleStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *jobs.BundleStatus
	for {
		status, err := c.Status(ctx, bundleID)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, err
		}
		last = status
		if status.Bundle != nil && status.Bundle.Status.IsTerminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *apiClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// isNotFound reports a missing bundle, profile or alert from either backend
func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrProfileNotFound)
}
