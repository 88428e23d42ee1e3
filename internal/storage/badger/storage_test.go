package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewManagerWithDB(db, logger)
}

func newTestBundle(profileID string) (*models.JobBundle, []*models.Job) {
	now := time.Now().UTC()
	bundle := &models.JobBundle{
		ID:          common.NewBundleID(),
		ProfileID:   profileID,
		Status:      models.BundleStatusPending,
		RequestedAt: now,
	}
	var jobs []*models.Job
	for i, domain := range models.DomainTypes {
		jobs = append(jobs, &models.Job{
			ID:         common.NewJobID(),
			BundleID:   bundle.ID,
			ProfileID:  profileID,
			Type:       domain,
			Status:     models.JobStatusPending,
			MaxRetries: 3,
			CreatedAt:  now.Add(time.Duration(i) * time.Millisecond),
		})
	}
	return bundle, jobs
}

func TestAggregateUpsertIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	aggregates := m.AggregateStorage()

	first := &models.MarketSummary{ProfileID: "coffee", ReportDate: "2025-03-01", Score: 0.1, Sentiment: models.SentimentNeutral}
	second := &models.MarketSummary{ProfileID: "coffee", ReportDate: "2025-03-01", Score: 0.5, Sentiment: models.SentimentBullish}

	require.NoError(t, aggregates.UpsertMarketSummary(ctx, first))
	require.NoError(t, aggregates.UpsertMarketSummary(ctx, second))

	count, err := m.DB().Store().Count(&models.MarketSummary{}, badgerhold.Where("ProfileID").Eq("coffee"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	latest, err := aggregates.LatestMarketSummary(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, 0.5, latest.Score)
	assert.Equal(t, models.SentimentBullish, latest.Sentiment)
}

func TestLatestReturnsMostRecentReportDate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	aggregates := m.AggregateStorage()

	for _, date := range []string{"2025-03-02", "2025-03-04", "2025-03-03"} {
		require.NoError(t, aggregates.UpsertPriceForecast(ctx, &models.PriceForecast{
			ProfileID:  "coffee",
			ReportDate: date,
			BasePrice:  100,
			Model:      date,
		}))
	}
	require.NoError(t, aggregates.UpsertPriceForecast(ctx, &models.PriceForecast{ProfileID: "cocoa", ReportDate: "2025-04-01"}))

	latest, err := aggregates.LatestPriceForecast(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-04", latest.ReportDate)

	_, err = aggregates.LatestNewsRanking(ctx, "coffee")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestConcurrentEnsembleUpsertLeavesOneRow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	aggregates := m.AggregateStorage()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, aggregates.UpsertEnsemble(ctx, &models.EnsembleAggregate{
				ProfileID:     "coffee",
				ReportDate:    "2025-03-01",
				ForecastValue: float64(100 + i),
			}))
		}(i)
	}
	wg.Wait()

	count, err := m.DB().Store().Count(&models.EnsembleAggregate{}, badgerhold.Where("ProfileID").Eq("coffee"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestUpdateJobAppliesCallbackAtomically(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	jobs := m.JobStorage()

	bundle, created := newTestBundle("coffee")
	require.NoError(t, jobs.CreateBundle(ctx, bundle, created))

	job, updatedBundle, err := jobs.UpdateJob(ctx, created[0].ID, func(job *models.Job, b *models.JobBundle) error {
		job.Status = models.JobStatusRunning
		b.Status = models.BundleStatusRunning
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, models.BundleStatusRunning, updatedBundle.Status)

	stored, err := jobs.GetBundle(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BundleStatusRunning, stored.Status)

	// A rejected callback leaves the job untouched
	_, _, err = jobs.UpdateJob(ctx, created[0].ID, func(job *models.Job, b *models.JobBundle) error {
		job.Status = models.JobStatusPending
		return fmt.Errorf("reject: %w", models.ErrInvalidTransition)
	})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	reloaded, err := jobs.GetJob(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, reloaded.Status)

	_, _, err = jobs.UpdateJob(ctx, "job_missing", func(*models.Job, *models.JobBundle) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateBundleCreatesFanInJobOnce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	jobs := m.JobStorage()

	bundle, created := newTestBundle("coffee")
	require.NoError(t, jobs.CreateBundle(ctx, bundle, created))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := jobs.UpdateBundle(ctx, bundle.ID, func(b *models.JobBundle, existing []*models.Job) ([]*models.Job, error) {
				if b.EnsembleJobID != "" {
					return nil, nil
				}
				ensemble := &models.Job{
					ID:        common.NewJobID(),
					BundleID:  b.ID,
					ProfileID: b.ProfileID,
					Type:      models.DomainEnsemble,
					Status:    models.JobStatusPending,
					CreatedAt: time.Now().UTC(),
				}
				b.EnsembleJobID = ensemble.ID
				return []*models.Job{ensemble}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := jobs.ListBundleJobs(ctx, bundle.ID)
	require.NoError(t, err)

	ensembles := 0
	for _, job := range all {
		if job.Type == models.DomainEnsemble {
			ensembles++
		}
	}
	assert.Equal(t, 1, ensembles)
	assert.Len(t, all, 4)
}

func TestListBundlesByProfile(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	jobs := m.JobStorage()

	for _, profile := range []string{"coffee", "coffee", "cocoa"} {
		bundle, created := newTestBundle(profile)
		require.NoError(t, jobs.CreateBundle(ctx, bundle, created))
	}

	bundles, err := jobs.ListBundles(ctx, "coffee", 10)
	require.NoError(t, err)
	assert.Len(t, bundles, 2)

	all, err := jobs.ListBundles(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPurgeRawBefore(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	medallion := m.MedallionStorage()
	now := time.Now().UTC()

	for i, age := range []time.Duration{48 * time.Hour, 36 * time.Hour, time.Hour} {
		require.NoError(t, medallion.AppendRaw(ctx, &models.RawRecord{
			ID:        fmt.Sprintf("raw-%d", i),
			ProfileID: "coffee",
			Domain:    models.DomainMarket,
			Payload:   "payload",
			FetchedAt: now.Add(-age),
		}))
	}

	purged, err := medallion.PurgeRawBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	count, err := m.DB().Store().Count(&models.RawRecord{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestListSignalsFiltersByDomainAndTime(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	medallion := m.MedallionStorage()
	now := time.Now().UTC()

	require.NoError(t, medallion.AppendSignals(ctx, []*models.CleanSignal{
		{ID: "s1", ProfileID: "coffee", Domain: models.DomainPrice, Value: 1, CreatedAt: now.Add(-time.Hour)},
		{ID: "s2", ProfileID: "coffee", Domain: models.DomainPrice, Value: 2, CreatedAt: now.Add(-72 * time.Hour)},
		{ID: "s3", ProfileID: "coffee", Domain: models.DomainMarket, CreatedAt: now},
	}))

	signals, err := medallion.ListSignals(ctx, "coffee", models.DomainPrice, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "s1", signals[0].ID)
}

func TestRefreshDashboardView(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	aggregates := m.AggregateStorage()
	now := time.Now().UTC()

	require.NoError(t, aggregates.UpsertPriceForecast(ctx, &models.PriceForecast{ProfileID: "coffee", ReportDate: "2025-03-01", BasePrice: 210}))
	require.NoError(t, aggregates.UpsertEnsemble(ctx, &models.EnsembleAggregate{
		ProfileID:  "coffee",
		ReportDate: "2025-03-01",
		Domains:    []models.Domain{models.DomainPrice},
	}))
	require.NoError(t, m.FreshnessStorage().UpsertFreshness(ctx, &models.FreshnessRecord{ProfileID: "coffee", Domain: models.DomainPrice, LastRefreshed: now}))

	require.NoError(t, aggregates.RefreshDashboardView(ctx, "coffee"))

	view, err := aggregates.GetDashboardView(ctx, "coffee")
	require.NoError(t, err)
	require.NotNil(t, view.Price)
	assert.Equal(t, 210.0, view.Price.BasePrice)
	assert.Nil(t, view.Market)
	assert.True(t, view.Degraded)
	assert.WithinDuration(t, now, view.Freshness[models.DomainPrice], time.Second)
}

func TestAlertAcknowledgement(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	alerts := m.AlertStorage()

	alert := &models.Alert{
		ID:        "alr-1",
		ProfileID: "coffee",
		Type:      models.DeviationModelDisagreement,
		Severity:  models.SeverityHigh,
		CreatedAt: time.Now().UTC(),
	}
	created, err := alerts.AppendAlert(ctx, alert)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = alerts.AppendAlert(ctx, alert)
	require.NoError(t, err)
	assert.False(t, created, "same id is not written twice")

	open, err := alerts.ListAlerts(ctx, "coffee", true, 10)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	require.NoError(t, alerts.AcknowledgeAlert(ctx, "alr-1", time.Now()))

	open, err = alerts.ListAlerts(ctx, "coffee", true, 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := alerts.ListAlerts(ctx, "coffee", false, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Acknowledged)
	assert.NotNil(t, all[0].AcknowledgedAt)

	assert.ErrorIs(t, alerts.AcknowledgeAlert(ctx, "missing", time.Now()), models.ErrNotFound)
}
