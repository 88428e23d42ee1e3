package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/jobs"
	"github.com/ternarybob/foresight/internal/models"
	"github.com/ternarybob/foresight/internal/queue"
	"github.com/ternarybob/foresight/internal/services/freshness"
	"github.com/ternarybob/foresight/internal/services/metrics"
	"github.com/ternarybob/foresight/internal/signals"
	"github.com/ternarybob/foresight/internal/storage/badger"
)

// Wednesday, so trading-day freshness rules do not kick in
var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type fakeCollaborator struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
}

func newFakeCollaborator() *fakeCollaborator {
	return &fakeCollaborator{
		responses: map[string]string{
			signals.TaskPriceObservations: priceResponse(30, 100),
			signals.TaskMarketSignals:     `[{"title":"Tight supply in Brazil","description":"inventory drawdown","source":"USDA","sentiment":"bullish","confidence":0.8},{"title":"Strong importer demand","source":"Reuters","sentiment":"bullish","confidence":0.6}]`,
			signals.TaskNewsArticles:      newsResponse("bullish"),
			signals.TaskDomainSummary:     "Coffee looks firm.",
			signals.TaskEnsembleSummary:   "<p>Combined outlook is firm.</p>",
		},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (c *fakeCollaborator) Execute(ctx context.Context, req interfaces.ExecuteRequest) (*interfaces.ExecuteResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.Task]++
	if err := c.errs[req.Task]; err != nil {
		return nil, err
	}
	return &interfaces.ExecuteResponse{Response: c.responses[req.Task], Model: "fake"}, nil
}

func (c *fakeCollaborator) set(task, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[task] = response
}

func (c *fakeCollaborator) fail(task string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[task] = err
}

func priceResponse(days int, start float64) string {
	rows := make([]map[string]interface{}, 0, days)
	for i := days; i >= 1; i-- {
		rows = append(rows, map[string]interface{}{
			"date":  testNow.AddDate(0, 0, -i).Format("2006-01-02"),
			"price": start + float64(days-i)*0.1,
		})
	}
	data, _ := json.Marshal(rows)
	return string(data)
}

func newsResponse(sentiment string) string {
	items := []map[string]interface{}{
		{"title": "Coffee prices climb as drought hits harvest", "source": "Reuters", "published_at": testNow.Add(-2 * time.Hour).Format(time.RFC3339), "sentiment": sentiment, "confidence": 0.8},
		{"title": "Coffee prices climb as drought hits harvest", "source": "Bloomberg", "published_at": testNow.Add(-3 * time.Hour).Format(time.RFC3339), "sentiment": sentiment, "confidence": 0.8},
		{"title": "Coffee exporters report strong shipments", "source": "agrimoney", "published_at": testNow.Add(-30 * time.Hour).Format(time.RFC3339), "sentiment": sentiment, "confidence": 0.6},
	}
	data, _ := json.Marshal(items)
	return string(data)
}

// fakeForecaster projects a straight line to base*(1+move)
type fakeForecaster struct {
	move       float64
	confidence float64
}

func (f *fakeForecaster) Name() string { return "fake" }

func (f *fakeForecaster) Forecast(ctx context.Context, req interfaces.ForecastRequest) (*interfaces.ForecastResult, error) {
	last, ok := signals.LastPrice(req.History)
	if !ok {
		return nil, models.ErrInsufficientData
	}
	points := make([]models.ForecastPoint, 0, 5)
	for i := 1; i <= 5; i++ {
		v := last.Price * (1 + f.move*float64(i)/5)
		points = append(points, models.ForecastPoint{
			Date:  req.Start.AddDate(0, 0, i).Format("2006-01-02"),
			Value: v, Lower: v * 0.95, Upper: v * 1.05,
		})
	}
	return &interfaces.ForecastResult{BasePrice: last.Price, Points: points, Confidence: f.confidence, Model: "fake"}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []*models.Alert
	err    error
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) Notify(ctx context.Context, alert *models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return n.err
}

type fixture struct {
	storage      *badger.Manager
	router       *queue.Router
	orch         *jobs.Orchestrator
	collaborator *fakeCollaborator
	forecaster   *fakeForecaster
	notifier     *fakeNotifier
	tracker      *freshness.Tracker
	deps         Deps
	processors   map[models.Domain]*JobProcessor
}

func newFixture(t *testing.T, jobsConfig jobs.Config) *fixture {
	t.Helper()
	logger := arbor.NewLogger()
	ctx := context.Background()

	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	storage := badger.NewManagerWithDB(db, logger)

	require.NoError(t, storage.ProfileStorage().SaveProfile(ctx, &models.Profile{
		ID: "coffee", Name: "Arabica coffee", Keywords: []string{"coffee", "drought"},
		Region: "Brazil", Mode: models.ProfileModeQuantity, Active: true,
	}))

	router, err := queue.NewRouter(db.DB(), queue.NewDefaultConfig(), logger)
	require.NoError(t, err)

	orch := jobs.NewOrchestrator(storage.JobStorage(), storage.ProfileStorage(), router, jobsConfig, logger)
	tracker := freshness.NewTracker(storage.FreshnessStorage(), common.NewDefaultConfig().Freshness, logger)

	f := &fixture{
		storage:      storage,
		router:       router,
		orch:         orch,
		collaborator: newFakeCollaborator(),
		forecaster:   &fakeForecaster{move: 0.1, confidence: 0.8},
		notifier:     &fakeNotifier{},
		tracker:      tracker,
		processors:   map[models.Domain]*JobProcessor{},
	}

	deps := Deps{
		Lifecycle:    orch,
		Jobs:         storage.JobStorage(),
		Profiles:     storage.ProfileStorage(),
		Medallion:    storage.MedallionStorage(),
		Aggregates:   storage.AggregateStorage(),
		Collaborator: f.collaborator,
		Freshness:    tracker,
		Metrics:      metrics.NewRecorder(),
		Logger:       logger,
		Now:          func() time.Time { return testNow },
	}
	config := Config{
		Temperature:     0.2,
		MaxTokens:       512,
		Summarize:       true,
		HistoryDays:     365,
		HorizonDays:     5,
		NewsHalfLife:    48 * time.Hour,
		MaxNewsItems:    10,
		MinSignalLength: 5,
	}
	f.deps = deps
	scorer := signals.NewLexiconScorer()

	workers := []interfaces.JobWorker{
		NewDomainWorker(NewPriceWorker(storage.MedallionStorage(), storage.AggregateStorage(), f.forecaster, config), deps, config),
		NewDomainWorker(NewMarketWorker(storage.AggregateStorage(), scorer, config), deps, config),
		NewDomainWorker(NewNewsWorker(storage.AggregateStorage(), scorer, config), deps, config),
		NewEnsembleWorker(deps, storage.AlertStorage(), f.notifier, config, EnsembleOptionsFrom(common.NewDefaultConfig().Ensemble)),
	}
	for _, w := range workers {
		q, ok := router.Queue(w.GetWorkerType())
		require.True(t, ok)
		f.processors[w.GetWorkerType()] = NewJobProcessor(q, w, orch, ProcessorConfig{Concurrency: 2, JobTimeout: time.Minute}, deps.Metrics, nil, logger)
	}
	return f
}

func defaultJobsConfig() jobs.Config {
	return jobs.Config{MaxRetries: 3, RetryBackoff: time.Hour, RetryBackoffMax: 2 * time.Hour, MinDomains: 1}
}

// drain processes one message from the domain's queue
func (f *fixture) drain(t *testing.T, domain models.Domain) {
	t.Helper()
	require.True(t, f.processors[domain].processNextJob(0), "expected a %s message", domain)
}

func (f *fixture) runBundle(t *testing.T) *jobs.BundleStatus {
	t.Helper()
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)

	for _, d := range models.DomainTypes {
		f.drain(t, d)
	}
	f.drain(t, models.DomainEnsemble)

	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	return status
}

func jobOf(status *jobs.BundleStatus, domain models.Domain) *models.Job {
	for _, j := range status.Jobs {
		if j.Type == domain {
			return j
		}
	}
	return nil
}

func TestPipeline_FullBundle(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()

	status := f.runBundle(t)
	assert.Equal(t, models.BundleStatusCompleted, status.Bundle.Status)
	assert.False(t, status.Bundle.Degraded)
	require.Len(t, status.Jobs, 4)
	for _, j := range status.Jobs {
		assert.Equal(t, models.JobStatusCompleted, j.Status, "job %s", j.Type)
	}

	price, err := f.storage.AggregateStorage().LatestPriceForecast(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, models.TrendUp, price.Trend)
	assert.InDelta(t, 102.9, price.BasePrice, 1e-9)
	assert.Equal(t, "Coffee looks firm.", price.Summary)
	assert.Equal(t, models.ReportDate(testNow), price.ReportDate)

	market, err := f.storage.AggregateStorage().LatestMarketSummary(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, models.SentimentBullish, market.Sentiment)
	assert.InDelta(t, 0.7, market.Score, 1e-9)
	assert.Equal(t, 2, market.SignalCount)

	news, err := f.storage.AggregateStorage().LatestNewsRanking(ctx, "coffee")
	require.NoError(t, err)
	require.Len(t, news.Items, 2)
	assert.Equal(t, 1, news.Items[0].Rank)
	assert.Equal(t, 2, news.Items[0].Corroboration)

	ensemble, err := f.storage.AggregateStorage().LatestEnsemble(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, models.TrendUp, ensemble.Trend)
	assert.Equal(t, 100.0, ensemble.AgreementPct)
	assert.Equal(t, status.Bundle.ID, ensemble.BundleID)
	assert.Equal(t, "Combined outlook is firm.", ensemble.Summary)
	assert.Len(t, ensemble.Domains, 3)

	var sum float64
	for _, w := range ensemble.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 0.01)

	view, err := f.storage.AggregateStorage().GetDashboardView(ctx, "coffee")
	require.NoError(t, err)
	assert.NotNil(t, view.Ensemble)

	snapshot, err := f.tracker.Snapshot(ctx, "coffee", testNow)
	require.NoError(t, err)
	for _, d := range []models.Domain{models.DomainPrice, models.DomainMarket, models.DomainNews, models.DomainEnsemble} {
		assert.False(t, snapshot[d].Staleness.IsStale, "domain %s", d)
	}

	raw, err := f.storage.MedallionStorage().PurgeRawBefore(ctx, testNow.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3, raw)
}

func TestPipeline_SummaryFallback(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	f.collaborator.fail(signals.TaskDomainSummary, errors.New("overloaded"))
	f.collaborator.fail(signals.TaskEnsembleSummary, errors.New("overloaded"))

	status := f.runBundle(t)
	require.Equal(t, models.BundleStatusCompleted, status.Bundle.Status)

	market, err := f.storage.AggregateStorage().LatestMarketSummary(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Contains(t, market.Summary, "Market coffee (Brazil) outlook:")

	ensemble, err := f.storage.AggregateStorage().LatestEnsemble(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Contains(t, ensemble.Summary, "Ensemble coffee (Brazil) outlook:")
}

func TestPipeline_CollaboratorFailureRetries(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()
	f.collaborator.fail(signals.TaskMarketSignals, errors.New("503 service unavailable"))

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	f.drain(t, models.DomainMarket)

	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	market := jobOf(status, models.DomainMarket)
	require.NotNil(t, market)
	assert.Equal(t, models.JobStatusPending, market.Status)
	assert.Equal(t, 1, market.RetryCount)
	require.NotNil(t, market.Error)
	assert.Contains(t, *market.Error, models.ErrCollaboratorFailure.Error())

	// Requeued with backoff, so nothing is visible yet
	assert.False(t, f.processors[models.DomainMarket].processNextJob(0))
}

func TestPipeline_EmptyReplyIsRetried(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()
	f.collaborator.set(signals.TaskMarketSignals, "")

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	f.drain(t, models.DomainMarket)

	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	market := jobOf(status, models.DomainMarket)
	require.NotNil(t, market)
	assert.Equal(t, models.JobStatusPending, market.Status)
	assert.Equal(t, 1, market.RetryCount)
	require.NotNil(t, market.Error)
	assert.Contains(t, *market.Error, models.ErrCollaboratorFailure.Error())
}

func TestPipeline_RedeliveryReclaimsLostJob(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	market := jobOf(status, models.DomainMarket)
	require.NotNil(t, market)

	// The first worker moved the job to running and died before reporting
	_, err = f.orch.UpdateJobStatus(ctx, market.ID, models.JobStatusRunning, "")
	require.NoError(t, err)
	f.drain(t, models.DomainMarket)

	job, err := f.storage.JobStorage().GetJob(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, errWorkerLost.Error())

	assert.Equal(t, 1, f.router.Depths(ctx)[models.DomainMarket], "retry is queued")
}

func TestBeginJob_LeaseHeldDropsDuplicate(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	market := jobOf(status, models.DomainMarket)
	require.NotNil(t, market)
	_, err = f.orch.UpdateJobStatus(ctx, market.ID, models.JobStatusRunning, "")
	require.NoError(t, err)

	deps := f.deps
	deps.LeaseTimeout = time.Hour
	_, err = beginJob(ctx, deps, &models.QueueMessage{
		JobID: market.ID, BundleID: bundle.ID, ProfileID: "coffee", Type: models.DomainMarket,
	})
	assert.ErrorIs(t, err, errDropped)

	job, err := f.storage.JobStorage().GetJob(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 0, job.RetryCount)
}

func TestPipeline_LooseModeDegraded(t *testing.T) {
	cfg := defaultJobsConfig()
	cfg.MaxRetries = 1
	f := newFixture(t, cfg)
	ctx := context.Background()
	f.collaborator.set(signals.TaskMarketSignals, "[]")

	status := f.runBundle(t)
	assert.Equal(t, models.BundleStatusCompleted, status.Bundle.Status)
	assert.True(t, status.Bundle.Degraded)

	market := jobOf(status, models.DomainMarket)
	require.NotNil(t, market)
	assert.Equal(t, models.JobStatusFailed, market.Status)
	assert.Equal(t, market.MaxRetries, market.RetryCount)

	ensemble, err := f.storage.AggregateStorage().LatestEnsemble(ctx, "coffee")
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Domain{models.DomainPrice, models.DomainNews}, ensemble.Domains)
	assert.InDelta(t, 66.7, ensemble.AgreementPct, 0.05)
}

func TestPipeline_StrictModeFailsBundle(t *testing.T) {
	cfg := defaultJobsConfig()
	cfg.StrictMode = true
	cfg.MaxRetries = 1
	f := newFixture(t, cfg)
	ctx := context.Background()
	f.collaborator.set(signals.TaskNewsArticles, "[]")

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	for _, d := range models.DomainTypes {
		f.drain(t, d)
	}
	assert.False(t, f.processors[models.DomainEnsemble].processNextJob(0))

	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BundleStatusFailed, status.Bundle.Status)
	assert.Contains(t, status.Bundle.Error, models.ErrInsufficientData.Error())

	// Domain aggregates survive the failed bundle
	_, err = f.storage.AggregateStorage().LatestPriceForecast(ctx, "coffee")
	assert.NoError(t, err)
}

func TestPipeline_CancelledBundleDropsMessages(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	_, err = f.orch.CancelBundle(ctx, bundle.ID)
	require.NoError(t, err)

	for _, d := range models.DomainTypes {
		f.drain(t, d)
	}

	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BundleStatusCancelled, status.Bundle.Status)
	for _, j := range status.Jobs {
		assert.Equal(t, models.JobStatusPending, j.Status)
	}
	assert.Zero(t, f.collaborator.calls[signals.TaskPriceObservations])

	_, err = f.storage.AggregateStorage().LatestPriceForecast(ctx, "coffee")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPipeline_DisagreementRaisesAlerts(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()
	f.collaborator.set(signals.TaskMarketSignals, `[{"title":"Favourable weather boosts yield","source":"Barchart","sentiment":"bearish","confidence":0.9},{"title":"Stronger dollar weighs on coffee","source":"Bloomberg","sentiment":"bearish","confidence":0.9}]`)
	f.notifier.err = errors.New("broker down")

	status := f.runBundle(t)
	require.Equal(t, models.BundleStatusCompleted, status.Bundle.Status)

	ensemble, err := f.storage.AggregateStorage().LatestEnsemble(ctx, "coffee")
	require.NoError(t, err)
	assert.True(t, ensemble.DeviationAlert)
	require.NotNil(t, ensemble.DeviationType)
	assert.Equal(t, models.DeviationModelDisagreement, *ensemble.DeviationType)
	assert.InDelta(t, 66.7, ensemble.AgreementPct, 0.05)

	alerts, err := f.storage.AlertStorage().ListAlerts(ctx, "coffee", true, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, len(ensemble.Deviations))
	for _, a := range alerts {
		assert.Equal(t, models.SeverityHigh, a.Severity)
		assert.Equal(t, jobOf(status, models.DomainEnsemble).ID, a.JobID)
	}
	assert.Len(t, f.notifier.alerts, len(alerts), "notifier failures do not stop delivery attempts")
}

func TestEnsembleWorker_RetriedAlertsAreNotDuplicated(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()

	status := f.runBundle(t)
	job := jobOf(status, models.DomainEnsemble)
	require.NotNil(t, job)

	w, ok := f.processors[models.DomainEnsemble].worker.(*EnsembleWorker)
	require.True(t, ok)
	devs := []signals.Deviation{
		{Type: models.DeviationModelDisagreement, Message: "domains disagree"},
		{Type: models.DeviationAnomaly, Message: "ensemble far from price-only"},
	}

	// A retried attempt raises the same deviations for the same job
	require.NoError(t, w.raiseAlerts(ctx, job, devs))
	require.NoError(t, w.raiseAlerts(ctx, job, devs))

	alerts, err := f.storage.AlertStorage().ListAlerts(ctx, "coffee", false, 50)
	require.NoError(t, err)
	perType := map[models.DeviationType]int{}
	for _, a := range alerts {
		if a.JobID == job.ID {
			perType[a.Type]++
		}
	}
	for _, d := range devs {
		assert.Equal(t, 1, perType[d.Type], "one %s alert per job", d.Type)
	}
	assert.Len(t, f.notifier.alerts, len(alerts), "only new alerts are notified")
}

func TestPipeline_BreakingEventAgainstPriorRun(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()

	first := f.runBundle(t)
	require.Equal(t, models.BundleStatusCompleted, first.Bundle.Status)

	f.forecaster.confidence = 0.3
	second := f.runBundle(t)
	require.Equal(t, models.BundleStatusCompleted, second.Bundle.Status)

	ensemble, err := f.storage.AggregateStorage().LatestEnsemble(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, second.Bundle.ID, ensemble.BundleID)
	require.NotNil(t, ensemble.DeviationType)
	assert.Equal(t, models.DeviationBreakingEvent, *ensemble.DeviationType)
}

func TestDomainWorker_Validate(t *testing.T) {
	w := NewDomainWorker(NewMarketWorker(nil, signals.NewLexiconScorer(), Config{}), Deps{}, Config{})

	tests := []struct {
		name    string
		msg     models.QueueMessage
		wantErr bool
	}{
		{"matching", models.QueueMessage{JobID: "j", BundleID: "b", ProfileID: "p", Type: models.DomainMarket}, false},
		{"wrong queue", models.QueueMessage{JobID: "j", BundleID: "b", ProfileID: "p", Type: models.DomainNews}, true},
		{"missing ids", models.QueueMessage{Type: models.DomainMarket}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Validate(&tt.msg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPriceWorker_MergesStoredHistory(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()

	// Only five fresh observations; the stored series from the first run fills the window
	first := f.runBundle(t)
	require.Equal(t, models.BundleStatusCompleted, first.Bundle.Status)

	f.collaborator.set(signals.TaskPriceObservations, fmt.Sprintf(`[{"date":"%s","price":120}]`, testNow.AddDate(0, 0, -1).Format("2006-01-02")))
	second := f.runBundle(t)
	require.Equal(t, models.BundleStatusCompleted, second.Bundle.Status)

	price, err := f.storage.AggregateStorage().LatestPriceForecast(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, 120.0, price.BasePrice, "the newer observation for the same day wins")
}

type panicWorker struct {
	lifecycle JobLifecycle
}

func (w *panicWorker) GetWorkerType() models.Domain { return models.DomainPrice }

func (w *panicWorker) Validate(msg *models.QueueMessage) error { return nil }

func (w *panicWorker) Execute(ctx context.Context, msg *models.QueueMessage) error {
	if _, err := w.lifecycle.UpdateJobStatus(ctx, msg.JobID, models.JobStatusRunning, ""); err != nil {
		return err
	}
	panic("boom")
}

func TestJobProcessor_PanicFailsJob(t *testing.T) {
	cfg := defaultJobsConfig()
	cfg.MaxRetries = 1
	f := newFixture(t, cfg)
	ctx := context.Background()

	q, ok := f.router.Queue(models.DomainPrice)
	require.True(t, ok)
	jp := NewJobProcessor(q, &panicWorker{lifecycle: f.orch}, f.orch, ProcessorConfig{}, nil, nil, arbor.NewLogger())

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	require.True(t, jp.processNextJob(0))

	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	price := jobOf(status, models.DomainPrice)
	require.NotNil(t, price)
	assert.Equal(t, models.JobStatusFailed, price.Status)
	require.NotNil(t, price.Error)
	assert.Contains(t, *price.Error, "panic")

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the panicked message is deleted")
}

func TestJobProcessor_Concurrency(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	assert.Equal(t, 2, f.processors[models.DomainPrice].Concurrency())
	assert.Equal(t, 1, f.processors[models.DomainEnsemble].Concurrency())

	q, _ := f.router.Queue(models.DomainNews)
	jp := NewJobProcessor(q, f.processors[models.DomainNews].worker, f.orch, ProcessorConfig{Concurrency: -3}, nil, nil, arbor.NewLogger())
	assert.Equal(t, 1, jp.Concurrency())
}

func TestJobProcessor_StartStop(t *testing.T) {
	f := newFixture(t, defaultJobsConfig())
	ctx := context.Background()

	for _, jp := range f.processors {
		jp.config.MinBackoff = 10 * time.Millisecond
		jp.Start()
	}

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := f.orch.BundleStatus(ctx, bundle.ID)
		return err == nil && status.Bundle.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)

	for _, jp := range f.processors {
		jp.Stop()
		jp.Stop()
	}

	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BundleStatusCompleted, status.Bundle.Status)
}
