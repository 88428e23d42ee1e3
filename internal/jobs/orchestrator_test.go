package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/models"
	"github.com/ternarybob/foresight/internal/storage/badger"
)

type dispatched struct {
	job   models.Job
	delay time.Duration
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, job *models.Job, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatched{job: *job, delay: delay})
	return nil
}

func (d *fakeDispatcher) ofType(domain models.Domain) []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dispatched
	for _, c := range d.calls {
		if c.job.Type == domain {
			out = append(out, c)
		}
	}
	return out
}

type fixture struct {
	orch       *Orchestrator
	dispatcher *fakeDispatcher
	storage    *badger.Manager
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	storage := badger.NewManagerWithDB(db, logger)

	ctx := context.Background()
	require.NoError(t, storage.ProfileStorage().SaveProfile(ctx, &models.Profile{
		ID: "coffee", Name: "Arabica coffee", Keywords: []string{"coffee"}, Mode: models.ProfileModeQuantity, Active: true,
	}))
	require.NoError(t, storage.ProfileStorage().SaveProfile(ctx, &models.Profile{
		ID: "dormant", Name: "Dormant", Keywords: []string{"tin"}, Mode: models.ProfileModeQuantity, Active: false,
	}))

	dispatcher := &fakeDispatcher{}
	return &fixture{
		orch:       NewOrchestrator(storage.JobStorage(), storage.ProfileStorage(), dispatcher, config, logger),
		dispatcher: dispatcher,
		storage:    storage,
	}
}

func defaultConfig() Config {
	return Config{MaxRetries: 3, RetryBackoff: time.Second, RetryBackoffMax: 10 * time.Second, MinDomains: 1}
}

func (f *fixture) jobOfType(t *testing.T, bundleID string, domain models.Domain) *models.Job {
	t.Helper()
	status, err := f.orch.BundleStatus(context.Background(), bundleID)
	require.NoError(t, err)
	for _, job := range status.Jobs {
		if job.Type == domain {
			return job
		}
	}
	t.Fatalf("no %s job in bundle %s", domain, bundleID)
	return nil
}

// run drives a job through running to the given outcome
func (f *fixture) run(t *testing.T, jobID string, outcome models.JobStatus, cause error) {
	t.Helper()
	ctx := context.Background()
	_, err := f.orch.UpdateJobStatus(ctx, jobID, models.JobStatusRunning, "")
	require.NoError(t, err)
	if outcome == models.JobStatusCompleted {
		_, err = f.orch.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted, "")
	} else {
		_, err = f.orch.FailJob(ctx, jobID, cause)
	}
	require.NoError(t, err)
}

func TestCreateBundle(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.BundleStatusPending, bundle.Status)

	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	require.Len(t, status.Jobs, 3)
	for i, job := range status.Jobs {
		assert.Equal(t, models.DomainTypes[i], job.Type)
		assert.Equal(t, models.JobStatusPending, job.Status)
		assert.Equal(t, 3, job.MaxRetries)
	}

	assert.Len(t, f.dispatcher.calls, 3)

	tests := []struct {
		name      string
		profileID string
	}{
		{"missing profile", "nope"},
		{"inactive profile", "dormant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.CreateBundle(ctx, tt.profileID, models.TriggerManual)
			assert.ErrorIs(t, err, models.ErrProfileNotFound)
		})
	}
}

func TestUpdateJobStatusTransitions(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	price := f.jobOfType(t, bundle.ID, models.DomainPrice)

	_, err = f.orch.UpdateJobStatus(ctx, price.ID, models.JobStatusCompleted, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "pending cannot complete")

	job, err := f.orch.UpdateJobStatus(ctx, price.ID, models.JobStatusRunning, "")
	require.NoError(t, err)
	assert.NotNil(t, job.StartedAt)

	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BundleStatusRunning, status.Bundle.Status)
	assert.NotNil(t, status.Bundle.StartedAt)

	_, err = f.orch.UpdateJobStatus(ctx, price.ID, models.JobStatusRunning, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "running cannot restart")

	job, err = f.orch.UpdateJobStatus(ctx, price.ID, models.JobStatusCompleted, "")
	require.NoError(t, err)
	assert.NotNil(t, job.EndedAt)

	_, err = f.orch.UpdateJobStatus(ctx, price.ID, models.JobStatusFailed, "late")
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "completed is final")
}

func TestRetryBudgetIsExhaustedAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	news := f.jobOfType(t, bundle.ID, models.DomainNews)

	var requeues []bool
	for attempt := 1; attempt <= 3; attempt++ {
		f.run(t, news.ID, models.JobStatusFailed, assert.AnError)
		requeued, err := f.orch.RetryJob(ctx, news.ID)
		require.NoError(t, err)
		requeues = append(requeues, requeued)
	}
	assert.Equal(t, []bool{true, true, false}, requeues)

	final, err := f.storage.JobStorage().GetJob(ctx, news.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, 3, final.RetryCount)
	assert.True(t, IsJobTerminal(final, bundle))

	retries := f.dispatcher.ofType(models.DomainNews)
	require.Len(t, retries, 3, "initial dispatch plus two retries")
	assert.Equal(t, time.Duration(0), retries[0].delay)
	assert.Equal(t, time.Second, retries[1].delay)
	assert.Equal(t, 2*time.Second, retries[2].delay)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	market := f.jobOfType(t, bundle.ID, models.DomainMarket)

	f.run(t, market.ID, models.JobStatusFailed, models.ErrProfileNotFound)
	requeued, err := f.orch.RetryJob(ctx, market.ID)
	require.NoError(t, err)
	assert.False(t, requeued)
}

func TestDomainInsufficientDataIsRetried(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	market := f.jobOfType(t, bundle.ID, models.DomainMarket)

	f.run(t, market.ID, models.JobStatusFailed, fmt.Errorf("no signals: %w", models.ErrInsufficientData))
	requeued, err := f.orch.RetryJob(ctx, market.ID)
	require.NoError(t, err)
	assert.True(t, requeued)

	job, err := f.storage.JobStorage().GetJob(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name    string
		jobType models.Domain
		err     error
		want    bool
	}{
		{"collaborator failure", models.DomainMarket, models.ErrCollaboratorFailure, false},
		{"domain insufficient data", models.DomainNews, models.ErrInsufficientData, false},
		{"ensemble insufficient data", models.DomainEnsemble, models.ErrInsufficientData, true},
		{"profile not found", models.DomainPrice, models.ErrProfileNotFound, true},
		{"bundle cancelled", models.DomainPrice, fmt.Errorf("bundle b: %w", models.ErrBundleCancelled), true},
		{"invalid transition", models.DomainMarket, models.ErrInvalidTransition, true},
		{"plain error", models.DomainEnsemble, errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.jobType, tt.err))
		})
	}
}

func TestFanInLooseModeCreatesOneDegradedEnsemble(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)

	f.run(t, f.jobOfType(t, bundle.ID, models.DomainPrice).ID, models.JobStatusCompleted, nil)
	after, err := f.orch.MaybeAdvanceBundle(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Empty(t, after.EnsembleJobID, "barrier holds while siblings are pending")

	f.run(t, f.jobOfType(t, bundle.ID, models.DomainMarket).ID, models.JobStatusCompleted, nil)
	f.run(t, f.jobOfType(t, bundle.ID, models.DomainNews).ID, models.JobStatusFailed, models.ErrProfileNotFound)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.MaybeAdvanceBundle(ctx, bundle.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ensembles := f.dispatcher.ofType(models.DomainEnsemble)
	require.Len(t, ensembles, 1)

	ensemble := f.jobOfType(t, bundle.ID, models.DomainEnsemble)
	assert.ElementsMatch(t, []string{"price", "market"}, ensemble.MetadataStrings(MetaDomains))

	status, err := f.orch.BundleStatus(ctx, bundle.ID)
	require.NoError(t, err)
	assert.True(t, status.Bundle.Degraded)
	assert.Equal(t, ensemble.ID, status.Bundle.EnsembleJobID)

	f.run(t, ensemble.ID, models.JobStatusCompleted, nil)
	final, err := f.orch.MaybeAdvanceBundle(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BundleStatusCompleted, final.Status)
	assert.NotNil(t, final.EndedAt)
}

func TestFanInPolicy(t *testing.T) {
	tests := []struct {
		name         string
		strict       bool
		outcomes     map[models.Domain]models.JobStatus
		wantEnsemble bool
		wantStatus   models.BundleStatus
	}{
		{
			name:         "strict mode requires every domain",
			strict:       true,
			outcomes:     map[models.Domain]models.JobStatus{models.DomainPrice: models.JobStatusCompleted, models.DomainMarket: models.JobStatusCompleted, models.DomainNews: models.JobStatusFailed},
			wantEnsemble: false,
			wantStatus:   models.BundleStatusFailed,
		},
		{
			name:         "strict mode with all domains",
			strict:       true,
			outcomes:     map[models.Domain]models.JobStatus{models.DomainPrice: models.JobStatusCompleted, models.DomainMarket: models.JobStatusCompleted, models.DomainNews: models.JobStatusCompleted},
			wantEnsemble: true,
			wantStatus:   models.BundleStatusRunning,
		},
		{
			name:         "loose mode below minimum",
			strict:       false,
			outcomes:     map[models.Domain]models.JobStatus{models.DomainPrice: models.JobStatusFailed, models.DomainMarket: models.JobStatusFailed, models.DomainNews: models.JobStatusFailed},
			wantEnsemble: false,
			wantStatus:   models.BundleStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := defaultConfig()
			config.StrictMode = tt.strict
			f := newFixture(t, config)
			ctx := context.Background()

			bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerScheduled)
			require.NoError(t, err)

			for domain, outcome := range tt.outcomes {
				f.run(t, f.jobOfType(t, bundle.ID, domain).ID, outcome, models.ErrProfileNotFound)
			}

			after, err := f.orch.MaybeAdvanceBundle(ctx, bundle.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, after.Status)
			assert.Equal(t, tt.wantEnsemble, after.EnsembleJobID != "")
			if !tt.wantEnsemble {
				assert.Contains(t, after.Error, models.ErrInsufficientData.Error())
			}
		})
	}
}

func TestCancelBundle(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	bundle, err := f.orch.CreateBundle(ctx, "coffee", models.TriggerManual)
	require.NoError(t, err)
	price := f.jobOfType(t, bundle.ID, models.DomainPrice)
	market := f.jobOfType(t, bundle.ID, models.DomainMarket)

	_, err = f.orch.UpdateJobStatus(ctx, price.ID, models.JobStatusRunning, "")
	require.NoError(t, err)

	cancelled, err := f.orch.CancelBundle(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BundleStatusCancelled, cancelled.Status)

	_, err = f.orch.UpdateJobStatus(ctx, market.ID, models.JobStatusRunning, "")
	assert.ErrorIs(t, err, models.ErrBundleCancelled, "queued jobs do not start")

	_, err = f.orch.FailJob(ctx, price.ID, models.ErrBundleCancelled)
	require.NoError(t, err)
	requeued, err := f.orch.RetryJob(ctx, price.ID)
	require.NoError(t, err)
	assert.False(t, requeued)

	after, err := f.orch.MaybeAdvanceBundle(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BundleStatusCancelled, after.Status)
	assert.Empty(t, after.EnsembleJobID)

	_, err = f.orch.CancelBundle(ctx, bundle.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestBackoff(t *testing.T) {
	c := Config{RetryBackoff: 30 * time.Second, RetryBackoffMax: 2 * time.Minute}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{6, 2 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}
