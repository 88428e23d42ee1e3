package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/jobs"
	"github.com/ternarybob/foresight/internal/models"
	"github.com/ternarybob/foresight/internal/queue"
	"github.com/ternarybob/foresight/internal/queue/workers"
	"github.com/ternarybob/foresight/internal/services/alerts"
	"github.com/ternarybob/foresight/internal/services/forecast"
	"github.com/ternarybob/foresight/internal/services/freshness"
	"github.com/ternarybob/foresight/internal/services/llm"
	"github.com/ternarybob/foresight/internal/services/metrics"
	"github.com/ternarybob/foresight/internal/services/profiles"
	"github.com/ternarybob/foresight/internal/services/scheduler"
	"github.com/ternarybob/foresight/internal/services/tracing"
	"github.com/ternarybob/foresight/internal/signals"
	"github.com/ternarybob/foresight/internal/storage"
	"github.com/ternarybob/foresight/internal/storage/badger"
)

// Scheduler job names
const (
	JobPurgeRaw      = "purge_raw"
	JobRefreshStale  = "refresh_stale"
	profileJobPrefix = "forecast:"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager

	// Queues live in Badger even when the stores are in Postgres
	queueDB     *badger.BadgerDB
	ownsQueueDB bool

	// Job execution
	Router       *queue.Router
	Orchestrator *jobs.Orchestrator
	Processors   []*workers.JobProcessor

	// Collaborators
	Collaborator interfaces.Collaborator
	Forecaster   interfaces.Forecaster

	Freshness     *freshness.Tracker
	Alerts        *alerts.Fanout
	Metrics       *metrics.Recorder
	Tracing       *tracing.Provider
	ProfileLoader *profiles.Loader
	Scheduler     *scheduler.Service

	mu      sync.Mutex
	started bool
	closed  bool
}

// New initializes the application with all dependencies. Processors and the
// scheduler are not running until Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initDatabase(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initProcessors(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize job processors: %w", err)
	}

	if err := app.initScheduler(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Str("llm_provider", cfg.LLM.Provider).
		Str("forecaster", app.Forecaster.Name()).
		Bool("strict_mode", cfg.Orchestrator.StrictMode).
		Int("alert_channels", app.Alerts.Len()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the configured store and the Badger database backing the queues
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager

	if m, ok := storageManager.(*badger.Manager); ok {
		a.queueDB = m.DB()
	} else {
		a.queueDB, err = badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
		if err != nil {
			return fmt.Errorf("failed to open queue database: %w", err)
		}
		a.ownsQueueDB = true
	}

	a.Logger.Debug().
		Str("storage", a.Config.Storage.Type).
		Str("queue_path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	a.ProfileLoader = profiles.NewLoader(a.StorageManager.ProfileStorage(), a.Logger)
	if a.Config.Profiles.Dir != "" {
		if _, err := a.ProfileLoader.LoadDir(a.ctx, a.Config.Profiles.Dir); err != nil {
			// Startup continues with whatever profiles are already stored
			a.Logger.Warn().Err(err).Str("dir", a.Config.Profiles.Dir).Msg("Failed to load profiles")
		}
	}

	return nil
}

// initServices creates the collaborators and the orchestrator in dependency order
func (a *App) initServices() error {
	var err error

	if a.Config.Metrics.Enabled {
		a.Metrics = metrics.NewRecorder()
	}

	a.Tracing, err = tracing.NewProvider(a.ctx, a.Config.Tracing, a.Config.Environment, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.Collaborator, err = llm.NewCollaborator(a.ctx, a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize collaborator: %w", err)
	}

	a.Forecaster, err = forecast.NewForecaster(a.Config.Forecast, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize forecaster: %w", err)
	}

	a.Freshness = freshness.NewTracker(a.StorageManager.FreshnessStorage(), a.Config.Freshness, a.Logger)
	a.Alerts = alerts.NewFromConfig(a.Config.Alerts, a.Logger)

	a.Router, err = queue.NewRouter(a.queueDB.DB(), queue.ConfigFrom(a.Config.Queue), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queues: %w", err)
	}

	a.Orchestrator = jobs.NewOrchestrator(
		a.StorageManager.JobStorage(),
		a.StorageManager.ProfileStorage(),
		a.Router,
		jobs.ConfigFrom(a.Config),
		a.Logger,
	)
	a.Logger.Debug().Msg("Orchestrator initialized")

	return nil
}

// initProcessors creates one job processor per queue
func (a *App) initProcessors() error {
	workerConfig := workers.ConfigFrom(a.Config)
	deps := workers.Deps{
		Lifecycle:    a.Orchestrator,
		Jobs:         a.StorageManager.JobStorage(),
		Profiles:     a.StorageManager.ProfileStorage(),
		Medallion:    a.StorageManager.MedallionStorage(),
		Aggregates:   a.StorageManager.AggregateStorage(),
		Collaborator: a.Collaborator,
		Freshness:    a.Freshness,
		Metrics:      a.Metrics,
		Logger:       a.Logger,
		LeaseTimeout: queue.ConfigFrom(a.Config.Queue).VisibilityTimeout,
	}
	scorer := signals.NewLexiconScorer()

	var notifier interfaces.AlertNotifier
	if a.Alerts.Len() > 0 {
		notifier = a.Alerts
	}

	workerList := []interfaces.JobWorker{
		workers.NewDomainWorker(workers.NewPriceWorker(deps.Medallion, deps.Aggregates, a.Forecaster, workerConfig), deps, workerConfig),
		workers.NewDomainWorker(workers.NewMarketWorker(deps.Aggregates, scorer, workerConfig), deps, workerConfig),
		workers.NewDomainWorker(workers.NewNewsWorker(deps.Aggregates, scorer, workerConfig), deps, workerConfig),
		workers.NewEnsembleWorker(deps, a.StorageManager.AlertStorage(), notifier, workerConfig, workers.EnsembleOptionsFrom(a.Config.Ensemble)),
	}

	queueConfig := queue.ConfigFrom(a.Config.Queue)
	jobTimeout := common.ParseDuration(a.Config.Jobs.Timeout, 10*time.Minute)

	for _, w := range workerList {
		domain := w.GetWorkerType()
		q, ok := a.Router.Queue(domain)
		if !ok {
			return fmt.Errorf("no queue for %s worker", domain)
		}
		jp := workers.NewJobProcessor(q, w, a.Orchestrator, workers.ProcessorConfig{
			Concurrency: a.Config.Queue.Concurrency.For(domain),
			JobTimeout:  jobTimeout,
			MinBackoff:  queueConfig.PollInterval,
		}, a.Metrics, a.Tracing, a.Logger)
		a.Processors = append(a.Processors, jp)

		a.Logger.Debug().
			Str("queue", q.Name()).
			Int("concurrency", jp.Concurrency()).
			Msg("Job processor initialized")
	}

	return nil
}

// initScheduler registers the maintenance jobs and one job per scheduled profile
func (a *App) initScheduler() error {
	a.Scheduler = scheduler.NewService(a.Logger)
	if !a.Config.Scheduler.Enabled {
		return nil
	}

	if a.Config.Scheduler.PurgeRaw != "" {
		if err := a.Scheduler.RegisterJob(JobPurgeRaw, a.Config.Scheduler.PurgeRaw, "Purge raw records past retention", a.purgeRaw); err != nil {
			return err
		}
	}
	if a.Config.Scheduler.RefreshStale != "" {
		if err := a.Scheduler.RegisterJob(JobRefreshStale, a.Config.Scheduler.RefreshStale, "Create bundles for profiles with stale domains", a.refreshStale); err != nil {
			return err
		}
	}

	profileList, err := a.StorageManager.ProfileStorage().ListProfiles(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}
	for _, p := range profileList {
		if !p.Active || p.Schedule == "" {
			continue
		}
		profileID := p.ID
		err := a.Scheduler.RegisterJob(profileJobPrefix+profileID, p.Schedule, "Scheduled forecast for "+p.Name,
			func(ctx context.Context) error {
				_, err := a.Orchestrator.CreateBundle(ctx, profileID, models.TriggerScheduled)
				return err
			})
		if err != nil {
			// One bad schedule must not keep the others from running
			a.Logger.Warn().Err(err).Str("profile_id", profileID).Msg("Profile schedule not registered")
		}
	}

	return nil
}

// Start launches the job processors, the scheduler and the queue depth sampler
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New("application is closed")
	}
	if a.started {
		return nil
	}

	for _, jp := range a.Processors {
		jp.Start()
	}

	if a.Config.Scheduler.Enabled {
		if err := a.Scheduler.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if a.Metrics != nil {
		common.SafeGoWithContext(a.ctx, a.Logger, "queueDepthSampler", func() {
			a.Metrics.PollQueueDepths(a.ctx, 15*time.Second, a.Router.Depths)
		})
	}

	a.started = true
	a.Logger.Info().Int("processors", len(a.Processors)).Msg("Application started")
	return nil
}

// RunForecast creates a bundle for a profile and enqueues its domain jobs
func (a *App) RunForecast(ctx context.Context, profileID string) (*models.JobBundle, error) {
	return a.Orchestrator.CreateBundle(ctx, profileID, models.TriggerManual)
}

// Status returns a bundle with all of its jobs
func (a *App) Status(ctx context.Context, bundleID string) (*jobs.BundleStatus, error) {
	return a.Orchestrator.BundleStatus(ctx, bundleID)
}

// WaitForBundle polls until the bundle is terminal or ctx is done
func (a *App) WaitForBundle(ctx context.Context, bundleID string, interval time.Duration) (*jobs.BundleStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := a.Status(ctx, bundleID)
		if err != nil {
			return nil, err
		}
		if status.Bundle.Status.IsTerminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CancelBundle cancels a bundle that has not resolved yet
func (a *App) CancelBundle(ctx context.Context, bundleID string) (*models.JobBundle, error) {
	return a.Orchestrator.CancelBundle(ctx, bundleID)
}

// Dashboard returns the read-side view of a profile's latest aggregates
func (a *App) Dashboard(ctx context.Context, profileID string) (*models.DashboardView, error) {
	return a.StorageManager.AggregateStorage().GetDashboardView(ctx, profileID)
}

// ListAlerts returns the newest alerts, optionally for one profile
func (a *App) ListAlerts(ctx context.Context, profileID string, unacknowledgedOnly bool, limit int) ([]*models.Alert, error) {
	return a.StorageManager.AlertStorage().ListAlerts(ctx, profileID, unacknowledgedOnly, limit)
}

// AckAlert marks an alert acknowledged
func (a *App) AckAlert(ctx context.Context, alertID string) error {
	return a.StorageManager.AlertStorage().AcknowledgeAlert(ctx, alertID, time.Now().UTC())
}

// purgeRaw deletes raw records older than the retention window
func (a *App) purgeRaw(ctx context.Context) error {
	retention := common.ParseDuration(a.Config.Storage.RawRetention, 30*24*time.Hour)
	cutoff := time.Now().UTC().Add(-retention)

	n, err := a.StorageManager.MedallionStorage().PurgeRawBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("purged", n).Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Raw records purged")
	return nil
}

// refreshStale creates a bundle for every active profile with a stale domain
// and no bundle in flight
func (a *App) refreshStale(ctx context.Context) error {
	profileList, err := a.StorageManager.ProfileStorage().ListProfiles(ctx)
	if err != nil {
		return err
	}
	stale, err := a.Freshness.StaleProfiles(ctx, profileList, time.Now().UTC())
	if err != nil {
		return err
	}

	stuckAfter := common.ParseDuration(a.Config.Orchestrator.StuckAfter, 6*time.Hour)

	var errs []error
	created := 0
	for _, p := range stale {
		latest, err := a.Orchestrator.ListBundles(ctx, p.ID, 1)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(latest) > 0 && !latest[0].Status.IsTerminal() {
			if time.Since(latest[0].RequestedAt) < stuckAfter {
				continue
			}
			// A bundle this old lost its queue message; replace it
			if _, err := a.Orchestrator.CancelBundle(ctx, latest[0].ID); err != nil && !errors.Is(err, models.ErrInvalidTransition) {
				errs = append(errs, fmt.Errorf("profile %s: %w", p.ID, err))
				continue
			}
			a.Logger.Warn().
				Str("profile_id", p.ID).
				Str("bundle_id", latest[0].ID).
				Str("age", time.Since(latest[0].RequestedAt).Round(time.Second).String()).
				Msg("Cancelled stuck bundle")
		}
		if _, err := a.Orchestrator.CreateBundle(ctx, p.ID, models.TriggerScheduled); err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", p.ID, err))
			continue
		}
		created++
	}

	a.Logger.Info().Int("stale", len(stale)).Int("bundles", created).Msg("Stale profiles refreshed")
	return errors.Join(errs...)
}

// Close stops background work and releases all resources
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	for _, jp := range a.Processors {
		jp.Stop()
	}

	if a.Router != nil {
		if err := a.Router.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queues")
		}
	}

	if a.Alerts != nil {
		if err := a.Alerts.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close alert notifiers")
		}
	}

	if a.Tracing != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Tracing.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to flush traces")
		}
		cancel()
	}

	if a.ownsQueueDB && a.queueDB != nil {
		if err := a.queueDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue database")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
