// -----------------------------------------------------------------------
// Storage contracts - profiles, job state, medallion layers, aggregates
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/foresight/internal/models"
)

// ProfileStorage persists forecasting profiles.
type ProfileStorage interface {
	SaveProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	ListProfiles(ctx context.Context) ([]*models.Profile, error)
}

// JobUpdateFunc mutates a job (and optionally its bundle) inside a storage transaction.
// Returning an error aborts the transaction.
type JobUpdateFunc func(job *models.Job, bundle *models.JobBundle) error

// BundleUpdateFunc mutates a bundle inside a storage transaction that also read all of
// the bundle's jobs. Any returned jobs are created in the same transaction.
type BundleUpdateFunc func(bundle *models.JobBundle, jobs []*models.Job) ([]*models.Job, error)

// JobStorage persists bundles and jobs. UpdateJob and UpdateBundle are transactional
// read-modify-write operations and are the only way job state changes after creation.
type JobStorage interface {
	CreateBundle(ctx context.Context, bundle *models.JobBundle, jobs []*models.Job) error
	GetBundle(ctx context.Context, id string) (*models.JobBundle, error)
	ListBundles(ctx context.Context, profileID string, limit int) ([]*models.JobBundle, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListBundleJobs(ctx context.Context, bundleID string) ([]*models.Job, error)
	UpdateJob(ctx context.Context, jobID string, fn JobUpdateFunc) (*models.Job, *models.JobBundle, error)
	UpdateBundle(ctx context.Context, bundleID string, fn BundleUpdateFunc) (*models.JobBundle, []*models.Job, error)
}

// MedallionStorage persists the append-only raw and clean layers.
type MedallionStorage interface {
	AppendRaw(ctx context.Context, record *models.RawRecord) error
	AppendSignals(ctx context.Context, signals []*models.CleanSignal) error
	ListSignals(ctx context.Context, profileID string, domain models.Domain, since time.Time) ([]*models.CleanSignal, error)
	PurgeRawBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AggregateStorage persists aggregate rows keyed by (profile, domain, report date).
// Upserts overwrite; Latest* return models.ErrNotFound when no row exists.
type AggregateStorage interface {
	UpsertPriceForecast(ctx context.Context, row *models.PriceForecast) error
	UpsertMarketSummary(ctx context.Context, row *models.MarketSummary) error
	UpsertNewsRanking(ctx context.Context, row *models.NewsRanking) error
	UpsertEnsemble(ctx context.Context, row *models.EnsembleAggregate) error

	LatestPriceForecast(ctx context.Context, profileID string) (*models.PriceForecast, error)
	LatestMarketSummary(ctx context.Context, profileID string) (*models.MarketSummary, error)
	LatestNewsRanking(ctx context.Context, profileID string) (*models.NewsRanking, error)
	LatestEnsemble(ctx context.Context, profileID string) (*models.EnsembleAggregate, error)

	// RefreshDashboardView rebuilds the read-optimized view without blocking readers.
	RefreshDashboardView(ctx context.Context, profileID string) error
	GetDashboardView(ctx context.Context, profileID string) (*models.DashboardView, error)
}

// FreshnessStorage persists one freshness record per (profile, domain).
type FreshnessStorage interface {
	UpsertFreshness(ctx context.Context, record *models.FreshnessRecord) error
	GetFreshness(ctx context.Context, profileID string, domain models.Domain) (*models.FreshnessRecord, error)
	ListFreshness(ctx context.Context, profileID string) ([]*models.FreshnessRecord, error)
}

// AlertStorage persists the deviation alert audit trail.
type AlertStorage interface {
	// AppendAlert stores a new alert. It reports false, without error, when an
	// alert with the same ID already exists.
	AppendAlert(ctx context.Context, alert *models.Alert) (bool, error)
	ListAlerts(ctx context.Context, profileID string, unacknowledgedOnly bool, limit int) ([]*models.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error
}

// StorageManager groups the storage contracts of one backend.
type StorageManager interface {
	ProfileStorage() ProfileStorage
	JobStorage() JobStorage
	MedallionStorage() MedallionStorage
	AggregateStorage() AggregateStorage
	FreshnessStorage() FreshnessStorage
	AlertStorage() AlertStorage
	Close() error
}
