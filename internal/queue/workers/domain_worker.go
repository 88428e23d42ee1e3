// -----------------------------------------------------------------------
// Domain Worker - shared runner for the price, market and news pipelines
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
	"github.com/ternarybob/foresight/internal/services/freshness"
	"github.com/ternarybob/foresight/internal/services/metrics"
	"github.com/ternarybob/foresight/internal/signals"
)

var (
	// errDropped marks a message whose bundle was cancelled before the job started
	errDropped = errors.New("message dropped")
	// errInvalidMessage marks a message the worker cannot process at all
	errInvalidMessage = errors.New("invalid queue message")
	// errWorkerLost marks an attempt whose worker stopped without reporting back
	errWorkerLost = errors.New("worker lost")
)

// JobLifecycle is the orchestrator surface workers report through
type JobLifecycle interface {
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) (*models.Job, error)
	FailJob(ctx context.Context, jobID string, cause error) (*models.Job, error)
	RetryJob(ctx context.Context, jobID string) (bool, error)
	MaybeAdvanceBundle(ctx context.Context, bundleID string) (*models.JobBundle, error)
}

// Config holds the worker tunables shared by all pipelines
type Config struct {
	Temperature     float64
	MaxTokens       int
	Summarize       bool
	HistoryDays     int
	HorizonDays     int
	NewsHalfLife    time.Duration
	MaxNewsItems    int
	NewsMinScore    float64
	MinSignalLength int
}

// ConfigFrom extracts the worker tunables from the application config
func ConfigFrom(c *common.Config) Config {
	return Config{
		Temperature:     c.LLM.Temperature,
		MaxTokens:       c.LLM.MaxTokens,
		Summarize:       c.Workers.Summarize,
		HistoryDays:     c.Workers.HistoryDays,
		HorizonDays:     c.Forecast.HorizonDays,
		NewsHalfLife:    common.ParseDuration(c.Workers.NewsHalfLife, 48*time.Hour),
		MaxNewsItems:    c.Workers.MaxNewsItems,
		NewsMinScore:    c.Workers.NewsMinScore,
		MinSignalLength: c.Workers.MinSignalLength,
	}
}

// Deps are the collaborators every worker needs
type Deps struct {
	Lifecycle    JobLifecycle
	Jobs         interfaces.JobStorage
	Profiles     interfaces.ProfileStorage
	Medallion    interfaces.MedallionStorage
	Aggregates   interfaces.AggregateStorage
	Collaborator interfaces.Collaborator
	Freshness    *freshness.Tracker
	Metrics      *metrics.Recorder
	Logger       arbor.ILogger
	Now          func() time.Time
	// LeaseTimeout is the queue visibility timeout. A redelivered message whose
	// job has been running longer than this belongs to a dead worker.
	LeaseTimeout time.Duration
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// DomainWorker runs one DomainPipeline per job: status transitions,
// collaborator calls, raw and clean persistence, summary, freshness.
type DomainWorker struct {
	pipeline interfaces.DomainPipeline
	deps     Deps
	config   Config
}

// Compile-time assertion
var _ interfaces.JobWorker = (*DomainWorker)(nil)

// NewDomainWorker creates the runner for a pipeline
func NewDomainWorker(pipeline interfaces.DomainPipeline, deps Deps, config Config) *DomainWorker {
	return &DomainWorker{pipeline: pipeline, deps: deps, config: config}
}

// GetWorkerType returns the domain handled by this worker
func (w *DomainWorker) GetWorkerType() models.Domain {
	return w.pipeline.Domain()
}

// Validate checks the message belongs on this worker's queue
func (w *DomainWorker) Validate(msg *models.QueueMessage) error {
	return validateMessage(msg, w.pipeline.Domain())
}

func validateMessage(msg *models.QueueMessage, domain models.Domain) error {
	if msg.Type != domain {
		return fmt.Errorf("%s worker received %s message", domain, msg.Type)
	}
	if msg.JobID == "" || msg.BundleID == "" || msg.ProfileID == "" {
		return fmt.Errorf("message missing identifiers")
	}
	return nil
}

// Execute runs the pipeline for one job
func (w *DomainWorker) Execute(ctx context.Context, msg *models.QueueMessage) error {
	domain := w.pipeline.Domain()
	logger := w.deps.Logger.WithCorrelationId(msg.JobID)

	job, err := beginJob(ctx, w.deps, msg)
	if err != nil {
		return err
	}

	if err := w.run(ctx, job); err != nil {
		if _, failErr := w.deps.Lifecycle.FailJob(context.WithoutCancel(ctx), job.ID, err); failErr != nil {
			logger.Error().Err(failErr).Str("job_id", job.ID).Msg("Failed to record job failure")
		}
		return err
	}

	if _, err := w.deps.Lifecycle.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, models.JobStatusCompleted, ""); err != nil {
		return err
	}

	logger.Debug().
		Str("job_id", job.ID).
		Str("domain", string(domain)).
		Str("profile_id", job.ProfileID).
		Msg("Domain job completed")
	return nil
}

func (w *DomainWorker) run(ctx context.Context, job *models.Job) error {
	domain := w.pipeline.Domain()

	profile, err := loadProfile(ctx, w.deps, job.ProfileID)
	if err != nil {
		return err
	}

	response, err := callCollaborator(ctx, w.deps, interfaces.ExecuteRequest{
		Task:        signals.TaskFor(domain),
		Prompt:      w.pipeline.Prompt(profile),
		Temperature: w.config.Temperature,
		MaxTokens:   w.config.MaxTokens,
	})
	if err != nil {
		return err
	}

	raw := &models.RawRecord{
		ID:        common.NewRecordID(),
		ProfileID: profile.ID,
		JobID:     job.ID,
		Domain:    domain,
		Source:    sourceOf(response),
		Payload:   response.Response,
		FetchedAt: w.deps.now(),
	}
	if err := w.deps.Medallion.AppendRaw(ctx, raw); err != nil {
		return err
	}

	clean, err := w.pipeline.Normalize(ctx, profile, raw)
	if err != nil {
		return err
	}
	if len(clean) > 0 {
		if err := w.deps.Medallion.AppendSignals(ctx, clean); err != nil {
			return err
		}
	}

	now := w.deps.now()
	aggregate, err := w.pipeline.Aggregate(ctx, profile, job, clean, now)
	if err != nil {
		return err
	}

	summarize(ctx, w.deps, w.config, profile, domain, signals.TaskDomainSummary, aggregate)

	if err := checkBundle(ctx, w.deps, job.BundleID); err != nil {
		return err
	}

	if err := w.pipeline.Save(ctx, aggregate); err != nil {
		return err
	}

	return w.deps.Freshness.Touch(ctx, profile.ID, domain, now)
}

// beginJob drops messages of cancelled bundles and moves the job to running
func beginJob(ctx context.Context, deps Deps, msg *models.QueueMessage) (*models.Job, error) {
	bundle, err := deps.Jobs.GetBundle(ctx, msg.BundleID)
	if err != nil {
		return nil, err
	}
	if bundle.Status == models.BundleStatusCancelled {
		return nil, fmt.Errorf("bundle %s: %w: %w", bundle.ID, errDropped, models.ErrBundleCancelled)
	}

	job, err := deps.Jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusRunning {
		return nil, reclaimJob(ctx, deps, job)
	}

	return deps.Lifecycle.UpdateJobStatus(ctx, msg.JobID, models.JobStatusRunning, "")
}

// reclaimJob handles a redelivered message whose job is still marked running.
// Within the lease another worker may still own it, so the copy is dropped.
// Past the lease the attempt is recorded as failed and the returned error
// sends the job through the retry policy.
func reclaimJob(ctx context.Context, deps Deps, job *models.Job) error {
	if job.StartedAt != nil && time.Since(*job.StartedAt) < deps.LeaseTimeout {
		return fmt.Errorf("job %s still running: %w", job.ID, errDropped)
	}

	cause := fmt.Errorf("job %s: %w", job.ID, errWorkerLost)
	if _, err := deps.Lifecycle.FailJob(context.WithoutCancel(ctx), job.ID, cause); err != nil {
		return err
	}

	deps.Logger.Warn().
		Str("job_id", job.ID).
		Str("bundle_id", job.BundleID).
		Str("type", string(job.Type)).
		Msg("Reclaimed job from lost worker")
	return cause
}

// checkBundle fails the job when its bundle was cancelled while it ran
func checkBundle(ctx context.Context, deps Deps, bundleID string) error {
	bundle, err := deps.Jobs.GetBundle(ctx, bundleID)
	if err != nil {
		return err
	}
	if bundle.Status == models.BundleStatusCancelled {
		return fmt.Errorf("bundle %s cancelled, results discarded: %w", bundle.ID, models.ErrBundleCancelled)
	}
	return nil
}

func loadProfile(ctx context.Context, deps Deps, profileID string) (*models.Profile, error) {
	profile, err := deps.Profiles.GetProfile(ctx, profileID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("profile %s: %w", profileID, models.ErrProfileNotFound)
		}
		return nil, err
	}
	return profile, nil
}

// callCollaborator executes one task; every error wraps ErrCollaboratorFailure
func callCollaborator(ctx context.Context, deps Deps, req interfaces.ExecuteRequest) (*interfaces.ExecuteResponse, error) {
	start := time.Now()
	response, err := deps.Collaborator.Execute(ctx, req)
	deps.Metrics.CollaboratorCall(req.Task, time.Since(start), err)

	if err != nil {
		if errors.Is(err, models.ErrCollaboratorFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w: %w", req.Task, models.ErrCollaboratorFailure, err)
	}
	if response == nil {
		return nil, fmt.Errorf("%s: empty response: %w", req.Task, models.ErrCollaboratorFailure)
	}
	return response, nil
}

// summarize sets a narrative summary on the aggregate. The collaborator is
// asked first when enabled; any failure falls back to the template.
func summarize(ctx context.Context, deps Deps, config Config, profile *models.Profile, domain models.Domain, task string, aggregate interfaces.DomainAggregate) {
	facts := aggregate.Facts()

	if config.Summarize {
		response, err := callCollaborator(ctx, deps, interfaces.ExecuteRequest{
			Task:        task,
			Prompt:      signals.BuildSummaryPrompt(profile, domain, facts),
			Temperature: config.Temperature,
			MaxTokens:   config.MaxTokens,
		})
		if err == nil && response.Response != "" {
			aggregate.SetSummary(signals.CleanText(response.Response))
			return
		}
		if err != nil {
			deps.Logger.Warn().
				Err(err).
				Str("profile_id", profile.ID).
				Str("domain", string(domain)).
				Msg("Summary call failed, using template")
		}
	}

	aggregate.SetSummary(signals.TemplateSummary(profile, domain, facts))
}

func sourceOf(response *interfaces.ExecuteResponse) string {
	if response.Model != "" {
		return response.Model
	}
	return "collaborator"
}
