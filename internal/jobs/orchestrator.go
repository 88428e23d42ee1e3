package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// Metadata keys written on ensemble jobs
const (
	MetaDomains  = "domains"
	MetaDegraded = "degraded"
	MetaTrigger  = "trigger"
)

// BundleStatus is the status-poll view of a bundle and all of its jobs
type BundleStatus struct {
	Bundle *models.JobBundle `json:"bundle"`
	Jobs   []*models.Job     `json:"jobs"`
}

// Orchestrator owns the bundle and job lifecycle. It is the only writer of
// Job.Status: workers report transitions through it and every change runs
// inside a storage read-modify-write transaction.
type Orchestrator struct {
	jobs       interfaces.JobStorage
	profiles   interfaces.ProfileStorage
	dispatcher interfaces.JobDispatcher
	config     Config
	logger     arbor.ILogger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	jobStorage interfaces.JobStorage,
	profileStorage interfaces.ProfileStorage,
	dispatcher interfaces.JobDispatcher,
	config Config,
	logger arbor.ILogger,
) *Orchestrator {
	if config.MinDomains <= 0 {
		config.MinDomains = 1
	}
	return &Orchestrator{
		jobs:       jobStorage,
		profiles:   profileStorage,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
	}
}

// CreateBundle persists a pending bundle with one pending job per domain and
// enqueues each job on its domain queue.
func (o *Orchestrator) CreateBundle(ctx context.Context, profileID string, trigger models.BundleTrigger) (*models.JobBundle, error) {
	profile, err := o.profiles.GetProfile(ctx, profileID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("profile %s: %w", profileID, models.ErrProfileNotFound)
		}
		return nil, err
	}
	if !profile.Active {
		return nil, fmt.Errorf("profile %s is inactive: %w", profileID, models.ErrProfileNotFound)
	}
	if trigger == "" {
		trigger = models.TriggerManual
	}

	now := time.Now().UTC()
	bundle := &models.JobBundle{
		ID:          common.NewBundleID(),
		ProfileID:   profile.ID,
		Status:      models.BundleStatusPending,
		Trigger:     trigger,
		RequestedAt: now,
	}

	jobs := make([]*models.Job, 0, len(models.DomainTypes))
	for i, domain := range models.DomainTypes {
		jobs = append(jobs, &models.Job{
			ID:         common.NewJobID(),
			BundleID:   bundle.ID,
			ProfileID:  profile.ID,
			Type:       domain,
			Status:     models.JobStatusPending,
			MaxRetries: o.config.MaxRetries,
			Metadata:   map[string]interface{}{MetaTrigger: string(trigger)},
			// Distinct creation times keep job listings in domain order
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		})
	}

	if err := o.jobs.CreateBundle(ctx, bundle, jobs); err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if err := o.dispatcher.Dispatch(ctx, job, 0); err != nil {
			o.logger.Error().Err(err).Str("bundle_id", bundle.ID).Str("job_id", job.ID).Msg("Failed to enqueue job, cancelling bundle")
			if _, cancelErr := o.CancelBundle(ctx, bundle.ID); cancelErr != nil {
				o.logger.Warn().Err(cancelErr).Str("bundle_id", bundle.ID).Msg("Failed to cancel bundle after enqueue failure")
			}
			return nil, fmt.Errorf("enqueue %s job: %w", job.Type, err)
		}
	}

	o.logger.Info().
		Str("bundle_id", bundle.ID).
		Str("profile_id", profile.ID).
		Str("trigger", string(trigger)).
		Int("jobs", len(jobs)).
		Msg("Job bundle created")

	return bundle, nil
}

// UpdateJobStatus applies a status transition to a job.
// Allowed: pending->running, running->completed, running->failed.
func (o *Orchestrator) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) (*models.Job, error) {
	return o.updateStatus(ctx, jobID, status, errMsg, nil)
}

// FailJob marks a running job failed. Errors that cannot succeed on another
// attempt exhaust the job's retries so it becomes terminal immediately.
func (o *Orchestrator) FailJob(ctx context.Context, jobID string, cause error) (*models.Job, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return o.updateStatus(ctx, jobID, models.JobStatusFailed, msg, cause)
}

// IsPermanent reports whether a job error should not be retried. Missing data
// is final only for the ensemble job; a domain job may get usable data from
// the collaborator on its next attempt.
func IsPermanent(jobType models.Domain, err error) bool {
	if errors.Is(err, models.ErrInsufficientData) {
		return jobType == models.DomainEnsemble
	}
	return errors.Is(err, models.ErrProfileNotFound) ||
		errors.Is(err, models.ErrBundleCancelled) ||
		errors.Is(err, models.ErrInvalidTransition)
}

func (o *Orchestrator) updateStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string, cause error) (*models.Job, error) {
	job, bundle, err := o.jobs.UpdateJob(ctx, jobID, func(job *models.Job, bundle *models.JobBundle) error {
		if status == models.JobStatusRunning && bundle.Status == models.BundleStatusCancelled {
			return fmt.Errorf("bundle %s: %w", bundle.ID, models.ErrBundleCancelled)
		}
		if err := models.ValidateJobTransition(job.Status, status); err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}

		now := time.Now().UTC()
		job.Status = status

		switch status {
		case models.JobStatusRunning:
			job.StartedAt = &now
			job.EndedAt = nil
			if bundle.Status == models.BundleStatusPending {
				bundle.Status = models.BundleStatusRunning
				bundle.StartedAt = &now
			}
		case models.JobStatusCompleted:
			job.EndedAt = &now
			job.Error = nil
		case models.JobStatusFailed:
			job.EndedAt = &now
			job.RetryCount++
			if IsPermanent(job.Type, cause) && job.RetryCount < job.MaxRetries {
				job.RetryCount = job.MaxRetries
			}
			msg := errMsg
			job.Error = &msg
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Debug().
		Str("job_id", job.ID).
		Str("bundle_id", bundle.ID).
		Str("type", string(job.Type)).
		Str("status", string(job.Status)).
		Int("retry_count", job.RetryCount).
		Msg("Job status updated")

	return job, nil
}

// RetryJob returns a failed job with attempts left to pending and re-enqueues it
// after an exponential backoff. It reports whether the job was requeued.
func (o *Orchestrator) RetryJob(ctx context.Context, jobID string) (bool, error) {
	requeued := false

	job, _, err := o.jobs.UpdateJob(ctx, jobID, func(job *models.Job, bundle *models.JobBundle) error {
		requeued = false
		if bundle.Status == models.BundleStatusCancelled || bundle.Status.IsTerminal() {
			return nil
		}
		if err := models.ValidateRetryTransition(job); err != nil {
			return nil
		}
		job.Status = models.JobStatusPending
		job.StartedAt = nil
		job.EndedAt = nil
		requeued = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !requeued {
		return false, nil
	}

	delay := o.config.Backoff(job.RetryCount)
	if err := o.dispatcher.Dispatch(ctx, job, delay); err != nil {
		return false, err
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Int("attempt", job.RetryCount+1).
		Int("max_retries", job.MaxRetries).
		Str("delay", delay.String()).
		Msg("Job requeued for retry")

	return true, nil
}

// MaybeAdvanceBundle evaluates the fan-in barrier and the bundle's final state.
// Once every domain job is terminal it creates exactly one ensemble job (or fails
// the bundle); once the ensemble job is terminal it completes or fails the bundle.
func (o *Orchestrator) MaybeAdvanceBundle(ctx context.Context, bundleID string) (*models.JobBundle, error) {
	bundle, created, err := o.jobs.UpdateBundle(ctx, bundleID, func(bundle *models.JobBundle, jobs []*models.Job) ([]*models.Job, error) {
		if bundle.Status.IsTerminal() {
			return nil, nil
		}

		now := time.Now().UTC()

		if bundle.EnsembleJobID != "" {
			for _, job := range jobs {
				if job.ID != bundle.EnsembleJobID || !job.IsTerminal(bundle) {
					continue
				}
				if job.Status == models.JobStatusCompleted {
					bundle.Status = models.BundleStatusCompleted
				} else {
					bundle.Status = models.BundleStatusFailed
					bundle.Error = "ensemble failed"
					if job.Error != nil {
						bundle.Error = "ensemble failed: " + *job.Error
					}
				}
				bundle.EndedAt = &now
			}
			return nil, nil
		}

		var completed []string
		for _, job := range jobs {
			if job.Type == models.DomainEnsemble {
				continue
			}
			if !job.IsTerminal(bundle) {
				return nil, nil
			}
			if job.Status == models.JobStatusCompleted {
				completed = append(completed, string(job.Type))
			}
		}

		required := o.config.MinDomains
		if o.config.StrictMode {
			required = len(models.DomainTypes)
		}
		if len(completed) < required {
			bundle.Status = models.BundleStatusFailed
			bundle.Error = fmt.Sprintf("%s: %d of %d domains completed, %d required",
				models.ErrInsufficientData, len(completed), len(models.DomainTypes), required)
			bundle.EndedAt = &now
			return nil, nil
		}

		degraded := len(completed) < len(models.DomainTypes)
		ensemble := &models.Job{
			ID:         common.NewJobID(),
			BundleID:   bundle.ID,
			ProfileID:  bundle.ProfileID,
			Type:       models.DomainEnsemble,
			Status:     models.JobStatusPending,
			MaxRetries: o.config.MaxRetries,
			Metadata: map[string]interface{}{
				MetaDomains:  completed,
				MetaDegraded: degraded,
			},
			CreatedAt: now,
		}
		bundle.EnsembleJobID = ensemble.ID
		bundle.Degraded = degraded

		return []*models.Job{ensemble}, nil
	})
	if err != nil {
		return nil, err
	}

	for _, job := range created {
		if err := o.dispatcher.Dispatch(ctx, job, 0); err != nil {
			return bundle, fmt.Errorf("enqueue ensemble job: %w", err)
		}
		o.logger.Info().
			Str("bundle_id", bundle.ID).
			Str("job_id", job.ID).
			Strs("domains", job.MetadataStrings(MetaDomains)).
			Bool("degraded", bundle.Degraded).
			Msg("Fan-in complete, ensemble job created")
	}

	if bundle.Status.IsTerminal() && bundle.EndedAt != nil && len(created) == 0 {
		o.logger.Debug().
			Str("bundle_id", bundle.ID).
			Str("status", string(bundle.Status)).
			Str("error", bundle.Error).
			Msg("Bundle resolved")
	}

	return bundle, nil
}

// CancelBundle moves a non-terminal bundle to cancelled. In-flight jobs run to
// completion but their results are discarded and they are never retried.
func (o *Orchestrator) CancelBundle(ctx context.Context, bundleID string) (*models.JobBundle, error) {
	bundle, _, err := o.jobs.UpdateBundle(ctx, bundleID, func(bundle *models.JobBundle, jobs []*models.Job) ([]*models.Job, error) {
		if bundle.Status.IsTerminal() {
			return nil, fmt.Errorf("bundle %s is %s: %w", bundle.ID, bundle.Status, models.ErrInvalidTransition)
		}
		now := time.Now().UTC()
		bundle.Status = models.BundleStatusCancelled
		bundle.EndedAt = &now
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info().Str("bundle_id", bundle.ID).Msg("Bundle cancelled")
	return bundle, nil
}

// BundleStatus returns a bundle with all of its jobs
func (o *Orchestrator) BundleStatus(ctx context.Context, bundleID string) (*BundleStatus, error) {
	bundle, err := o.jobs.GetBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	jobs, err := o.jobs.ListBundleJobs(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	return &BundleStatus{Bundle: bundle, Jobs: jobs}, nil
}

// ListBundles returns the most recent bundles, optionally for one profile
func (o *Orchestrator) ListBundles(ctx context.Context, profileID string, limit int) ([]*models.JobBundle, error) {
	return o.jobs.ListBundles(ctx, profileID, limit)
}

// IsJobTerminal reports whether a job will not run again
func IsJobTerminal(job *models.Job, bundle *models.JobBundle) bool {
	return job.IsTerminal(bundle)
}
