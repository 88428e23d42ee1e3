// -----------------------------------------------------------------------
// Job bundles and jobs - orchestration state for one forecast run
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// Domain labels an analytical pipeline. Job types and freshness records use the same labels.
type Domain string

const (
	DomainPrice    Domain = "price"
	DomainMarket   Domain = "market"
	DomainNews     Domain = "news"
	DomainEnsemble Domain = "ensemble"
)

// DomainTypes are the fan-out domains created for every bundle.
var DomainTypes = []Domain{DomainPrice, DomainMarket, DomainNews}

// IsValid reports whether d is a known domain.
func (d Domain) IsValid() bool {
	switch d {
	case DomainPrice, DomainMarket, DomainNews, DomainEnsemble:
		return true
	}
	return false
}

// BundleStatus is the lifecycle state of a JobBundle.
type BundleStatus string

const (
	BundleStatusPending   BundleStatus = "pending"
	BundleStatusRunning   BundleStatus = "running"
	BundleStatusCompleted BundleStatus = "completed"
	BundleStatusFailed    BundleStatus = "failed"
	BundleStatusCancelled BundleStatus = "cancelled"
)

// IsTerminal reports whether the bundle can no longer change state.
func (s BundleStatus) IsTerminal() bool {
	return s == BundleStatusCompleted || s == BundleStatusFailed || s == BundleStatusCancelled
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// BundleTrigger records what created a bundle.
type BundleTrigger string

const (
	TriggerManual    BundleTrigger = "manual"
	TriggerScheduled BundleTrigger = "scheduled"
)

// JobBundle is one orchestration request for a profile.
type JobBundle struct {
	ID            string        `json:"id"`
	ProfileID     string        `json:"profile_id"`
	Status        BundleStatus  `json:"status"`
	Trigger       BundleTrigger `json:"trigger"`
	EnsembleJobID string        `json:"ensemble_job_id,omitempty"`
	Degraded      bool          `json:"degraded"`
	Error         string        `json:"error,omitempty"`
	RequestedAt   time.Time     `json:"requested_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
}

// Job is a unit of work within a bundle. Jobs are never deleted.
type Job struct {
	ID         string                 `json:"id"`
	BundleID   string                 `json:"bundle_id"`
	ProfileID  string                 `json:"profile_id"`
	Type       Domain                 `json:"type"`
	Status     JobStatus              `json:"status"`
	Priority   int                    `json:"priority"`
	RetryCount int                    `json:"retry_count"`
	MaxRetries int                    `json:"max_retries"`
	Error      *string                `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	EndedAt    *time.Time             `json:"ended_at,omitempty"`
}

// RetriesExhausted reports whether a failed job has used all of its attempts.
func (j *Job) RetriesExhausted() bool {
	return j.RetryCount >= j.MaxRetries
}

// IsTerminal reports whether the job will not run again.
// A failed job with retries left is not terminal unless its bundle is cancelled.
func (j *Job) IsTerminal(bundle *JobBundle) bool {
	switch j.Status {
	case JobStatusCompleted:
		return true
	case JobStatusFailed:
		if bundle != nil && bundle.Status == BundleStatusCancelled {
			return true
		}
		return j.RetriesExhausted()
	}
	return false
}

// MetadataStrings reads a string list from job metadata, tolerating JSON-decoded []interface{}.
func (j *Job) MetadataStrings(key string) []string {
	raw, ok := j.Metadata[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// validTransitions maps from-state to allowed to-states for status updates.
// failed -> pending is not listed: it is only reachable through the retry path.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusRunning: true,
	},
	JobStatusRunning: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	JobStatusCompleted: {},
	JobStatusFailed:    {},
}

// ValidateJobTransition checks a status update against the job state machine.
func ValidateJobTransition(from, to JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown source state %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ValidateRetryTransition checks that a job may return to pending for another attempt.
func ValidateRetryTransition(job *Job) error {
	if job.Status != JobStatusFailed {
		return fmt.Errorf("%w: retry requires failed job, got %s", ErrInvalidTransition, job.Status)
	}
	if job.RetriesExhausted() {
		return fmt.Errorf("%w: retries exhausted (%d/%d)", ErrInvalidTransition, job.RetryCount, job.MaxRetries)
	}
	return nil
}
