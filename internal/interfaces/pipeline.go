package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/foresight/internal/models"
)

// DomainAggregate is a computed domain aggregate row awaiting persistence.
type DomainAggregate interface {
	// Facts lists the computed metrics as short sentences for narrative summaries.
	Facts() []string
	SetSummary(summary string)
}

// DomainPipeline is the domain-specific part of a domain job. The shared
// runner handles status transitions, collaborator calls, raw and clean
// persistence, freshness and cancellation; a pipeline only interprets.
type DomainPipeline interface {
	Domain() models.Domain

	// Prompt renders the collection prompt for the profile.
	Prompt(profile *models.Profile) string

	// Normalize turns a raw collaborator response into clean signals.
	Normalize(ctx context.Context, profile *models.Profile, raw *models.RawRecord) ([]*models.CleanSignal, error)

	// Aggregate derives the domain aggregate row from the job's clean signals.
	Aggregate(ctx context.Context, profile *models.Profile, job *models.Job, signals []*models.CleanSignal, now time.Time) (DomainAggregate, error)

	// Save upserts the aggregate row for (profile, domain, report date).
	Save(ctx context.Context, aggregate DomainAggregate) error
}
