package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// Router owns one queue per job type and dispatches jobs to them
type Router struct {
	queues map[models.Domain]interfaces.QueueManager
	logger arbor.ILogger
}

// NewRouter creates one Badger queue for every domain plus the ensemble
func NewRouter(db *badger.DB, config Config, logger arbor.ILogger) (*Router, error) {
	r := &Router{
		queues: make(map[models.Domain]interfaces.QueueManager),
		logger: logger,
	}

	domains := append(append([]models.Domain{}, models.DomainTypes...), models.DomainEnsemble)
	for _, domain := range domains {
		mgr, err := NewBadgerManager(db, Name(domain), config.VisibilityTimeout, config.MaxReceive, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s queue: %w", domain, err)
		}
		r.queues[domain] = mgr
	}

	return r, nil
}

// Queue returns the queue serving a job type
func (r *Router) Queue(domain models.Domain) (interfaces.QueueManager, bool) {
	q, ok := r.queues[domain]
	return q, ok
}

// Dispatch enqueues a message for the job on its type's queue
func (r *Router) Dispatch(ctx context.Context, job *models.Job, delay time.Duration) error {
	q, ok := r.queues[job.Type]
	if !ok {
		return fmt.Errorf("no queue for job type %q", job.Type)
	}

	if err := q.EnqueueWithDelay(ctx, models.NewQueueMessage(job), delay); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	r.logger.Debug().
		Str("job_id", job.ID).
		Str("queue", q.Name()).
		Str("delay", delay.String()).
		Msg("Job dispatched")
	return nil
}

// Depths reports the current length of every queue
func (r *Router) Depths(ctx context.Context) map[models.Domain]int {
	depths := make(map[models.Domain]int, len(r.queues))
	for domain, q := range r.queues {
		n, err := q.Len(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Str("queue", q.Name()).Msg("Failed to read queue depth")
			continue
		}
		depths[domain] = n
	}
	return depths
}

// Close closes every queue
func (r *Router) Close() error {
	for _, q := range r.queues {
		q.Close()
	}
	return nil
}
