package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/foresight/internal/models"
)

// QueueManager manages one named persistent message queue
type QueueManager interface {
	Enqueue(ctx context.Context, msg models.QueueMessage) error
	EnqueueWithDelay(ctx context.Context, msg models.QueueMessage, delay time.Duration) error
	// Receive claims the next visible message. The returned func deletes it.
	Receive(ctx context.Context) (*models.QueueMessage, func() error, error)
	Len(ctx context.Context) (int, error)
	Name() string
	Close() error
}

// JobDispatcher routes a job to the queue for its type.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job *models.Job, delay time.Duration) error
}
