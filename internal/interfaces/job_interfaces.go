package interfaces

import (
	"context"

	"github.com/ternarybob/foresight/internal/models"
)

// JobWorker defines the interface that all job workers must implement.
// The job processor uses this interface to execute jobs from one named queue.
type JobWorker interface {
	// Execute processes a single job. Returns error if execution fails.
	// The worker reports status transitions through the orchestrator.
	Execute(ctx context.Context, msg *models.QueueMessage) error

	// GetWorkerType returns the job type this worker handles.
	GetWorkerType() models.Domain

	// Validate validates that the message is compatible with this worker.
	Validate(msg *models.QueueMessage) error
}

// AlertNotifier delivers deviation alerts outside the store.
type AlertNotifier interface {
	Notify(ctx context.Context, alert *models.Alert) error
	Name() string
}
