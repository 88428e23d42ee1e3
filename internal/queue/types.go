package queue

import (
	"github.com/ternarybob/foresight/internal/models"
)

// ErrNoMessage is returned when no message is ready
var ErrNoMessage = models.ErrNoMessage

// Name returns the queue name for a job type
func Name(domain models.Domain) string {
	return "foresight_" + string(domain)
}
