package queue

import (
	"time"

	"github.com/ternarybob/foresight/internal/common"
)

// Config holds configuration for the queue managers
type Config struct {
	// PollInterval is the shortest idle backoff of a job processor
	PollInterval time.Duration

	// VisibilityTimeout is the message visibility timeout for redelivery
	VisibilityTimeout time.Duration

	// MaxReceive is the maximum times a message can be received before it is dropped
	MaxReceive int
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		PollInterval:      100 * time.Millisecond,
		VisibilityTimeout: 15 * time.Minute,
		MaxReceive:        3,
	}
}

// ConfigFrom converts the TOML queue section
func ConfigFrom(c common.QueueConfig) Config {
	def := NewDefaultConfig()
	cfg := Config{
		PollInterval:      common.ParseDuration(c.PollInterval, def.PollInterval),
		VisibilityTimeout: common.ParseDuration(c.VisibilityTimeout, def.VisibilityTimeout),
		MaxReceive:        c.MaxReceive,
	}
	if cfg.MaxReceive <= 0 {
		cfg.MaxReceive = def.MaxReceive
	}
	return cfg
}
