package jobs

import (
	"time"

	"github.com/ternarybob/foresight/internal/common"
)

// Config holds the orchestrator's retry and fan-in policy
type Config struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	StrictMode      bool
	MinDomains      int
}

// ConfigFrom extracts the orchestrator policy from the application config
func ConfigFrom(c *common.Config) Config {
	cfg := Config{
		MaxRetries:      c.Jobs.MaxRetries,
		RetryBackoff:    common.ParseDuration(c.Jobs.RetryBackoff, 30*time.Second),
		RetryBackoffMax: common.ParseDuration(c.Jobs.RetryBackoffMax, 10*time.Minute),
		StrictMode:      c.Orchestrator.StrictMode,
		MinDomains:      c.Orchestrator.MinDomains,
	}
	if cfg.MinDomains <= 0 {
		cfg.MinDomains = 1
	}
	return cfg
}

// Backoff returns the delay before retry attempt n (1-based): base * 2^(n-1), capped.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 || c.RetryBackoff <= 0 {
		return 0
	}
	delay := c.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.RetryBackoffMax > 0 && delay >= c.RetryBackoffMax {
			return c.RetryBackoffMax
		}
	}
	if c.RetryBackoffMax > 0 && delay > c.RetryBackoffMax {
		return c.RetryBackoffMax
	}
	return delay
}
