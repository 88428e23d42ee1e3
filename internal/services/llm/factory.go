package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
)

// NewCollaborator creates the configured provider wrapped in the rate limiter
func NewCollaborator(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (interfaces.Collaborator, error) {
	timeout := common.ParseDuration(cfg.LLM.Timeout, 2*time.Minute)

	var (
		next interfaces.Collaborator
		err  error
	)

	switch cfg.LLM.Provider {
	case "", "offline":
		next = NewOfflineCollaborator(cfg.LLM.FixturesDir, logger)
	case "claude":
		model := firstNonEmpty(cfg.LLM.Model, cfg.Claude.Model)
		next, err = NewClaudeCollaborator(cfg.Claude.APIKey, model, timeout, logger)
	case "gemini":
		model := firstNonEmpty(cfg.LLM.Model, cfg.Gemini.Model)
		next, err = NewGeminiCollaborator(ctx, cfg.Gemini.APIKey, model, timeout, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}

	retry := NewDefaultRetryConfig()
	retry.MaxRetries = cfg.LLM.MaxRetries

	logger.Info().
		Str("provider", providerName(cfg.LLM.Provider)).
		Str("timeout", timeout.String()).
		Msg("Collaborator initialized")

	return NewLimited(next, providerName(cfg.LLM.Provider), cfg.LLM.RatePerSecond, cfg.LLM.Burst, retry, logger), nil
}

func providerName(provider string) string {
	if provider == "" {
		return "offline"
	}
	return provider
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
