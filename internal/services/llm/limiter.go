package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// Limited wraps a collaborator with a shared token bucket and rate limit
// retries. Every returned error wraps models.ErrCollaboratorFailure.
type Limited struct {
	next    interfaces.Collaborator
	name    string
	limiter *rate.Limiter
	retry   *RetryConfig
	logger  arbor.ILogger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewLimited wraps next. A non-positive rate disables limiting.
func NewLimited(next interfaces.Collaborator, name string, perSecond float64, burst int, retry *RetryConfig, logger arbor.ILogger) *Limited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	if retry == nil {
		retry = NewDefaultRetryConfig()
	}

	return &Limited{
		next:    next,
		name:    name,
		limiter: rate.NewLimiter(limit, burst),
		retry:   retry,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Execute waits for a token and calls the wrapped collaborator, retrying rate
// limit errors with backoff
func (l *Limited) Execute(ctx context.Context, req interfaces.ExecuteRequest) (*interfaces.ExecuteResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= l.retry.MaxRetries; attempt++ {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s rate limiter: %w: %w", l.name, models.ErrCollaboratorFailure, err)
		}

		start := time.Now()
		resp, err := l.next.Execute(ctx, req)
		if err == nil {
			l.logger.Debug().
				Str("provider", l.name).
				Str("task", req.Task).
				Int("response_length", len(resp.Response)).
				Str("duration", time.Since(start).String()).
				Msg("Collaborator call completed")
			return resp, nil
		}

		lastErr = err
		if !IsRateLimitError(err) || attempt == l.retry.MaxRetries || errors.Is(ctx.Err(), context.Canceled) {
			break
		}

		backoff := l.retry.CalculateBackoff(attempt, ExtractRetryDelay(err))
		l.logger.Warn().
			Err(err).
			Str("provider", l.name).
			Str("task", req.Task).
			Int("attempt", attempt+1).
			Str("backoff", backoff.String()).
			Msg("Collaborator rate limited, backing off")

		if err := l.sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
	}

	return nil, fmt.Errorf("%s %s: %w: %w", l.name, req.Task, models.ErrCollaboratorFailure, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
