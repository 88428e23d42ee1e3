// Package alerts delivers ensemble deviation alerts to external channels.
package alerts

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// Fanout delivers each alert to every configured notifier. Delivery is best
// effort: failures are logged and joined, never retried.
type Fanout struct {
	notifiers []interfaces.AlertNotifier
	logger    arbor.ILogger
}

// NewFanout creates a fan-out over notifiers
func NewFanout(logger arbor.ILogger, notifiers ...interfaces.AlertNotifier) *Fanout {
	return &Fanout{notifiers: notifiers, logger: logger}
}

// NewFromConfig builds the notifiers enabled in config. A channel that fails
// to initialise is logged and skipped.
func NewFromConfig(cfg common.AlertsConfig, logger arbor.ILogger) *Fanout {
	var notifiers []interfaces.AlertNotifier

	if cfg.Kafka.Enabled {
		if n, err := NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger); err != nil {
			logger.Warn().Err(err).Msg("Kafka alert publisher disabled")
		} else {
			notifiers = append(notifiers, n)
		}
	}

	if cfg.Telegram.Enabled {
		if n, err := NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger); err != nil {
			logger.Warn().Err(err).Msg("Telegram alert notifier disabled")
		} else {
			notifiers = append(notifiers, n)
		}
	}

	return NewFanout(logger, notifiers...)
}

// Name identifies the notifier in logs
func (f *Fanout) Name() string {
	return "fanout"
}

// Notify delivers the alert to every notifier
func (f *Fanout) Notify(ctx context.Context, alert *models.Alert) error {
	var errs []error
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			f.logger.Warn().
				Err(err).
				Str("notifier", n.Name()).
				Str("alert_id", alert.ID).
				Msg("Alert delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of configured notifiers
func (f *Fanout) Len() int {
	return len(f.notifiers)
}

// Close closes notifiers that hold connections
func (f *Fanout) Close() error {
	var errs []error
	for _, n := range f.notifiers {
		if c, ok := n.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
