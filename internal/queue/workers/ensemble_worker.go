// -----------------------------------------------------------------------
// Ensemble Worker - fan-in of the domain aggregates into one verdict
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/jobs"
	"github.com/ternarybob/foresight/internal/models"
	"github.com/ternarybob/foresight/internal/signals"
)

// EnsembleOptions holds the combine and deviation settings
type EnsembleOptions struct {
	Combine   signals.CombineOptions
	Deviation signals.DeviationOptions
	Summarize bool
}

// EnsembleOptionsFrom converts the [ensemble] config section
func EnsembleOptionsFrom(c common.EnsembleConfig) EnsembleOptions {
	return EnsembleOptions{
		Combine: signals.CombineOptions{
			Weights: map[models.Domain]float64{
				models.DomainPrice:  c.PriceWeight,
				models.DomainMarket: c.MarketWeight,
				models.DomainNews:   c.NewsWeight,
			},
			TrendThreshold: c.TrendThreshold,
			MaxAdjustment:  c.MaxAdjustment,
		},
		Deviation: signals.DeviationOptions{
			AgreementThreshold: c.AgreementThreshold,
			ValueTolerance:     c.ValueTolerance,
			ConfidenceCollapse: c.ConfidenceCollapse,
		},
		Summarize: c.Summarize,
	}
}

// EnsembleWorker combines the latest fresh domain aggregates of a profile,
// flags deviations and raises alerts.
type EnsembleWorker struct {
	deps     Deps
	alerts   interfaces.AlertStorage
	notifier interfaces.AlertNotifier
	config   Config
	options  EnsembleOptions
}

var _ interfaces.JobWorker = (*EnsembleWorker)(nil)

// NewEnsembleWorker creates the ensemble worker. notifier may be nil.
func NewEnsembleWorker(deps Deps, alerts interfaces.AlertStorage, notifier interfaces.AlertNotifier, config Config, options EnsembleOptions) *EnsembleWorker {
	return &EnsembleWorker{
		deps:     deps,
		alerts:   alerts,
		notifier: notifier,
		config:   config,
		options:  options,
	}
}

func (w *EnsembleWorker) GetWorkerType() models.Domain {
	return models.DomainEnsemble
}

func (w *EnsembleWorker) Validate(msg *models.QueueMessage) error {
	return validateMessage(msg, models.DomainEnsemble)
}

// Execute runs the fan-in for one bundle
func (w *EnsembleWorker) Execute(ctx context.Context, msg *models.QueueMessage) error {
	logger := w.deps.Logger.WithCorrelationId(msg.JobID)

	job, err := beginJob(ctx, w.deps, msg)
	if err != nil {
		return err
	}

	row, devs, err := w.run(ctx, job)
	if err != nil {
		if _, failErr := w.deps.Lifecycle.FailJob(context.WithoutCancel(ctx), job.ID, err); failErr != nil {
			logger.Error().Err(failErr).Str("job_id", job.ID).Msg("Failed to record job failure")
		}
		return err
	}

	if _, err := w.deps.Lifecycle.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, models.JobStatusCompleted, ""); err != nil {
		return err
	}

	logger.Info().
		Str("job_id", job.ID).
		Str("bundle_id", job.BundleID).
		Str("profile_id", job.ProfileID).
		Str("trend", string(row.Trend)).
		Str("agreement_pct", fmt.Sprintf("%.1f", row.AgreementPct)).
		Int("deviations", len(devs)).
		Msg("Ensemble completed")
	return nil
}

func (w *EnsembleWorker) run(ctx context.Context, job *models.Job) (*models.EnsembleAggregate, []signals.Deviation, error) {
	profile, err := loadProfile(ctx, w.deps, job.ProfileID)
	if err != nil {
		return nil, nil, err
	}

	now := w.deps.now()
	inputs, err := w.collectInputs(ctx, profile.ID, job, now)
	if err != nil {
		return nil, nil, err
	}

	result, err := signals.Combine(inputs, w.options.Combine)
	if err != nil {
		return nil, nil, err
	}

	prior, err := w.deps.Aggregates.LatestEnsemble(ctx, profile.ID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, nil, err
		}
		prior = nil
	}
	devs := signals.DetectDeviations(result, prior, w.options.Deviation)

	row := &models.EnsembleAggregate{
		ProfileID:        profile.ID,
		BundleID:         job.BundleID,
		JobID:            job.ID,
		ReportDate:       models.ReportDate(now),
		ForecastValue:    result.ForecastValue,
		PriceOnlyValue:   result.PriceOnlyValue,
		Trend:            result.Trend,
		Confidence:       result.Confidence,
		AgreementPct:     result.AgreementPct,
		KeyDrivers:       result.KeyDrivers,
		DeviationAlert:   len(devs) > 0,
		DeviationType:    signals.PrimaryDeviation(devs),
		Deviations:       signals.DeviationTypes(devs),
		Weights:          result.Weights,
		DomainConfidence: result.DomainConfidence,
		Domains:          result.Domains,
		ComputedAt:       now,
	}

	summaryConfig := w.config
	summaryConfig.Summarize = w.options.Summarize
	summarize(ctx, w.deps, summaryConfig, profile, models.DomainEnsemble, signals.TaskEnsembleSummary, row)

	if err := checkBundle(ctx, w.deps, job.BundleID); err != nil {
		return nil, nil, err
	}

	if err := w.deps.Aggregates.UpsertEnsemble(ctx, row); err != nil {
		return nil, nil, err
	}
	if err := w.deps.Aggregates.RefreshDashboardView(ctx, profile.ID); err != nil {
		return nil, nil, err
	}
	if err := w.deps.Freshness.Touch(ctx, profile.ID, models.DomainEnsemble, now); err != nil {
		return nil, nil, err
	}
	w.deps.Metrics.EnsembleAgreement(profile.ID, row.AgreementPct)

	if err := w.raiseAlerts(ctx, job, devs); err != nil {
		return nil, nil, err
	}

	return row, devs, nil
}

// collectInputs loads the latest aggregate of every domain the bundle
// completed, skipping domains outside their freshness SLA
func (w *EnsembleWorker) collectInputs(ctx context.Context, profileID string, job *models.Job, now time.Time) ([]signals.DomainInput, error) {
	allowed := job.MetadataStrings(jobs.MetaDomains)
	if len(allowed) == 0 {
		for _, d := range models.DomainTypes {
			allowed = append(allowed, string(d))
		}
	}

	var inputs []signals.DomainInput
	for _, name := range allowed {
		domain := models.Domain(name)
		if !w.deps.Freshness.IsFresh(ctx, profileID, domain, now) {
			w.deps.Logger.Warn().
				Str("profile_id", profileID).
				Str("domain", name).
				Msg("Domain aggregate is stale, excluded from ensemble")
			continue
		}

		input, err := w.latestInput(ctx, profileID, domain)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func (w *EnsembleWorker) latestInput(ctx context.Context, profileID string, domain models.Domain) (signals.DomainInput, error) {
	switch domain {
	case models.DomainPrice:
		row, err := w.deps.Aggregates.LatestPriceForecast(ctx, profileID)
		if err != nil {
			return signals.DomainInput{}, err
		}
		return signals.FromPriceForecast(row), nil
	case models.DomainMarket:
		row, err := w.deps.Aggregates.LatestMarketSummary(ctx, profileID)
		if err != nil {
			return signals.DomainInput{}, err
		}
		return signals.FromMarketSummary(row), nil
	case models.DomainNews:
		row, err := w.deps.Aggregates.LatestNewsRanking(ctx, profileID)
		if err != nil {
			return signals.DomainInput{}, err
		}
		return signals.FromNewsRanking(row), nil
	}
	return signals.DomainInput{}, fmt.Errorf("unknown domain %q: %w", domain, models.ErrNotFound)
}

// raiseAlerts persists one alert per deviation and hands it to the notifier.
// Notifier failures are logged only.
func (w *EnsembleWorker) raiseAlerts(ctx context.Context, job *models.Job, devs []signals.Deviation) error {
	for _, dev := range devs {
		details, err := json.Marshal(dev)
		if err != nil {
			return err
		}
		alert := &models.Alert{
			ID:        common.AlertIDFor(job.ID, string(dev.Type)),
			ProfileID: job.ProfileID,
			BundleID:  job.BundleID,
			JobID:     job.ID,
			Type:      dev.Type,
			Severity:  models.SeverityHigh,
			Message:   dev.Message,
			Details:   details,
			CreatedAt: w.deps.now(),
		}
		created, err := w.alerts.AppendAlert(ctx, alert)
		if err != nil {
			return err
		}
		if !created {
			// Written by an earlier attempt of this job
			continue
		}
		w.deps.Metrics.AlertRaised(alert.Type)

		w.deps.Logger.Warn().
			Str("alert_id", alert.ID).
			Str("profile_id", alert.ProfileID).
			Str("type", string(alert.Type)).
			Msg(alert.Message)

		if w.notifier == nil {
			continue
		}
		if err := w.notifier.Notify(ctx, alert); err != nil {
			w.deps.Metrics.NotifyFailed(alert.Type)
			w.deps.Logger.Warn().
				Err(err).
				Str("alert_id", alert.ID).
				Str("notifier", w.notifier.Name()).
				Msg("Alert notification failed")
		}
	}
	return nil
}
