package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
	"github.com/ternarybob/foresight/internal/signals"
)

// PriceWorker collects price observations, merges them with stored history
// and delegates the projection to a Forecaster.
type PriceWorker struct {
	medallion  interfaces.MedallionStorage
	aggregates interfaces.AggregateStorage
	forecaster interfaces.Forecaster
	config     Config
}

var _ interfaces.DomainPipeline = (*PriceWorker)(nil)

// NewPriceWorker creates the price pipeline
func NewPriceWorker(medallion interfaces.MedallionStorage, aggregates interfaces.AggregateStorage, forecaster interfaces.Forecaster, config Config) *PriceWorker {
	return &PriceWorker{medallion: medallion, aggregates: aggregates, forecaster: forecaster, config: config}
}

func (w *PriceWorker) Domain() models.Domain { return models.DomainPrice }

func (w *PriceWorker) Prompt(profile *models.Profile) string {
	return signals.BuildPrompt(profile, models.DomainPrice, w.historyDays())
}

// Normalize turns each observation into a clean signal carrying Value and ObservedAt
func (w *PriceWorker) Normalize(ctx context.Context, profile *models.Profile, raw *models.RawRecord) ([]*models.CleanSignal, error) {
	points := signals.ParsePriceObservations(raw.Payload)
	out := make([]*models.CleanSignal, 0, len(points))
	for _, p := range points {
		observed := p.Date
		out = append(out, &models.CleanSignal{
			ID:          common.NewRecordID(),
			ProfileID:   profile.ID,
			JobID:       raw.JobID,
			RawRecordID: raw.ID,
			Domain:      models.DomainPrice,
			Sentiment:   models.SentimentNeutral,
			Confidence:  1,
			Description: fmt.Sprintf("%s close %s", profile.Subject(), models.ReportDate(p.Date)),
			Source:      raw.Source,
			ObservedAt:  &observed,
			Value:       p.Price,
			CreatedAt:   raw.FetchedAt,
		})
	}
	return out, nil
}

// Aggregate forecasts from stored history merged with this job's observations
func (w *PriceWorker) Aggregate(ctx context.Context, profile *models.Profile, job *models.Job, clean []*models.CleanSignal, now time.Time) (interfaces.DomainAggregate, error) {
	since := now.AddDate(0, 0, -w.historyDays())
	stored, err := w.medallion.ListSignals(ctx, profile.ID, models.DomainPrice, since)
	if err != nil {
		return nil, err
	}

	history := signals.HistoryWindow(
		signals.MergeHistory(pricePoints(stored, job.ID), pricePoints(clean, "")),
		now, w.historyDays(),
	)
	if len(history) == 0 {
		return nil, fmt.Errorf("no price observations for %s: %w", profile.ID, models.ErrCollaboratorFailure)
	}

	horizon := profile.HorizonDays
	if horizon <= 0 {
		horizon = w.config.HorizonDays
	}

	result, err := w.forecaster.Forecast(ctx, interfaces.ForecastRequest{
		ProfileID:   profile.ID,
		Subject:     profile.Subject(),
		History:     history,
		HorizonDays: horizon,
		Start:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("%s forecast: %w", w.forecaster.Name(), err)
	}

	row := &models.PriceForecast{
		ProfileID:  profile.ID,
		JobID:      job.ID,
		ReportDate: models.ReportDate(now),
		BasePrice:  result.BasePrice,
		Points:     result.Points,
		Confidence: result.Confidence,
		Model:      result.Model,
		Accuracy:   result.Accuracy,
		ComputedAt: now,
	}
	row.Trend, row.TrendPct = signals.TrendFromForecast(row.BasePrice, row.FinalValue())
	return row, nil
}

func (w *PriceWorker) Save(ctx context.Context, aggregate interfaces.DomainAggregate) error {
	row, ok := aggregate.(*models.PriceForecast)
	if !ok {
		return fmt.Errorf("price worker cannot save %T", aggregate)
	}
	return w.aggregates.UpsertPriceForecast(ctx, row)
}

func (w *PriceWorker) historyDays() int {
	if w.config.HistoryDays > 0 {
		return w.config.HistoryDays
	}
	return 365
}

// pricePoints extracts observations from clean signals, skipping those of excludeJob
func pricePoints(clean []*models.CleanSignal, excludeJob string) []models.PricePoint {
	out := make([]models.PricePoint, 0, len(clean))
	for _, s := range clean {
		if s.ObservedAt == nil || s.Value <= 0 {
			continue
		}
		if excludeJob != "" && s.JobID == excludeJob {
			continue
		}
		out = append(out, models.PricePoint{Date: *s.ObservedAt, Price: s.Value})
	}
	return out
}
