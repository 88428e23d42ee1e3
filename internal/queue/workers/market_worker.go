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

// MarketWorker classifies market signals and summarizes overall sentiment.
type MarketWorker struct {
	aggregates interfaces.AggregateStorage
	scorer     signals.Scorer
	config     Config
}

var _ interfaces.DomainPipeline = (*MarketWorker)(nil)

// NewMarketWorker creates the market pipeline
func NewMarketWorker(aggregates interfaces.AggregateStorage, scorer signals.Scorer, config Config) *MarketWorker {
	return &MarketWorker{aggregates: aggregates, scorer: scorer, config: config}
}

func (w *MarketWorker) Domain() models.Domain { return models.DomainMarket }

func (w *MarketWorker) Prompt(profile *models.Profile) string {
	return signals.BuildPrompt(profile, models.DomainMarket, w.config.HistoryDays)
}

func (w *MarketWorker) Normalize(ctx context.Context, profile *models.Profile, raw *models.RawRecord) ([]*models.CleanSignal, error) {
	items := signals.ParseItems(raw.Payload)
	base := models.CleanSignal{
		ProfileID:   profile.ID,
		JobID:       raw.JobID,
		RawRecordID: raw.ID,
		Domain:      models.DomainMarket,
		CreatedAt:   raw.FetchedAt,
	}
	return signals.ToSignals(items, w.scorer, base, w.config.MinSignalLength, common.NewRecordID), nil
}

func (w *MarketWorker) Aggregate(ctx context.Context, profile *models.Profile, job *models.Job, clean []*models.CleanSignal, now time.Time) (interfaces.DomainAggregate, error) {
	result, err := signals.SummarizeMarket(clean)
	if err != nil {
		return nil, err
	}
	return &models.MarketSummary{
		ProfileID:   profile.ID,
		JobID:       job.ID,
		ReportDate:  models.ReportDate(now),
		Sentiment:   result.Sentiment,
		Score:       result.Score,
		Confidence:  result.Confidence,
		SignalCount: result.SignalCount,
		TopDrivers:  result.Drivers,
		ComputedAt:  now,
	}, nil
}

func (w *MarketWorker) Save(ctx context.Context, aggregate interfaces.DomainAggregate) error {
	row, ok := aggregate.(*models.MarketSummary)
	if !ok {
		return fmt.Errorf("market worker cannot save %T", aggregate)
	}
	return w.aggregates.UpsertMarketSummary(ctx, row)
}
