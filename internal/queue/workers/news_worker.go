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

// NewsWorker deduplicates and ranks news articles.
type NewsWorker struct {
	aggregates interfaces.AggregateStorage
	scorer     signals.Scorer
	config     Config
}

var _ interfaces.DomainPipeline = (*NewsWorker)(nil)

// NewNewsWorker creates the news pipeline
func NewNewsWorker(aggregates interfaces.AggregateStorage, scorer signals.Scorer, config Config) *NewsWorker {
	return &NewsWorker{aggregates: aggregates, scorer: scorer, config: config}
}

func (w *NewsWorker) Domain() models.Domain { return models.DomainNews }

func (w *NewsWorker) Prompt(profile *models.Profile) string {
	return signals.BuildPrompt(profile, models.DomainNews, w.config.HistoryDays)
}

// Normalize strips markup from article text before classification
func (w *NewsWorker) Normalize(ctx context.Context, profile *models.Profile, raw *models.RawRecord) ([]*models.CleanSignal, error) {
	items := signals.ParseItems(raw.Payload)
	for i := range items {
		items[i].Title = signals.CleanText(items[i].Title)
		items[i].Description = signals.CleanText(items[i].Description)
	}
	base := models.CleanSignal{
		ProfileID:   profile.ID,
		JobID:       raw.JobID,
		RawRecordID: raw.ID,
		Domain:      models.DomainNews,
		CreatedAt:   raw.FetchedAt,
	}
	return signals.ToSignals(items, w.scorer, base, w.config.MinSignalLength, common.NewRecordID), nil
}

func (w *NewsWorker) Aggregate(ctx context.Context, profile *models.Profile, job *models.Job, clean []*models.CleanSignal, now time.Time) (interfaces.DomainAggregate, error) {
	result, err := signals.RankNews(clean, profile.KeywordSet(), w.scorer, now, signals.NewsOptions{
		HalfLife: w.config.NewsHalfLife,
		MaxItems: w.config.MaxNewsItems,
		MinScore: w.config.NewsMinScore,
	})
	if err != nil {
		return nil, err
	}
	return &models.NewsRanking{
		ProfileID:  profile.ID,
		JobID:      job.ID,
		ReportDate: models.ReportDate(now),
		Items:      result.Items,
		Sentiment:  result.Sentiment,
		Score:      result.Score,
		Confidence: result.Confidence,
		ComputedAt: now,
	}, nil
}

func (w *NewsWorker) Save(ctx context.Context, aggregate interfaces.DomainAggregate) error {
	row, ok := aggregate.(*models.NewsRanking)
	if !ok {
		return fmt.Errorf("news worker cannot save %T", aggregate)
	}
	return w.aggregates.UpsertNewsRanking(ctx, row)
}
