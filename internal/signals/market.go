package signals

import (
	"fmt"
	"math"
	"sort"

	"github.com/ternarybob/foresight/internal/models"
)

// Market sentiment classification thresholds
const (
	BullishThreshold = 0.2
	BearishThreshold = -0.2
	MaxMarketDrivers = 5
)

// MarketResult is the computed part of a market summary
type MarketResult struct {
	Sentiment   models.Sentiment
	Score       float64
	Confidence  float64
	SignalCount int
	Drivers     []models.Driver
}

// SummarizeMarket scores market signals: score = mean(confidence * sign),
// classified bullish above 0.2 and bearish below -0.2. Drivers are the
// strongest signals by |confidence * sign|.
func SummarizeMarket(signals []*models.CleanSignal) (*MarketResult, error) {
	if len(signals) == 0 {
		return nil, fmt.Errorf("no market signals in reply: %w", models.ErrCollaboratorFailure)
	}

	var sum float64
	confidences := make([]float64, 0, len(signals))
	drivers := make([]models.Driver, 0, len(signals))
	for _, s := range signals {
		conf := clamp01(s.Confidence)
		impact := conf * s.Sentiment.Sign()
		sum += impact
		confidences = append(confidences, conf)
		drivers = append(drivers, models.Driver{
			Description: s.Description,
			Sentiment:   s.Sentiment,
			Confidence:  conf,
			Impact:      round(impact, 4),
		})
	}

	score := clamp(sum/float64(len(signals)), -1, 1)

	sort.SliceStable(drivers, func(i, j int) bool {
		return math.Abs(drivers[i].Impact) > math.Abs(drivers[j].Impact)
	})
	if len(drivers) > MaxMarketDrivers {
		drivers = drivers[:MaxMarketDrivers]
	}

	return &MarketResult{
		Sentiment:   ClassifyScore(score),
		Score:       round(score, 4),
		Confidence:  round(clamp01(avg(confidences)), 4),
		SignalCount: len(signals),
		Drivers:     drivers,
	}, nil
}

// ClassifyScore maps a [-1, 1] score to a sentiment class
func ClassifyScore(score float64) models.Sentiment {
	switch {
	case score > BullishThreshold:
		return models.SentimentBullish
	case score < BearishThreshold:
		return models.SentimentBearish
	}
	return models.SentimentNeutral
}
