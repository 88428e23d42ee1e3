package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/foresight/internal/models"
)

func marketSignal(sentiment models.Sentiment, confidence float64, description string) *models.CleanSignal {
	return &models.CleanSignal{
		Domain:      models.DomainMarket,
		Sentiment:   sentiment,
		Confidence:  confidence,
		Description: description,
	}
}

func TestSummarizeMarket_MixedSignalsAreNeutral(t *testing.T) {
	result, err := SummarizeMarket([]*models.CleanSignal{
		marketSignal(models.SentimentBullish, 0.9, "frost damage in Minas Gerais"),
		marketSignal(models.SentimentBearish, 0.4, "Vietnam harvest ahead of schedule"),
		marketSignal(models.SentimentNeutral, 0.2, "certified stocks unchanged"),
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.1667, result.Score, 1e-4)
	assert.Equal(t, models.SentimentNeutral, result.Sentiment)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
	assert.Equal(t, 3, result.SignalCount)

	require.Len(t, result.Drivers, 3)
	assert.Equal(t, "frost damage in Minas Gerais", result.Drivers[0].Description)
	assert.InDelta(t, -0.4, result.Drivers[1].Impact, 1e-9)
}

func TestSummarizeMarket_DriversCapped(t *testing.T) {
	var signals []*models.CleanSignal
	for i := 0; i < 8; i++ {
		signals = append(signals, marketSignal(models.SentimentBullish, 0.1*float64(i+1), "signal"))
	}

	result, err := SummarizeMarket(signals)
	require.NoError(t, err)

	require.Len(t, result.Drivers, MaxMarketDrivers)
	assert.InDelta(t, 0.8, result.Drivers[0].Impact, 1e-9)
	assert.Equal(t, models.SentimentBullish, result.Sentiment)
}

func TestSummarizeMarket_ClampsConfidence(t *testing.T) {
	result, err := SummarizeMarket([]*models.CleanSignal{
		marketSignal(models.SentimentBearish, 3.5, "export ban lifted"),
	})
	require.NoError(t, err)

	assert.Equal(t, -1.0, result.Score)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, models.SentimentBearish, result.Sentiment)
}

func TestSummarizeMarket_Empty(t *testing.T) {
	_, err := SummarizeMarket(nil)
	assert.ErrorIs(t, err, models.ErrCollaboratorFailure)
}

func TestClassifyScore(t *testing.T) {
	tests := []struct {
		score float64
		want  models.Sentiment
	}{
		{0.21, models.SentimentBullish},
		{0.2, models.SentimentNeutral},
		{0, models.SentimentNeutral},
		{-0.2, models.SentimentNeutral},
		{-0.21, models.SentimentBearish},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyScore(tt.score), "score %v", tt.score)
	}
}
