package signals

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/foresight/internal/models"
)

func TestParseItems_JSON(t *testing.T) {
	response := "```json\n" + `[
		{"headline": "Frost hits <b>Brazil</b> coffee belt", "summary": "Damage &amp; losses", "link": "https://www.reuters.com/x", "date": "2026-03-01T08:00:00Z", "sentiment": "Bullish", "confidence": 0.8},
		{"title": ""}
	]` + "\n```"

	items := ParseItems(response)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "Frost hits Brazil coffee belt", item.Title)
	assert.Equal(t, "Damage & losses", item.Description)
	assert.Equal(t, "https://www.reuters.com/x", item.URL)
	assert.Equal(t, "bullish", item.Sentiment)
	require.NotNil(t, item.PublishedAt)
	assert.Equal(t, 2026, item.PublishedAt.Year())
}

func TestParseItems_Lines(t *testing.T) {
	items := ParseItems("# Signals\n- Dry weather cuts yields\n2. Port strike delays shipments\nshort")
	require.Len(t, items, 2)
	assert.Equal(t, "Dry weather cuts yields", items[0].Title)
	assert.Equal(t, "Port strike delays shipments", items[1].Title)
}

func TestToSignals(t *testing.T) {
	items := []Item{
		{Title: "Coffee prices surge on frost", URL: "https://www.bloomberg.com/a"},
		{Title: "Exports fall", Description: "shipments drop", Sentiment: "neutral", Confidence: 1.6},
		{Title: "tiny"},
	}
	base := models.CleanSignal{ProfileID: "p1", JobID: "j1", Domain: models.DomainNews}

	n := 0
	newID := func() string { n++; return fmt.Sprintf("id-%d", n) }

	signals := ToSignals(items, NewLexiconScorer(), base, 8, newID)
	require.Len(t, signals, 2)

	first := signals[0]
	assert.Equal(t, "id-1", first.ID)
	assert.Equal(t, "p1", first.ProfileID)
	assert.Equal(t, models.SentimentBullish, first.Sentiment)
	assert.Equal(t, "bloomberg.com", first.Source)
	assert.Equal(t, "weather", first.Category)

	second := signals[1]
	assert.Equal(t, models.SentimentNeutral, second.Sentiment)
	assert.Equal(t, 1.0, second.Confidence)
	assert.Equal(t, "Exports fall: shipments drop", second.Description)
}

func TestLexiconScorer(t *testing.T) {
	scorer := NewLexiconScorer()

	tests := []struct {
		text      string
		sentiment models.Sentiment
		category  string
	}{
		{"Drought lifts prices as shortage looms", models.SentimentBullish, "weather"},
		{"Bumper crop sends prices lower", models.SentimentBearish, "supply"},
		{"Government reviews tariff schedule", models.SentimentNeutral, "policy"},
		{"Prices rise then fall", models.SentimentNeutral, CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c := scorer.Classify(tt.text)
			assert.Equal(t, tt.sentiment, c.Sentiment)
			assert.Equal(t, tt.category, c.Category)
			assert.GreaterOrEqual(t, c.Confidence, 0.0)
			assert.LessOrEqual(t, c.Confidence, 1.0)
		})
	}

	assert.Equal(t, TrustTier1, scorer.Trust("https://www.reuters.com/markets"))
	assert.Equal(t, TrustTier2, scorer.Trust("MarketWatch"))
	assert.Equal(t, TrustUnknown, scorer.Trust("someblog.net"))
	assert.Equal(t, TrustUnknown, scorer.Trust(""))
}
