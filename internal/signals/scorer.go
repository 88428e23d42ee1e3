package signals

import (
	"strings"

	"github.com/ternarybob/foresight/internal/models"
)

// Classification is the scorer's verdict on one piece of text
type Classification struct {
	Sentiment  models.Sentiment
	Confidence float64
	Category   string
	Strength   float64
}

// Scorer turns free text into a sentiment classification and rates sources.
// Pipelines depend only on this interface so the lexicon can be replaced by a
// trained classifier.
type Scorer interface {
	Classify(text string) Classification
	Trust(source string) float64
}

// Trust tiers
const (
	TrustTier1   = 0.9
	TrustTier2   = 0.7
	TrustUnknown = 0.5
)

// CategoryGeneral is assigned when no category keyword matches
const CategoryGeneral = "general"

var defaultBullish = []string{
	"surge", "surges", "surged", "rally", "rallies", "rallied", "rise", "rises", "rising", "rose",
	"gain", "gains", "higher", "jump", "jumps", "climb", "climbs", "soar", "soars", "boost",
	"shortage", "deficit", "tight supply", "strong demand", "record high", "bullish", "upside",
}

var defaultBearish = []string{
	"fall", "falls", "falling", "fell", "drop", "drops", "dropped", "decline", "declines", "slump",
	"plunge", "plunges", "tumble", "slide", "lower", "ease", "eases", "surplus", "glut",
	"oversupply", "weak demand", "bumper crop", "record crop", "bearish", "downside",
}

var defaultCategories = map[string][]string{
	"supply":    {"harvest", "crop", "production", "output", "supply", "inventory", "stocks", "yield"},
	"weather":   {"drought", "rain", "rainfall", "frost", "weather", "el nino", "la nina", "flood", "heatwave"},
	"demand":    {"demand", "consumption", "imports", "buying", "purchases"},
	"policy":    {"tariff", "export ban", "policy", "regulation", "government", "subsidy", "quota", "sanction"},
	"logistics": {"shipping", "freight", "port", "logistics", "container", "shipment"},
	"macro":     {"dollar", "inflation", "interest rate", "currency", "recession", "central bank"},
}

// categoryOrder fixes tie-breaking between categories
var categoryOrder = []string{"supply", "weather", "policy", "demand", "logistics", "macro"}

// CategoryWeight scales a news item's impact by how directly its category moves prices
var CategoryWeight = map[string]float64{
	"supply":        1.0,
	"weather":       0.9,
	"policy":        0.8,
	"demand":        0.8,
	"logistics":     0.7,
	"macro":         0.6,
	CategoryGeneral: 0.5,
}

var defaultTier1 = []string{
	"reuters", "bloomberg", "financial times", "ft.com", "wall street journal", "wsj",
	"associated press", "apnews", "usda", "fao.org", "ico.org",
}

var defaultTier2 = []string{
	"cnbc", "marketwatch", "barchart", "investing.com", "nasdaq", "s&p global", "spglobal",
	"nikkei", "economist", "agrimoney", "business recorder",
}

// LexiconScorer classifies text by counting bullish and bearish phrases
type LexiconScorer struct {
	bullish    []string
	bearish    []string
	categories map[string][]string
	tier1      []string
	tier2      []string
}

// NewLexiconScorer creates a scorer with the built-in commodity lexicon
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{
		bullish:    defaultBullish,
		bearish:    defaultBearish,
		categories: defaultCategories,
		tier1:      defaultTier1,
		tier2:      defaultTier2,
	}
}

// Classify scores text. Confidence grows with the net phrase count and is
// capped below certainty; text with no directional phrases is neutral.
func (s *LexiconScorer) Classify(text string) Classification {
	normalized := " " + NormalizeTitle(text) + " "

	bull := countPhrases(normalized, s.bullish)
	bear := countPhrases(normalized, s.bearish)
	total := bull + bear
	net := bull - bear

	c := Classification{
		Sentiment:  models.SentimentNeutral,
		Confidence: 0.2,
		Category:   s.category(normalized),
	}
	if total == 0 {
		return c
	}

	switch {
	case net > 0:
		c.Sentiment = models.SentimentBullish
	case net < 0:
		c.Sentiment = models.SentimentBearish
	}

	absNet := float64(net)
	if absNet < 0 {
		absNet = -absNet
	}
	c.Strength = round(absNet/float64(total), 4)
	if net == 0 {
		c.Confidence = 0.3
	} else {
		c.Confidence = round(clamp(0.4+0.15*absNet+0.05*float64(total), 0, 0.95), 4)
	}
	return c
}

// Trust returns the trust tier weight of a source name or URL
func (s *LexiconScorer) Trust(source string) float64 {
	source = strings.ToLower(source)
	if source == "" {
		return TrustUnknown
	}
	for _, name := range s.tier1 {
		if strings.Contains(source, name) {
			return TrustTier1
		}
	}
	for _, name := range s.tier2 {
		if strings.Contains(source, name) {
			return TrustTier2
		}
	}
	return TrustUnknown
}

func (s *LexiconScorer) category(normalized string) string {
	best, bestHits := CategoryGeneral, 0
	for _, name := range categoryOrder {
		if hits := countPhrases(normalized, s.categories[name]); hits > bestHits {
			best, bestHits = name, hits
		}
	}
	return best
}

// countPhrases counts whole-word phrase occurrences in space-padded normalized text
func countPhrases(normalized string, phrases []string) int {
	count := 0
	for _, phrase := range phrases {
		count += strings.Count(normalized, " "+phrase+" ")
	}
	return count
}
