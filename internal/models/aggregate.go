// -----------------------------------------------------------------------
// Aggregate layer - one row per (profile, domain, report date)
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// ReportDateLayout is the calendar-day key format for aggregate rows.
const ReportDateLayout = "2006-01-02"

// ReportDate returns the UTC report date key for t.
func ReportDate(t time.Time) string {
	return t.UTC().Format(ReportDateLayout)
}

// AggregateKey is the upsert key of a domain aggregate row.
func AggregateKey(profileID string, domain Domain, reportDate string) string {
	return fmt.Sprintf("%s:%s:%s", profileID, domain, reportDate)
}

// Trend is a directional label shared across domains.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Sign maps a trend to +1, -1 or 0.
func (t Trend) Sign() float64 {
	switch t {
	case TrendUp:
		return 1
	case TrendDown:
		return -1
	}
	return 0
}

// TrendFromSentiment maps a sentiment class onto a trend.
func TrendFromSentiment(s Sentiment) Trend {
	switch s {
	case SentimentBullish:
		return TrendUp
	case SentimentBearish:
		return TrendDown
	}
	return TrendStable
}

// PricePoint is one historical price observation.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// ForecastPoint is one dated forecast value with its confidence band.
type ForecastPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ForecastAccuracy holds backtest error metrics.
type ForecastAccuracy struct {
	MAPE float64 `json:"mape"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
}

// PriceForecast is the price domain aggregate row.
type PriceForecast struct {
	ProfileID  string            `json:"profile_id"`
	JobID      string            `json:"job_id"`
	ReportDate string            `json:"report_date"`
	BasePrice  float64           `json:"base_price"`
	Points     []ForecastPoint   `json:"points"`
	Trend      Trend             `json:"trend"`
	TrendPct   float64           `json:"trend_pct"`
	Confidence float64           `json:"confidence"`
	Model      string            `json:"model"`
	Accuracy   *ForecastAccuracy `json:"accuracy,omitempty"`
	Summary    string            `json:"summary"`
	ComputedAt time.Time         `json:"computed_at"`
}

// FinalValue returns the last forecast point value, or the base price when there are no points.
func (f *PriceForecast) FinalValue() float64 {
	if len(f.Points) == 0 {
		return f.BasePrice
	}
	return f.Points[len(f.Points)-1].Value
}

// Driver is one contributing signal in a market summary.
type Driver struct {
	Description string    `json:"description"`
	Sentiment   Sentiment `json:"sentiment"`
	Confidence  float64   `json:"confidence"`
	Impact      float64   `json:"impact"`
}

// MarketSummary is the market domain aggregate row.
type MarketSummary struct {
	ProfileID   string    `json:"profile_id"`
	JobID       string    `json:"job_id"`
	ReportDate  string    `json:"report_date"`
	Sentiment   Sentiment `json:"sentiment"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	SignalCount int       `json:"signal_count"`
	TopDrivers  []Driver  `json:"top_drivers"`
	Summary     string    `json:"summary"`
	ComputedAt  time.Time `json:"computed_at"`
}

// NewsItem is one ranked, deduplicated story.
type NewsItem struct {
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	Sources       []string  `json:"sources"`
	PublishedAt   time.Time `json:"published_at"`
	Category      string    `json:"category"`
	Sentiment     Sentiment `json:"sentiment"`
	Accuracy      float64   `json:"accuracy"`
	Reliability   float64   `json:"reliability"`
	Impact        float64   `json:"impact"`
	Corroboration int       `json:"corroboration"`
	Score         float64   `json:"score"`
	Rank          int       `json:"rank"`
}

// NewsRanking is the news domain aggregate row.
type NewsRanking struct {
	ProfileID  string     `json:"profile_id"`
	JobID      string     `json:"job_id"`
	ReportDate string     `json:"report_date"`
	Items      []NewsItem `json:"items"`
	Sentiment  Sentiment  `json:"sentiment"`
	Score      float64    `json:"score"`
	Confidence float64    `json:"confidence"`
	Summary    string     `json:"summary"`
	ComputedAt time.Time  `json:"computed_at"`
}

// DeviationType classifies why an ensemble result was flagged.
type DeviationType string

const (
	DeviationAnomaly           DeviationType = "anomaly"
	DeviationModelDisagreement DeviationType = "model_disagreement"
	DeviationBreakingEvent     DeviationType = "breaking_event"
)

// KeyDriver is a ranked driver merged across domains.
type KeyDriver struct {
	Domain       Domain  `json:"domain"`
	Description  string  `json:"description"`
	Contribution float64 `json:"contribution"`
}

// EnsembleAggregate is the combined verdict, one row per (profile, report date).
type EnsembleAggregate struct {
	ProfileID        string             `json:"profile_id"`
	BundleID         string             `json:"bundle_id"`
	JobID            string             `json:"job_id"`
	ReportDate       string             `json:"report_date"`
	ForecastValue    float64            `json:"forecast_value"`
	PriceOnlyValue   float64            `json:"price_only_value"`
	Trend            Trend              `json:"trend"`
	Confidence       float64            `json:"confidence"`
	AgreementPct     float64            `json:"agreement_pct"`
	KeyDrivers       []KeyDriver        `json:"key_drivers"`
	DeviationAlert   bool               `json:"deviation_alert"`
	DeviationType    *DeviationType     `json:"deviation_type,omitempty"`
	Deviations       []DeviationType    `json:"deviations,omitempty"`
	Summary          string             `json:"summary"`
	Weights          map[string]float64 `json:"weights"`
	DomainConfidence map[string]float64 `json:"domain_confidence"`
	Domains          []Domain           `json:"domains"`
	ComputedAt       time.Time          `json:"computed_at"`
}

// DashboardView is the denormalized per-profile snapshot read by the dashboard.
type DashboardView struct {
	ProfileID   string               `json:"profile_id"`
	Price       *PriceForecast       `json:"price,omitempty"`
	Market      *MarketSummary       `json:"market,omitempty"`
	News        *NewsRanking         `json:"news,omitempty"`
	Ensemble    *EnsembleAggregate   `json:"ensemble,omitempty"`
	Freshness   map[Domain]time.Time `json:"freshness"`
	Degraded    bool                 `json:"degraded"`
	RefreshedAt time.Time            `json:"refreshed_at"`
}
