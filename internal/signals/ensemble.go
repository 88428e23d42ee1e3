package signals

import (
	"fmt"
	"math"
	"sort"

	"github.com/ternarybob/foresight/internal/models"
)

// MaxKeyDrivers caps the merged driver list of an ensemble
const MaxKeyDrivers = 10

// DomainInput is one domain's contribution to the ensemble
type DomainInput struct {
	Domain     models.Domain
	Trend      models.Trend
	Confidence float64
	Value      float64 // Price domain only: forecast final value
	Drivers    []models.KeyDriver
}

// CombineOptions holds the ensemble tuning knobs
type CombineOptions struct {
	Weights        map[models.Domain]float64 // Base weights before confidence scaling
	TrendThreshold float64                   // Weighted sign beyond which the trend is up or down
	MaxAdjustment  float64                   // Cap on the relative adjustment of the price-only value
}

// DefaultCombineOptions returns the standard 0.5/0.25/0.25 weighting
func DefaultCombineOptions() CombineOptions {
	return CombineOptions{
		Weights: map[models.Domain]float64{
			models.DomainPrice:  0.5,
			models.DomainMarket: 0.25,
			models.DomainNews:   0.25,
		},
		TrendThreshold: 0.15,
		MaxAdjustment:  0.08,
	}
}

// CombineResult is the combined verdict before persistence
type CombineResult struct {
	ForecastValue    float64
	PriceOnlyValue   float64
	Trend            models.Trend
	Confidence       float64
	AgreementPct     float64
	Weights          map[string]float64
	DomainConfidence map[string]float64
	DomainTrends     map[models.Domain]models.Trend
	Domains          []models.Domain
	KeyDrivers       []models.KeyDriver
}

// Combine merges domain results into one verdict.
//
// Agreement is measured against all three domains, so a missing domain lowers
// it. The forecast value starts from the price-only forecast and is nudged by
// the non-price domains, bounded by MaxAdjustment.
func Combine(inputs []DomainInput, opts CombineOptions) (*CombineResult, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no domain results to combine: %w", models.ErrInsufficientData)
	}
	if len(opts.Weights) == 0 {
		opts.Weights = DefaultCombineOptions().Weights
	}

	// One input per domain; the last one wins
	byDomain := make(map[models.Domain]DomainInput, len(inputs))
	for _, in := range inputs {
		in.Confidence = clamp01(in.Confidence)
		byDomain[in.Domain] = in
	}

	result := &CombineResult{
		Weights:          make(map[string]float64),
		DomainConfidence: make(map[string]float64),
		DomainTrends:     make(map[models.Domain]models.Trend),
	}

	raw := make(map[models.Domain]float64)
	var total float64
	for _, d := range models.DomainTypes {
		in, ok := byDomain[d]
		if !ok {
			continue
		}
		result.Domains = append(result.Domains, d)
		result.DomainConfidence[string(d)] = round(in.Confidence, 4)
		result.DomainTrends[d] = in.Trend
		raw[d] = opts.Weights[d] * in.Confidence
		total += raw[d]
	}
	if len(result.Domains) == 0 {
		return nil, fmt.Errorf("no recognised domains to combine: %w", models.ErrInsufficientData)
	}

	// With every confidence at zero the base weights are used unscaled
	if total == 0 {
		for _, d := range result.Domains {
			raw[d] = opts.Weights[d]
			total += raw[d]
		}
	}
	if total == 0 {
		for _, d := range result.Domains {
			raw[d] = 1
		}
		total = float64(len(result.Domains))
	}

	weights := make(map[models.Domain]float64, len(raw))
	for d, w := range raw {
		weights[d] = w / total
		result.Weights[string(d)] = round(weights[d], 4)
	}

	var signSum, confSum, adjustment float64
	counts := make(map[models.Trend]int)
	for _, d := range result.Domains {
		in := byDomain[d]
		w := weights[d]
		signSum += w * in.Trend.Sign()
		confSum += w * in.Confidence
		counts[normalizeTrend(in.Trend)]++
		if d != models.DomainPrice {
			adjustment += w * in.Trend.Sign() * in.Confidence
		}
	}

	switch {
	case signSum > opts.TrendThreshold:
		result.Trend = models.TrendUp
	case signSum < -opts.TrendThreshold:
		result.Trend = models.TrendDown
	default:
		result.Trend = models.TrendStable
	}

	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	agreement := 100 * float64(maxCount) / float64(len(models.DomainTypes))
	result.AgreementPct = round(agreement, 1)

	coverage := float64(len(result.Domains)) / float64(len(models.DomainTypes))
	result.Confidence = round(clamp01(confSum*(0.5+0.5*agreement/100)*coverage), 4)

	if price, ok := byDomain[models.DomainPrice]; ok && price.Value > 0 {
		result.PriceOnlyValue = price.Value
		result.ForecastValue = round(price.Value*(1+clamp(adjustment, -opts.MaxAdjustment, opts.MaxAdjustment)), 4)
	}

	result.KeyDrivers = mergeDrivers(result.Domains, byDomain, weights)
	return result, nil
}

func normalizeTrend(t models.Trend) models.Trend {
	switch t {
	case models.TrendUp, models.TrendDown:
		return t
	}
	return models.TrendStable
}

// mergeDrivers scales each domain's drivers by the domain weight and keeps the
// strongest by absolute contribution
func mergeDrivers(domains []models.Domain, byDomain map[models.Domain]DomainInput, weights map[models.Domain]float64) []models.KeyDriver {
	var drivers []models.KeyDriver
	for _, d := range domains {
		for _, driver := range byDomain[d].Drivers {
			driver.Domain = d
			driver.Contribution = round(driver.Contribution*weights[d], 4)
			drivers = append(drivers, driver)
		}
	}
	sort.SliceStable(drivers, func(i, j int) bool {
		return math.Abs(drivers[i].Contribution) > math.Abs(drivers[j].Contribution)
	})
	if len(drivers) > MaxKeyDrivers {
		drivers = drivers[:MaxKeyDrivers]
	}
	return drivers
}

// FromPriceForecast converts a price aggregate into an ensemble input
func FromPriceForecast(f *models.PriceForecast) DomainInput {
	in := DomainInput{
		Domain:     models.DomainPrice,
		Trend:      f.Trend,
		Confidence: f.Confidence,
		Value:      f.FinalValue(),
	}
	in.Drivers = append(in.Drivers, models.KeyDriver{
		Description:  fmt.Sprintf("%s forecast %+.2f%% from %.2f", f.Model, f.TrendPct, f.BasePrice),
		Contribution: f.Trend.Sign() * f.Confidence,
	})
	return in
}

// FromMarketSummary converts a market aggregate into an ensemble input
func FromMarketSummary(m *models.MarketSummary) DomainInput {
	in := DomainInput{
		Domain:     models.DomainMarket,
		Trend:      models.TrendFromSentiment(m.Sentiment),
		Confidence: m.Confidence,
	}
	for _, d := range m.TopDrivers {
		in.Drivers = append(in.Drivers, models.KeyDriver{
			Description:  d.Description,
			Contribution: d.Impact,
		})
	}
	return in
}

// FromNewsRanking converts a news aggregate into an ensemble input
func FromNewsRanking(n *models.NewsRanking) DomainInput {
	in := DomainInput{
		Domain:     models.DomainNews,
		Trend:      models.TrendFromSentiment(n.Sentiment),
		Confidence: n.Confidence,
	}
	for _, item := range n.Items {
		if item.Sentiment == models.SentimentNeutral {
			continue
		}
		in.Drivers = append(in.Drivers, models.KeyDriver{
			Description:  item.Title,
			Contribution: item.Sentiment.Sign() * item.Score,
		})
	}
	return in
}
