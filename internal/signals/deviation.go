package signals

import (
	"fmt"
	"math"
	"sort"

	"github.com/ternarybob/foresight/internal/models"
)

// DeviationOptions holds the deviation detection thresholds
type DeviationOptions struct {
	AgreementThreshold float64 // Percent; agreement below it is a disagreement
	ValueTolerance     float64 // Relative gap between ensemble and price-only value
	ConfidenceCollapse float64 // Absolute drop of a domain confidence against the prior run
}

// DefaultDeviationOptions returns the standard thresholds
func DefaultDeviationOptions() DeviationOptions {
	return DeviationOptions{
		AgreementThreshold: 80,
		ValueTolerance:     0.05,
		ConfidenceCollapse: 0.3,
	}
}

// Deviation is one triggered condition
type Deviation struct {
	Type    models.DeviationType `json:"type"`
	Message string               `json:"message"`
	Domain  models.Domain        `json:"domain,omitempty"`
	Value   float64              `json:"value"`
	Limit   float64              `json:"limit"`
}

var deviationPriority = map[models.DeviationType]int{
	models.DeviationBreakingEvent:     3,
	models.DeviationModelDisagreement: 2,
	models.DeviationAnomaly:           1,
}

// DetectDeviations returns every triggered condition, highest priority first.
// prior may be nil on the first run for a profile.
func DetectDeviations(result *CombineResult, prior *models.EnsembleAggregate, opts DeviationOptions) []Deviation {
	var out []Deviation

	if result.AgreementPct < opts.AgreementThreshold {
		out = append(out, Deviation{
			Type:    models.DeviationModelDisagreement,
			Message: fmt.Sprintf("model agreement %.1f%% below %.0f%%", result.AgreementPct, opts.AgreementThreshold),
			Value:   result.AgreementPct,
			Limit:   opts.AgreementThreshold,
		})
	}

	if result.PriceOnlyValue > 0 {
		gap := math.Abs(result.ForecastValue-result.PriceOnlyValue) / result.PriceOnlyValue
		if gap > opts.ValueTolerance {
			out = append(out, Deviation{
				Type:    models.DeviationAnomaly,
				Message: fmt.Sprintf("ensemble value %.2f differs from price-only %.2f by %.1f%%", result.ForecastValue, result.PriceOnlyValue, gap*100),
				Value:   round(gap, 4),
				Limit:   opts.ValueTolerance,
			})
		}
	}

	if prior != nil && opts.ConfidenceCollapse > 0 {
		for _, d := range models.DomainTypes {
			before, hadBefore := prior.DomainConfidence[string(d)]
			now, hasNow := result.DomainConfidence[string(d)]
			if !hadBefore || !hasNow {
				continue
			}
			if drop := before - now; drop >= opts.ConfidenceCollapse-1e-9 {
				out = append(out, Deviation{
					Type:    models.DeviationBreakingEvent,
					Message: fmt.Sprintf("%s confidence collapsed from %.2f to %.2f", d, before, now),
					Domain:  d,
					Value:   round(drop, 4),
					Limit:   opts.ConfidenceCollapse,
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return deviationPriority[out[i].Type] > deviationPriority[out[j].Type]
	})
	return out
}

// PrimaryDeviation returns the highest-priority deviation type, or nil
func PrimaryDeviation(deviations []Deviation) *models.DeviationType {
	if len(deviations) == 0 {
		return nil
	}
	t := deviations[0].Type
	return &t
}

// DeviationTypes lists the distinct triggered types in priority order
func DeviationTypes(deviations []Deviation) []models.DeviationType {
	seen := make(map[models.DeviationType]bool)
	var out []models.DeviationType
	for _, d := range deviations {
		if !seen[d.Type] {
			seen[d.Type] = true
			out = append(out, d.Type)
		}
	}
	return out
}
