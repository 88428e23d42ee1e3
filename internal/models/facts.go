package models

import (
	"fmt"
	"strings"
)

// Facts lists the computed price metrics for a narrative summary.
func (f *PriceForecast) Facts() []string {
	facts := []string{
		fmt.Sprintf("latest price %.2f", f.BasePrice),
		fmt.Sprintf("%d-day forecast %.2f (%s, %+.1f%%)", len(f.Points), f.FinalValue(), f.Trend, f.TrendPct),
		fmt.Sprintf("forecast confidence %.0f%%", f.Confidence*100),
	}
	if f.Accuracy != nil {
		facts = append(facts, fmt.Sprintf("backtest MAPE %.1f%%", f.Accuracy.MAPE))
	}
	return facts
}

// SetSummary stores the narrative summary.
func (f *PriceForecast) SetSummary(summary string) { f.Summary = summary }

// Facts lists the computed market metrics for a narrative summary.
func (m *MarketSummary) Facts() []string {
	facts := []string{
		fmt.Sprintf("market sentiment %s (score %+.2f from %d signals)", m.Sentiment, m.Score, m.SignalCount),
		fmt.Sprintf("confidence %.0f%%", m.Confidence*100),
	}
	for _, d := range m.TopDrivers {
		facts = append(facts, fmt.Sprintf("%s driver: %s", d.Sentiment, d.Description))
	}
	return facts
}

// SetSummary stores the narrative summary.
func (m *MarketSummary) SetSummary(summary string) { m.Summary = summary }

// Facts lists the top ranked stories for a narrative summary.
func (n *NewsRanking) Facts() []string {
	facts := []string{
		fmt.Sprintf("news sentiment %s (score %+.2f across %d stories)", n.Sentiment, n.Score, len(n.Items)),
	}
	for i, item := range n.Items {
		if i == 3 {
			break
		}
		facts = append(facts, fmt.Sprintf("%s (%s, %d sources)", item.Title, item.Sentiment, item.Corroboration))
	}
	return facts
}

// SetSummary stores the narrative summary.
func (n *NewsRanking) SetSummary(summary string) { n.Summary = summary }

// Facts lists the combined verdict for a narrative summary.
func (e *EnsembleAggregate) Facts() []string {
	domains := make([]string, 0, len(e.Domains))
	for _, d := range e.Domains {
		domains = append(domains, string(d))
	}
	facts := []string{
		fmt.Sprintf("ensemble forecast %.2f against price-only %.2f", e.ForecastValue, e.PriceOnlyValue),
		fmt.Sprintf("trend %s with %.0f%% confidence", e.Trend, e.Confidence*100),
		fmt.Sprintf("domain agreement %.1f%% using %s", e.AgreementPct, strings.Join(domains, ", ")),
	}
	for i, d := range e.KeyDrivers {
		if i == 3 {
			break
		}
		facts = append(facts, fmt.Sprintf("%s driver: %s", d.Domain, d.Description))
	}
	if e.DeviationType != nil {
		facts = append(facts, fmt.Sprintf("deviation flagged: %s", *e.DeviationType))
	}
	return facts
}

// SetSummary stores the narrative summary.
func (e *EnsembleAggregate) SetSummary(summary string) { e.Summary = summary }
