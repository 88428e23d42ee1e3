package signals

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/foresight/internal/models"
)

// PriceTrendThreshold is the relative move from the base price that counts as a trend
const PriceTrendThreshold = 0.03

type rawObservation struct {
	Date  string          `json:"date"`
	Price json.RawMessage `json:"price"`
	Close json.RawMessage `json:"close"`
}

// ParsePriceObservations reads price observations from a collaborator
// response: a JSON array of {date, price} objects or "date,price" lines.
// Observations with unparseable dates or non-positive prices are skipped.
func ParsePriceObservations(response string) []models.PricePoint {
	if points, ok := parseJSONObservations(response); ok {
		return normalizeHistory(points)
	}

	var points []models.PricePoint
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(bulletPattern.ReplaceAllString(line, ""))
		fields := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ';' || r == '\t' })
		if len(fields) < 2 {
			continue
		}
		date := parseDate(fields[0])
		price, ok := parsePrice(fields[1])
		if date == nil || !ok {
			continue
		}
		points = append(points, models.PricePoint{Date: *date, Price: price})
	}
	return normalizeHistory(points)
}

func parseJSONObservations(response string) ([]models.PricePoint, bool) {
	body := strings.TrimSpace(response)
	if m := fencePattern.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	start, end := strings.Index(body, "["), strings.LastIndex(body, "]")
	if start < 0 || end <= start {
		return nil, false
	}

	var raw []rawObservation
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return nil, false
	}

	points := make([]models.PricePoint, 0, len(raw))
	for _, r := range raw {
		date := parseDate(r.Date)
		value := r.Price
		if len(value) == 0 {
			value = r.Close
		}
		price, ok := parsePrice(strings.Trim(string(value), `"`))
		if date == nil || !ok {
			continue
		}
		points = append(points, models.PricePoint{Date: *date, Price: price})
	}
	return points, true
}

func parsePrice(value string) (float64, bool) {
	value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "$"))
	value = strings.ReplaceAll(value, "_", "")
	price, err := strconv.ParseFloat(value, 64)
	if err != nil || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false
	}
	return price, true
}

// MergeHistory combines stored and freshly observed prices, one point per
// calendar day with later sources winning, sorted by date ascending.
func MergeHistory(sets ...[]models.PricePoint) []models.PricePoint {
	var all []models.PricePoint
	for _, set := range sets {
		all = append(all, set...)
	}
	return normalizeHistory(all)
}

func normalizeHistory(points []models.PricePoint) []models.PricePoint {
	byDay := make(map[string]models.PricePoint, len(points))
	for _, p := range points {
		byDay[models.ReportDate(p.Date)] = p
	}
	out := make([]models.PricePoint, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// TrendFromForecast labels the move from base to final value at +/-3%.
// It returns the trend and the percentage change.
func TrendFromForecast(base, final float64) (models.Trend, float64) {
	if base <= 0 {
		return models.TrendStable, 0
	}
	change := pctChange(base, final)
	pct := round(change*100, 2)
	switch {
	case change > PriceTrendThreshold:
		return models.TrendUp, pct
	case change < -PriceTrendThreshold:
		return models.TrendDown, pct
	}
	return models.TrendStable, pct
}

// Accuracy computes backtest error metrics of predicted against actual values.
// MAPE is a percentage; points with a zero actual value are excluded from it.
func Accuracy(actual, predicted []float64) (*models.ForecastAccuracy, error) {
	n := len(actual)
	if n == 0 || n != len(predicted) {
		return nil, fmt.Errorf("accuracy needs equal non-empty series (got %d and %d): %w", len(actual), len(predicted), models.ErrInsufficientData)
	}

	var absSum, sqSum, pctSum float64
	pctCount := 0
	for i := range actual {
		diff := actual[i] - predicted[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
		if actual[i] != 0 {
			pctSum += math.Abs(diff / actual[i])
			pctCount++
		}
	}

	acc := &models.ForecastAccuracy{
		RMSE: round(math.Sqrt(sqSum/float64(n)), 4),
		MAE:  round(absSum/float64(n), 4),
	}
	if pctCount > 0 {
		acc.MAPE = round(pctSum/float64(pctCount)*100, 4)
	}
	return acc, nil
}

// LastPrice returns the most recent observation, or false when history is empty
func LastPrice(history []models.PricePoint) (models.PricePoint, bool) {
	if len(history) == 0 {
		return models.PricePoint{}, false
	}
	return history[len(history)-1], true
}

// HistoryWindow keeps the points observed within days of now
func HistoryWindow(history []models.PricePoint, now time.Time, days int) []models.PricePoint {
	if days <= 0 {
		return history
	}
	cutoff := now.AddDate(0, 0, -days)
	out := make([]models.PricePoint, 0, len(history))
	for _, p := range history {
		if !p.Date.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}
