package forecast

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// runnerInput is written to a runner as JSON
type runnerInput struct {
	ProfileID       string             `json:"profile_id"`
	Subject         string             `json:"subject"`
	HistoricalData  []runnerHistoryRow `json:"historical_data"`
	ForecastPeriods int                `json:"forecast_periods"`
	Backtest        bool               `json:"backtest"`
	BacktestPeriods int                `json:"backtest_periods,omitempty"`
}

type runnerHistoryRow struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// bandSeries is the LSTM runner's detailed forecast
type bandSeries struct {
	ForecastDates []string  `json:"forecast_dates"`
	MedianPrices  []float64 `json:"median_prices"`
	LowerBand     []float64 `json:"lower_band"`
	UpperBand     []float64 `json:"upper_band"`
}

type prophetRow struct {
	DS        string  `json:"ds"`
	YHat      float64 `json:"yhat"`
	YHatLower float64 `json:"yhat_lower"`
	YHatUpper float64 `json:"yhat_upper"`
}

type accuracyRow struct {
	MAPE *float64 `json:"mape"`
	RMSE *float64 `json:"rmse"`
	MAE  *float64 `json:"mae"`
}

// runnerOutput accepts both the LSTM shape (basePrice, trendLabel,
// detailedData or flat band arrays) and the Prophet shape (forecast rows of
// ds/yhat with an optional backtest)
type runnerOutput struct {
	Error           string      `json:"error"`
	ModelName       string      `json:"model_name"`
	ModelNameCamel  string      `json:"modelName"`
	BasePrice       float64     `json:"basePrice"`
	TrendLabel      string      `json:"trendLabel"`
	TrendPercentage float64     `json:"trendPercentage"`
	HorizonDays     int         `json:"horizonDays"`
	ConfidenceScore float64     `json:"confidenceScore"`
	DetailedData    *bandSeries `json:"detailedData"`
	bandSeries
	Forecast []prophetRow `json:"forecast"`
	Backtest *struct {
		Accuracy *accuracyRow `json:"accuracy"`
	} `json:"backtest"`
}

// parseRunnerOutput converts runner stdout into a forecast result. lastPrice
// is used as the base when the runner does not report one.
func parseRunnerOutput(data []byte, lastPrice float64) (*interfaces.ForecastResult, error) {
	var out runnerOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid runner output: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("runner reported error: %s", out.Error)
	}

	result := &interfaces.ForecastResult{
		BasePrice:  out.BasePrice,
		Confidence: out.ConfidenceScore,
		Model:      firstNonEmpty(out.ModelName, out.ModelNameCamel, "runner"),
	}
	if result.BasePrice <= 0 {
		result.BasePrice = lastPrice
	}

	series := out.DetailedData
	if series == nil && len(out.MedianPrices) > 0 {
		series = &out.bandSeries
	}

	switch {
	case series != nil:
		n := len(series.MedianPrices)
		if len(series.ForecastDates) != n || len(series.LowerBand) != n || len(series.UpperBand) != n {
			return nil, fmt.Errorf("runner band arrays differ in length")
		}
		for i := 0; i < n; i++ {
			result.Points = append(result.Points, models.ForecastPoint{
				Date:  normalizeDate(series.ForecastDates[i]),
				Value: series.MedianPrices[i],
				Lower: series.LowerBand[i],
				Upper: series.UpperBand[i],
			})
		}
	case len(out.Forecast) > 0:
		for _, row := range out.Forecast {
			result.Points = append(result.Points, models.ForecastPoint{
				Date:  normalizeDate(row.DS),
				Value: row.YHat,
				Lower: row.YHatLower,
				Upper: row.YHatUpper,
			})
		}
	default:
		return nil, fmt.Errorf("runner output has no forecast points: %w", models.ErrCollaboratorFailure)
	}

	if out.Backtest != nil && out.Backtest.Accuracy != nil {
		acc := out.Backtest.Accuracy
		if acc.MAPE != nil && acc.RMSE != nil && acc.MAE != nil {
			result.Accuracy = &models.ForecastAccuracy{MAPE: *acc.MAPE, RMSE: *acc.RMSE, MAE: *acc.MAE}
		}
	}

	if result.Confidence <= 0 {
		result.Confidence = bandConfidence(result.Points)
	}
	return result, nil
}

// bandConfidence derives confidence from the relative width of the final band
func bandConfidence(points []models.ForecastPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	last := points[len(points)-1]
	if last.Value <= 0 {
		return 0
	}
	width := (last.Upper - last.Lower) / (2 * last.Value)
	return clamp(1-width, 0.05, 0.95)
}

// normalizeDate trims timestamps such as "2026-03-01 00:00:00" to the day
func normalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > 10 {
		return value[:10]
	}
	return value
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
