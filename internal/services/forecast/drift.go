package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
	"github.com/ternarybob/foresight/internal/signals"
)

const (
	// DriftModel names forecasts produced by the built-in forecaster
	DriftModel = "drift"

	// MinHistory is the fewest observations the drift forecaster accepts
	MinHistory = 10

	maxDailyReturn = 0.05
	maxDailyDrift  = 0.005
	bandZ          = 1.96 // 2.5 / 97.5 percentiles
)

// DriftForecaster projects a log-normal random walk fitted to recent daily
// returns. Returns are clipped to +/-5% and the median path drift is capped.
type DriftForecaster struct {
	defaultHorizon int
	backtestDays   int
}

// NewDriftForecaster creates the built-in forecaster
func NewDriftForecaster(defaultHorizon, backtestDays int) *DriftForecaster {
	if defaultHorizon <= 0 {
		defaultHorizon = 60
	}
	return &DriftForecaster{defaultHorizon: defaultHorizon, backtestDays: backtestDays}
}

// Name returns the model name
func (f *DriftForecaster) Name() string {
	return DriftModel
}

// Forecast fits the history and projects HorizonDays daily points
func (f *DriftForecaster) Forecast(ctx context.Context, req interfaces.ForecastRequest) (*interfaces.ForecastResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.History) < MinHistory {
		return nil, fmt.Errorf("drift forecast needs %d observations, got %d: %w", MinHistory, len(req.History), models.ErrInsufficientData)
	}

	horizon := req.HorizonDays
	if horizon <= 0 {
		horizon = f.defaultHorizon
	}

	last := req.History[len(req.History)-1]
	start := req.Start
	if start.IsZero() {
		start = last.Date
	}

	mu, sigma := fitReturns(req.History)
	points := project(last.Price, mu, sigma, start, horizon)

	result := &interfaces.ForecastResult{
		BasePrice:  last.Price,
		Points:     points,
		Confidence: bandConfidence(points),
		Model:      DriftModel,
	}

	if k := f.backtestDays; k > 0 && len(req.History) >= 2*k && len(req.History)-k >= MinHistory {
		train := req.History[:len(req.History)-k]
		test := req.History[len(req.History)-k:]
		tmu, tsigma := fitReturns(train)
		predicted := project(train[len(train)-1].Price, tmu, tsigma, train[len(train)-1].Date, k)

		actual := make([]float64, k)
		values := make([]float64, k)
		for i := 0; i < k; i++ {
			actual[i] = test[i].Price
			values[i] = predicted[i].Value
		}
		if acc, err := signals.Accuracy(actual, values); err == nil {
			result.Accuracy = acc
		}
	}

	return result, nil
}

// fitReturns returns the clipped mean and standard deviation of daily log returns
func fitReturns(history []models.PricePoint) (float64, float64) {
	returns := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1].Price, history[i].Price
		if prev <= 0 || cur <= 0 {
			continue
		}
		r := clamp(cur/prev-1, -maxDailyReturn, maxDailyReturn)
		returns = append(returns, math.Log1p(r))
	}
	if len(returns) == 0 {
		return 0, 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mu := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		sq += (r - mu) * (r - mu)
	}
	sigma := 0.0
	if len(returns) > 1 {
		sigma = math.Sqrt(sq / float64(len(returns)-1))
	}

	return clamp(mu, -maxDailyDrift, maxDailyDrift), sigma
}

func project(base, mu, sigma float64, start time.Time, horizon int) []models.ForecastPoint {
	points := make([]models.ForecastPoint, 0, horizon)
	for t := 1; t <= horizon; t++ {
		days := float64(t)
		spread := bandZ * sigma * math.Sqrt(days)
		median := base * math.Exp(mu*days)
		points = append(points, models.ForecastPoint{
			Date:  models.ReportDate(start.AddDate(0, 0, t)),
			Value: round2(median),
			Lower: round2(base * math.Exp(mu*days-spread)),
			Upper: round2(base * math.Exp(mu*days+spread)),
		})
	}
	return points
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
