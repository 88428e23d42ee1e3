package forecast

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

const lstmOutput = `{
	"modelName": "LSTM Ensemble Forecaster",
	"horizonDays": 3,
	"basePrice": 100,
	"trendLabel": "UP",
	"trendPercentage": 0.05,
	"confidenceScore": 0.85,
	"detailedData": {
		"forecast_dates": ["2026-03-02", "2026-03-03", "2026-03-04"],
		"median_prices": [101, 103, 105],
		"lower_band": [98, 99, 100],
		"upper_band": [104, 107, 110]
	}
}`

const prophetOutput = `{
	"model_name": "prophet",
	"forecast": [
		{"ds": "2026-03-02 00:00:00", "yhat": 50.5, "yhat_lower": 49, "yhat_upper": 52},
		{"ds": "2026-03-03 00:00:00", "yhat": 51, "yhat_lower": 48, "yhat_upper": 54}
	],
	"backtest": {"accuracy": {"mape": 2.1, "rmse": 1.3, "mae": 1.1}}
}`

func TestParseRunnerOutput(t *testing.T) {
	t.Run("lstm detailed data", func(t *testing.T) {
		result, err := parseRunnerOutput([]byte(lstmOutput), 0)
		require.NoError(t, err)

		assert.Equal(t, 100.0, result.BasePrice)
		assert.Equal(t, 0.85, result.Confidence)
		assert.Equal(t, "LSTM Ensemble Forecaster", result.Model)
		require.Len(t, result.Points, 3)
		assert.Equal(t, models.ForecastPoint{Date: "2026-03-04", Value: 105, Lower: 100, Upper: 110}, result.Points[2])
		assert.Nil(t, result.Accuracy)
	})

	t.Run("lstm flat arrays", func(t *testing.T) {
		result, err := parseRunnerOutput([]byte(`{"basePrice": 10, "forecast_dates": ["2026-03-02"], "median_prices": [10.5], "lower_band": [9], "upper_band": [12]}`), 0)
		require.NoError(t, err)
		require.Len(t, result.Points, 1)
		assert.Equal(t, "runner", result.Model)
		assert.InDelta(t, 1-3.0/21, result.Confidence, 1e-9)
	})

	t.Run("prophet with backtest", func(t *testing.T) {
		result, err := parseRunnerOutput([]byte(prophetOutput), 49.8)
		require.NoError(t, err)

		assert.Equal(t, 49.8, result.BasePrice)
		assert.Equal(t, "prophet", result.Model)
		require.Len(t, result.Points, 2)
		assert.Equal(t, "2026-03-02", result.Points[0].Date)
		require.NotNil(t, result.Accuracy)
		assert.Equal(t, 2.1, result.Accuracy.MAPE)
	})

	t.Run("runner error", func(t *testing.T) {
		_, err := parseRunnerOutput([]byte(`{"error": "No historical data provided"}`), 0)
		assert.ErrorContains(t, err, "No historical data provided")
	})

	t.Run("mismatched bands", func(t *testing.T) {
		_, err := parseRunnerOutput([]byte(`{"detailedData": {"forecast_dates": ["a"], "median_prices": [1, 2], "lower_band": [1], "upper_band": [1]}}`), 0)
		assert.Error(t, err)
	})

	t.Run("no points", func(t *testing.T) {
		_, err := parseRunnerOutput([]byte(`{"model_name": "empty"}`), 0)
		assert.ErrorIs(t, err, models.ErrCollaboratorFailure)
	})
}

func history(n int, start time.Time, price func(i int) float64) []models.PricePoint {
	out := make([]models.PricePoint, n)
	for i := 0; i < n; i++ {
		out[i] = models.PricePoint{Date: start.AddDate(0, 0, i), Price: price(i)}
	}
	return out
}

func TestDriftForecaster(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewDriftForecaster(60, 0)

	t.Run("insufficient history", func(t *testing.T) {
		_, err := f.Forecast(context.Background(), interfaces.ForecastRequest{
			History: history(5, start, func(int) float64 { return 10 }),
		})
		assert.ErrorIs(t, err, models.ErrInsufficientData)
	})

	t.Run("flat history", func(t *testing.T) {
		result, err := f.Forecast(context.Background(), interfaces.ForecastRequest{
			History: history(30, start, func(int) float64 { return 80 }),
		})
		require.NoError(t, err)

		require.Len(t, result.Points, 60)
		assert.Equal(t, "2026-01-31", result.Points[0].Date)
		assert.Equal(t, 80.0, result.Points[59].Value)
		assert.Equal(t, 0.95, result.Confidence)
		assert.Equal(t, DriftModel, result.Model)
	})

	t.Run("bands contain median", func(t *testing.T) {
		result, err := f.Forecast(context.Background(), interfaces.ForecastRequest{
			History:     history(60, start, func(i int) float64 { return 100 + float64(i%7) - 3 + 0.2*float64(i) }),
			HorizonDays: 10,
		})
		require.NoError(t, err)

		require.Len(t, result.Points, 10)
		for _, p := range result.Points {
			assert.LessOrEqual(t, p.Lower, p.Value)
			assert.GreaterOrEqual(t, p.Upper, p.Value)
		}
		assert.Greater(t, result.Points[9].Upper-result.Points[9].Lower, result.Points[0].Upper-result.Points[0].Lower)
		assert.Greater(t, result.Confidence, 0.0)
		assert.LessOrEqual(t, result.Confidence, 0.95)
	})

	t.Run("backtest accuracy", func(t *testing.T) {
		bt := NewDriftForecaster(60, 7)
		result, err := bt.Forecast(context.Background(), interfaces.ForecastRequest{
			History:     history(40, start, func(i int) float64 { return 50 + float64(i) }),
			HorizonDays: 5,
		})
		require.NoError(t, err)
		require.NotNil(t, result.Accuracy)
		assert.Greater(t, result.Accuracy.MAE, 0.0)
	})
}

func TestExecForecaster(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req := interfaces.ForecastRequest{
		ProfileID:   "coffee",
		History:     history(20, start, func(int) float64 { return 100 }),
		HorizonDays: 3,
	}

	t.Run("reads stdout", func(t *testing.T) {
		f, err := NewExecForecaster([]string{"sh", "-c", "cat > /dev/null; printf '%s' '" + prophetOutput + "'"}, time.Minute, 0, arbor.NewLogger())
		require.NoError(t, err)

		result, err := f.Forecast(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 100.0, result.BasePrice)
		assert.Len(t, result.Points, 2)
	})

	t.Run("input on stdin", func(t *testing.T) {
		// Echo the input back as an error to prove it arrived
		f, err := NewExecForecaster([]string{"sh", "-c", `grep -q '"forecast_periods":3' && echo '{"error": "got input"}'`}, time.Minute, 0, arbor.NewLogger())
		require.NoError(t, err)

		_, err = f.Forecast(context.Background(), req)
		assert.ErrorContains(t, err, "got input")
	})

	t.Run("non-zero exit", func(t *testing.T) {
		f, err := NewExecForecaster([]string{"sh", "-c", "echo boom >&2; exit 3"}, time.Minute, 0, arbor.NewLogger())
		require.NoError(t, err)

		_, err = f.Forecast(context.Background(), req)
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("empty command", func(t *testing.T) {
		_, err := NewExecForecaster(nil, time.Minute, 0, arbor.NewLogger())
		assert.Error(t, err)
	})
}
