package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// InputPlaceholder in a command argument is replaced by the JSON input, for
// runners that read their input from argv instead of stdin
const InputPlaceholder = "{input}"

// ExecForecaster runs an external forecasting program. The input is written
// to stdin as JSON and the forecast is read from stdout.
type ExecForecaster struct {
	command      []string
	timeout      time.Duration
	backtestDays int
	logger       arbor.ILogger
}

// NewExecForecaster creates a runner for the given argv
func NewExecForecaster(command []string, timeout time.Duration, backtestDays int, logger arbor.ILogger) (*ExecForecaster, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("forecast runner command is empty")
	}
	return &ExecForecaster{
		command:      command,
		timeout:      timeout,
		backtestDays: backtestDays,
		logger:       logger,
	}, nil
}

// Name returns the runner program name
func (f *ExecForecaster) Name() string {
	return "exec:" + f.command[0]
}

// Forecast runs the program once and parses its output
func (f *ExecForecaster) Forecast(ctx context.Context, req interfaces.ForecastRequest) (*interfaces.ForecastResult, error) {
	if len(req.History) == 0 {
		return nil, fmt.Errorf("forecast needs price history: %w", models.ErrInsufficientData)
	}

	input := runnerInput{
		ProfileID:       req.ProfileID,
		Subject:         req.Subject,
		ForecastPeriods: req.HorizonDays,
		Backtest:        f.backtestDays > 0 && len(req.History) > 2*f.backtestDays,
		BacktestPeriods: f.backtestDays,
	}
	for _, p := range req.History {
		input.HistoricalData = append(input.HistoricalData, runnerHistoryRow{
			Date:  models.ReportDate(p.Date),
			Price: p.Price,
		})
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode runner input: %w", err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(f.command)-1)
	for _, arg := range f.command[1:] {
		args = append(args, strings.ReplaceAll(arg, InputPlaceholder, string(payload)))
	}

	cmd := exec.CommandContext(ctx, f.command[0], args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()

	f.logger.Debug().
		Str("runner", f.command[0]).
		Int("history_points", len(req.History)).
		Int("stdout_bytes", stdout.Len()).
		Str("duration", time.Since(start).String()).
		Msg("Forecast runner finished")

	if runErr != nil {
		// Runners report failures as {"error": ...} on stdout before exiting non-zero
		if stdout.Len() > 0 {
			if _, perr := parseRunnerOutput(stdout.Bytes(), 0); perr != nil {
				return nil, fmt.Errorf("forecast runner failed: %w (%v)", perr, runErr)
			}
		}
		return nil, fmt.Errorf("forecast runner failed: %w: %s", runErr, strings.TrimSpace(stderr.String()))
	}

	result, err := parseRunnerOutput(stdout.Bytes(), req.History[len(req.History)-1].Price)
	if err != nil {
		return nil, err
	}
	if result.Model == "runner" {
		result.Model = f.Name()
	}
	return result, nil
}
