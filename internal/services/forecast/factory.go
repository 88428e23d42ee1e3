package forecast

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/interfaces"
)

// NewForecaster creates the configured forecasting collaborator
func NewForecaster(cfg common.ForecastConfig, logger arbor.ILogger) (interfaces.Forecaster, error) {
	switch cfg.Runner {
	case "", "drift":
		return NewDriftForecaster(cfg.HorizonDays, cfg.BacktestDays), nil
	case "exec":
		return NewExecForecaster(cfg.Command, common.ParseDuration(cfg.Timeout, 5*time.Minute), cfg.BacktestDays, logger)
	default:
		return nil, fmt.Errorf("unsupported forecast runner: %s", cfg.Runner)
	}
}
