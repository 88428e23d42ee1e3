package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/foresight/internal/models"
)

// ExecuteRequest is a task descriptor sent to a model-execution collaborator.
type ExecuteRequest struct {
	Task        string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// ExecuteResponse carries the collaborator's free-text or structured result.
type ExecuteResponse struct {
	Response string
	Model    string
}

// Collaborator is an external model-execution service. Errors carry only a message.
type Collaborator interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error)
}

// ForecastRequest is the input to a numeric forecasting collaborator.
type ForecastRequest struct {
	ProfileID   string
	Subject     string
	History     []models.PricePoint
	HorizonDays int
	Start       time.Time
}

// ForecastResult is the numeric forecast returned by a Forecaster.
type ForecastResult struct {
	BasePrice  float64
	Points     []models.ForecastPoint
	Confidence float64
	Model      string
	Accuracy   *models.ForecastAccuracy
}

// Forecaster delegates numeric price prediction.
type Forecaster interface {
	Forecast(ctx context.Context, req ForecastRequest) (*ForecastResult, error)
	Name() string
}
