package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/interfaces"
)

// systemPrompt frames every collaborator task
const systemPrompt = "You are a commodity market analyst. Answer with data only, in exactly the format requested."

// ClaudeCollaborator executes tasks with the Anthropic Messages API
type ClaudeCollaborator struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	logger  arbor.ILogger
}

// NewClaudeCollaborator creates a Claude collaborator. An API key is required.
func NewClaudeCollaborator(apiKey, model string, timeout time.Duration, logger arbor.ILogger) (*ClaudeCollaborator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required for the claude provider (set ANTHROPIC_API_KEY or claude.api_key)")
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	logger.Debug().
		Str("model", model).
		Str("timeout", timeout.String()).
		Msg("Claude collaborator initialized")

	return &ClaudeCollaborator{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Execute sends the task prompt as a single user message
func (c *ClaudeCollaborator) Execute(ctx context.Context, req interfaces.ExecuteRequest) (*interfaces.ExecuteResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}
	if response.Len() == 0 {
		return nil, fmt.Errorf("no response generated from Claude API")
	}

	return &interfaces.ExecuteResponse{
		Response: response.String(),
		Model:    c.model,
	}, nil
}
