package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/foresight/internal/interfaces"
)

// GeminiCollaborator executes tasks with the Gemini API
type GeminiCollaborator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  arbor.ILogger
}

// NewGeminiCollaborator creates a Gemini collaborator. An API key is required.
func NewGeminiCollaborator(ctx context.Context, apiKey, model string, timeout time.Duration, logger arbor.ILogger) (*GeminiCollaborator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Google API key is required for the gemini provider (set GEMINI_API_KEY or gemini.api_key)")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Debug().
		Str("model", model).
		Str("timeout", timeout.String()).
		Msg("Gemini collaborator initialized")

	return &GeminiCollaborator{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Execute sends the task prompt as a single user turn
func (c *GeminiCollaborator) Execute(ctx context.Context, req interfaces.ExecuteRequest) (*interfaces.ExecuteResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(req.Temperature)),
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini generation failed: %w", err)
	}

	// Use the first candidate with non-empty text
	var response strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}
	if response.Len() == 0 {
		return nil, fmt.Errorf("no response generated from Gemini")
	}

	return &interfaces.ExecuteResponse{
		Response: response.String(),
		Model:    c.model,
	}, nil
}
