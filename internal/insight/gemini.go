package insight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"schemedesk/api/internal/logging"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini is a Model backed by the Gemini API.
type Gemini struct {
	client     *genai.Client
	model      string
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{
		client:     client,
		model:      model,
		maxRetries: 3,
		baseDelay:  time.Second,
		logger:     logging.OrNop(logger),
	}, nil
}

// analysisSchema constrains structured responses.
var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary": {
			Type:        genai.TypeString,
			Description: "A professional executive summary (2 sentences max).",
		},
		"riskLevel": {
			Type:        genai.TypeString,
			Description: "Risk assessment: Low, Medium, or High.",
			Enum:        []string{"Low", "Medium", "High"},
		},
		"recommendations": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "3 actionable steps for the supervisor.",
		},
		"suggestedStatus": {
			Type:        genai.TypeString,
			Description: "Suggested workflow status based on data.",
		},
	},
	Required:         []string{"summary", "riskLevel", "recommendations", "suggestedStatus"},
	PropertyOrdering: []string{"summary", "riskLevel", "recommendations", "suggestedStatus"},
}

func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	config := &genai.GenerateContentConfig{}
	if req.Structured {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = analysisSchema
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := g.baseDelay * time.Duration(1<<uint(attempt-1))
			g.logger.Warn("retrying inference", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), config)
		if err != nil {
			lastErr = err
			if ctx.Err() == nil && isTransient(err) {
				continue
			}
			return "", err
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isTransient reports errors worth retrying: rate limits, server errors and
// per-request timeouts that did not come from the caller's context.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code == http.StatusTooManyRequests || apiErrPtr.Code >= http.StatusInternalServerError
	}
	return errors.Is(err, context.DeadlineExceeded)
}
