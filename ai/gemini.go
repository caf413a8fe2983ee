package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"caseintake-backend/config"
	"caseintake-backend/models"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type generateFunc func(ctx context.Context, system, user string) (string, error)

// GeminiClient calls Gemini through the generative-ai-go SDK
type GeminiClient struct {
	cfg      config.AIConfig
	client   *genai.Client
	generate generateFunc
	retry    retryPolicy
}

// NewGeminiClient creates a Gemini backend from cfg
func NewGeminiClient(ctx context.Context, cfg config.AIConfig) (*GeminiClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &GeminiClient{
		cfg:    cfg,
		client: client,
		retry:  retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.RetryBaseDelay},
	}
	c.generate = c.generateContent
	return c, nil
}

// Name returns the provider name
func (c *GeminiClient) Name() string {
	return ProviderGemini
}

// Close releases the underlying SDK client
func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ExtractFields asks Gemini to update the draft from the conversation
func (c *GeminiClient) ExtractFields(ctx context.Context, req models.ExtractionRequest) (*models.ExtractionResult, error) {
	text, err := c.call(ctx, extractionInstruction, NewExtractionEnvelope(req))
	if err != nil {
		return nil, err
	}
	return ParseExtraction([]byte(text))
}

// GenerateCasePlan asks Gemini for a case plan
func (c *GeminiClient) GenerateCasePlan(ctx context.Context, req models.CasePlanRequest) (*models.CasePlan, error) {
	text, err := c.call(ctx, casePlanInstruction, NewCasePlanEnvelope(req))
	if err != nil {
		return nil, err
	}
	return ParseCasePlan([]byte(text))
}

func (c *GeminiClient) call(ctx context.Context, system string, env Envelope) (string, error) {
	user, err := fitUserContent(env, maxPromptChars)
	if err != nil {
		return "", err
	}
	return c.retry.do(ctx, func(ctx context.Context) (string, error) {
		return c.generate(ctx, system, user)
	})
}

func (c *GeminiClient) generateContent(ctx context.Context, system, user string) (string, error) {
	model := c.client.GenerativeModel(c.cfg.GeminiModel)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("API blocked prompt: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("API returned no candidates")
	}

	var out strings.Builder
	for i, candidate := range resp.Candidates {
		if candidate.FinishReason != genai.FinishReasonStop && candidate.FinishReason != genai.FinishReasonUnspecified {
			log.Printf("Warning: Candidate %d finished with reason: %s", i, candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out.WriteString(string(text))
			}
		}
	}

	if out.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return out.String(), nil
}
