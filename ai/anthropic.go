package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"caseintake-backend/config"
	"caseintake-backend/models"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient calls Claude through the Anthropic SDK
type AnthropicClient struct {
	cfg    config.AIConfig
	client anthropic.Client
	retry  retryPolicy
}

// NewAnthropicClient creates an Anthropic backend. Extra request options
// are appended after the API key, which lets callers swap the HTTP client.
func NewAnthropicClient(cfg config.AIConfig, opts ...option.RequestOption) (*AnthropicClient, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, errors.New("no API key: set ANTHROPIC_API_KEY")
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(cfg.AnthropicAPIKey)}, opts...)
	return &AnthropicClient{
		cfg:    cfg,
		client: anthropic.NewClient(reqOpts...),
		retry:  retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.RetryBaseDelay},
	}, nil
}

// Name returns the provider name
func (c *AnthropicClient) Name() string {
	return ProviderAnthropic
}

// Close is a no-op; the SDK client holds no resources
func (c *AnthropicClient) Close() error {
	return nil
}

// ExtractFields asks Claude to update the draft from the conversation
func (c *AnthropicClient) ExtractFields(ctx context.Context, req models.ExtractionRequest) (*models.ExtractionResult, error) {
	text, err := c.call(ctx, extractionInstruction, NewExtractionEnvelope(req))
	if err != nil {
		return nil, err
	}
	return ParseExtraction([]byte(text))
}

// GenerateCasePlan asks Claude for a case plan
func (c *AnthropicClient) GenerateCasePlan(ctx context.Context, req models.CasePlanRequest) (*models.CasePlan, error) {
	text, err := c.call(ctx, casePlanInstruction, NewCasePlanEnvelope(req))
	if err != nil {
		return nil, err
	}
	return ParseCasePlan([]byte(text))
}

func (c *AnthropicClient) call(ctx context.Context, system string, env Envelope) (string, error) {
	user, err := fitUserContent(env, maxPromptChars)
	if err != nil {
		return "", err
	}
	return c.retry.do(ctx, func(ctx context.Context) (string, error) {
		return c.doRequest(ctx, system, user)
	})
}

func (c *AnthropicClient) doRequest(ctx context.Context, system, user string) (string, error) {
	maxTokens := c.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.AnthropicModel),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return out.String(), nil
}
