package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"caseintake-backend/config"
	"caseintake-backend/models"
)

// ProxyClient posts the {action, locale, context} envelope to a serverless
// function that fronts the model. The function answers with the result
// object directly.
type ProxyClient struct {
	url        string
	token      string
	httpClient *http.Client
	retry      retryPolicy
}

// NewProxyClient creates a proxy backend from cfg
func NewProxyClient(cfg config.AIConfig) (*ProxyClient, error) {
	if cfg.ProxyURL == "" {
		return nil, errors.New("AI_PROXY_URL not set")
	}
	return &ProxyClient{
		url:        cfg.ProxyURL,
		token:      cfg.ProxyToken,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		retry:      retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.RetryBaseDelay},
	}, nil
}

// Name returns the provider name
func (c *ProxyClient) Name() string {
	return ProviderProxy
}

// Close releases idle connections
func (c *ProxyClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// ExtractFields sends an intake_extract request
func (c *ProxyClient) ExtractFields(ctx context.Context, req models.ExtractionRequest) (*models.ExtractionResult, error) {
	body, err := c.call(ctx, NewExtractionEnvelope(req))
	if err != nil {
		return nil, err
	}
	return ParseExtraction([]byte(body))
}

// GenerateCasePlan sends a case_builder request
func (c *ProxyClient) GenerateCasePlan(ctx context.Context, req models.CasePlanRequest) (*models.CasePlan, error) {
	body, err := c.call(ctx, NewCasePlanEnvelope(req))
	if err != nil {
		return nil, err
	}
	return ParseCasePlan([]byte(body))
}

func (c *ProxyClient) call(ctx context.Context, env Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.retry.do(ctx, func(ctx context.Context) (string, error) {
		return c.post(ctx, payload)
	})
}

func (c *ProxyClient) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", ErrEmptyResponse
	}
	return string(body), nil
}
