// Package ai talks to the remote field extractor and case plan generator.
// Three interchangeable backends are provided: Gemini, Anthropic and a
// serverless function proxy speaking the {action, locale, context} envelope.
package ai

import (
	"context"
	"errors"
	"fmt"

	"caseintake-backend/config"
	"caseintake-backend/models"
)

// Actions understood by the serverless function proxy
const (
	ActionIntakeExtract = "intake_extract"
	ActionCaseBuilder   = "case_builder"
)

// Provider names
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderProxy     = "proxy"
)

var (
	ErrMalformedResponse = errors.New("malformed AI response")
	ErrEmptyResponse     = errors.New("AI returned empty content")
)

// FieldExtractor turns chat history plus the current draft into field updates
type FieldExtractor interface {
	ExtractFields(ctx context.Context, req models.ExtractionRequest) (*models.ExtractionResult, error)
}

// CasePlanGenerator builds a structured case plan from a finished draft
type CasePlanGenerator interface {
	GenerateCasePlan(ctx context.Context, req models.CasePlanRequest) (*models.CasePlan, error)
}

// Client is a backend that provides both AI collaborators
type Client interface {
	FieldExtractor
	CasePlanGenerator
	Name() string
	Close() error
}

// Envelope is the request body of every AI call
type Envelope struct {
	Action  string      `json:"action"`
	Locale  string      `json:"locale"`
	Context interface{} `json:"context"`
}

// NewExtractionEnvelope wraps an extraction request
func NewExtractionEnvelope(req models.ExtractionRequest) Envelope {
	return Envelope{Action: ActionIntakeExtract, Locale: req.Locale, Context: req}
}

// NewCasePlanEnvelope wraps a case plan request
func NewCasePlanEnvelope(req models.CasePlanRequest) Envelope {
	return Envelope{Action: ActionCaseBuilder, Locale: req.Locale, Context: req}
}

// NewClient creates the backend selected by cfg.Provider
func NewClient(ctx context.Context, cfg config.AIConfig) (Client, error) {
	switch cfg.Provider {
	case ProviderGemini, "":
		return NewGeminiClient(ctx, cfg)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg)
	case ProviderProxy:
		return NewProxyClient(cfg)
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", cfg.Provider)
	}
}
