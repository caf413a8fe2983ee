package models

import (
	"encoding/json"
	"time"
)

// ChatRole identifies who authored a chat turn
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of the intake conversation
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ExtractionRequest is the context sent to the field extractor for one turn
type ExtractionRequest struct {
	Locale         string        `json:"-"`
	History        []ChatMessage `json:"history"`
	RequiredFields []string      `json:"required_fields"`
	CurrentFields  CaseDraft     `json:"current_fields"`
}

// ExtractionResult is what the field extractor returns for one turn.
// UpdatedFields is kept raw so that unknown keys and null values can be
// skipped by the merge engine instead of failing the whole turn.
// MissingFields is nil when the response did not report the key and
// empty when it reported that nothing is missing.
type ExtractionResult struct {
	UpdatedFields map[string]json.RawMessage `json:"updated_fields,omitempty"`
	MissingFields []string                   `json:"missing_fields"`
	NextQuestion  *string                    `json:"next_question,omitempty"`
	Summary       string                     `json:"summary,omitempty"`
}

// NoticeLevel classifies a user-visible notice
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a short user-visible message (toast)
type Notice struct {
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}
