package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"caseintake-backend/ai"
	"caseintake-backend/models"

	"github.com/google/uuid"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrTurnInProgress  = errors.New("a message is already being processed")
	ErrPlanInProgress  = errors.New("a case plan is already being generated")
	ErrPlannerDisabled = errors.New("case plan generator not configured")
)

// ReadyMessage is appended when the extractor reports nothing missing and
// has no further question
const ReadyMessage = "I have everything I need. You can generate the case plan now."

const maxNotices = 50

// SessionState is the position of a chat session in the intake loop
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateSending       SessionState = "sending"
	StateAppliedUpdate SessionState = "applied_update"
	StateNoUpdate      SessionState = "no_update"
	StateAwaitingInput SessionState = "awaiting_input"
	StateReadyForPlan  SessionState = "ready_for_plan"
)

// RemoteError is a failed call to one of the AI collaborators. Message is
// short enough to show to the user.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Message returns the user-visible text for the failure
func (e *RemoteError) Message() string {
	switch {
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "The assistant took too long to answer. Please try again."
	case errors.Is(e.Err, ai.ErrMalformedResponse), errors.Is(e.Err, ai.ErrEmptyResponse):
		return "The assistant returned an unreadable answer. Please try again."
	}
	return fmt.Sprintf("The assistant is unavailable right now (%v). Please try again.", e.Err)
}

// MissingFieldsError blocks case plan generation until every required field
// has a value
type MissingFieldsError struct {
	Keys   []string
	Labels []string
}

func (e *MissingFieldsError) Error() string {
	return "Please provide: " + strings.Join(e.Labels, ", ")
}

// CasePlanStore keeps generated case plans
type CasePlanStore interface {
	Create(ctx context.Context, record *models.CasePlanRecord) error
	GetLatestByCaseID(ctx context.Context, caseID string) (*models.CasePlanRecord, error)
}

// TurnResult describes what one SendToAI call changed
type TurnResult struct {
	Applied       []string             `json:"applied"`
	Messages      []models.ChatMessage `json:"messages"`
	MissingFields []string             `json:"missing_fields"`
	State         SessionState         `json:"state"`
	Discarded     bool                 `json:"discarded"`
}

// SessionSnapshot is a read-only view of a chat session
type SessionSnapshot struct {
	CaseID        string                 `json:"case_id"`
	State         SessionState           `json:"state"`
	LastTurn      SessionState           `json:"last_turn,omitempty"`
	Draft         models.CaseDraft       `json:"draft"`
	Form          FormSnapshot           `json:"form"`
	Progress      int                    `json:"progress"`
	MissingFields []string               `json:"missing_fields"`
	MissingLabels []string               `json:"missing_labels"`
	ServerMissing []string               `json:"server_missing_fields"`
	History       []models.ChatMessage   `json:"history"`
	Plan          *models.CasePlanRecord `json:"plan,omitempty"`
	Notices       []models.Notice        `json:"notices"`
}

// ChatSession drives the conversational intake for one case: it forwards
// user turns to the field extractor, applies the returned fields through the
// merge engine and requests a case plan once the draft is complete.
type ChatSession struct {
	caseID    string
	locale    string
	timeout   time.Duration
	fields    *FieldMap
	store     *DraftStore
	form      *FormState
	merger    *MergeEngine
	extractor ai.FieldExtractor
	planner   ai.CasePlanGenerator
	provider  string
	plans     CasePlanStore

	mu            sync.Mutex
	history       []models.ChatMessage
	serverMissing []string
	state         SessionState
	lastTurn      SessionState
	seq           uint64
	inFlight      bool
	planning      bool
	plan          *models.CasePlanRecord

	noticeMu sync.Mutex
	notices  []models.Notice
}

// SessionConfig carries the collaborators of a ChatSession
type SessionConfig struct {
	Locale    string
	Timeout   time.Duration
	Fields    *FieldMap
	Store     *DraftStore
	Extractor ai.FieldExtractor
	Planner   ai.CasePlanGenerator
	Provider  string
	Plans     CasePlanStore
}

// NewChatSession creates a session over store and loads the form from the
// current draft
func NewChatSession(ctx context.Context, cfg SessionConfig) *ChatSession {
	if cfg.Fields == nil {
		cfg.Fields = DefaultFieldMap()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}

	s := &ChatSession{
		caseID:    cfg.Store.CaseID(),
		locale:    cfg.Locale,
		timeout:   cfg.Timeout,
		fields:    cfg.Fields,
		store:     cfg.Store,
		form:      NewFormState(cfg.Fields),
		extractor: cfg.Extractor,
		planner:   cfg.Planner,
		provider:  cfg.Provider,
		plans:     cfg.Plans,
		state:     StateIdle,
	}
	s.merger = NewMergeEngine(cfg.Fields, s.form, cfg.Store, s.addNotice)
	s.form.Load(cfg.Store.Read(ctx))
	return s
}

// CaseID returns the case this session belongs to
func (s *ChatSession) CaseID() string {
	return s.caseID
}

// Store returns the draft store behind the session
func (s *ChatSession) Store() *DraftStore {
	return s.store
}

// Merger returns the merge engine bound to the session form
func (s *ChatSession) Merger() *MergeEngine {
	return s.merger
}

// SendToAI runs one conversational turn. The user's text is appended to the
// history as typed before the remote call and stays there whatever the
// outcome.
func (s *ChatSession) SendToAI(ctx context.Context, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if s.extractor == nil {
		return nil, &RemoteError{Op: "field extraction", Err: errors.New("field extractor not configured")}
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	s.inFlight = true
	s.seq++
	seq := s.seq
	s.history = append(s.history, models.ChatMessage{Role: models.RoleUser, Content: text})
	s.state = StateSending
	req := models.ExtractionRequest{
		Locale:         s.locale,
		History:        append([]models.ChatMessage(nil), s.history...),
		RequiredFields: s.fields.Required(),
	}
	s.mu.Unlock()

	req.CurrentFields = s.store.Read(ctx)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	result, err := s.extractor.ExtractFields(callCtx, req)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.seq {
		// superseded by a reset while the call was outstanding
		return &TurnResult{State: s.state, Discarded: true}, nil
	}
	s.inFlight = false

	if err != nil {
		s.state = StateAwaitingInput
		remoteErr := &RemoteError{Op: "field extraction", Err: err}
		log.Printf("Warning: Intake turn for %s failed: %v", s.caseID, err)
		s.addNotice(models.Notice{Level: models.NoticeError, Message: remoteErr.Message(), CreatedAt: time.Now().UTC()})
		return nil, remoteErr
	}

	turn := &TurnResult{}
	if len(result.UpdatedFields) > 0 {
		turn.Applied = s.merger.ApplyAIFields(ctx, result.UpdatedFields)
	}
	if len(turn.Applied) > 0 {
		s.lastTurn = StateAppliedUpdate
	} else {
		s.lastTurn = StateNoUpdate
	}

	if summary := strings.TrimSpace(result.Summary); summary != "" {
		turn.Messages = append(turn.Messages, models.ChatMessage{Role: models.RoleAssistant, Content: summary})
	}

	if result.MissingFields != nil {
		s.serverMissing = append([]string{}, result.MissingFields...)
	} else {
		// not reported; judge readiness from the merged draft
		s.serverMissing = MissingFields(s.store.Read(ctx), s.fields.Required())
	}
	switch {
	case result.NextQuestion != nil && strings.TrimSpace(*result.NextQuestion) != "":
		turn.Messages = append(turn.Messages, models.ChatMessage{Role: models.RoleAssistant, Content: strings.TrimSpace(*result.NextQuestion)})
	case len(s.serverMissing) == 0:
		turn.Messages = append(turn.Messages, models.ChatMessage{Role: models.RoleAssistant, Content: ReadyMessage})
	}
	s.state = StateAwaitingInput
	if len(s.serverMissing) == 0 {
		s.state = StateReadyForPlan
	}

	s.history = append(s.history, turn.Messages...)
	turn.MissingFields = append([]string{}, s.serverMissing...)
	turn.State = s.state
	return turn, nil
}

// GenerateCase requests a case plan for the current draft. It refuses
// without a network call while any required field is empty and never
// changes the draft.
func (s *ChatSession) GenerateCase(ctx context.Context) (*models.CasePlanRecord, error) {
	draft := s.store.Read(ctx)
	missing := MissingFields(draft, s.fields.Required())
	if len(missing) > 0 {
		missingErr := &MissingFieldsError{Keys: missing, Labels: s.fields.Labels(missing)}
		s.addNotice(models.Notice{Level: models.NoticeWarning, Message: missingErr.Error(), CreatedAt: time.Now().UTC()})
		return nil, missingErr
	}
	if s.planner == nil {
		return nil, ErrPlannerDisabled
	}

	s.mu.Lock()
	if s.planning {
		s.mu.Unlock()
		return nil, ErrPlanInProgress
	}
	s.planning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.planning = false
		s.mu.Unlock()
	}()

	if err := s.store.Flush(ctx); err != nil {
		log.Printf("Warning: Draft %s not saved before plan generation: %v", s.caseID, err)
	}

	req := models.CasePlanRequest{
		Locale:       s.locale,
		Summary:      draft.Summary,
		Goal:         draft.Goal,
		Jurisdiction: draft.Jurisdiction,
		Category:     draft.Category,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	plan, err := s.planner.GenerateCasePlan(callCtx, req)
	cancel()
	if err != nil {
		remoteErr := &RemoteError{Op: "case plan generation", Err: err}
		log.Printf("Warning: Case plan for %s failed: %v", s.caseID, err)
		s.addNotice(models.Notice{Level: models.NoticeError, Message: remoteErr.Message(), CreatedAt: time.Now().UTC()})
		return nil, remoteErr
	}

	record := &models.CasePlanRecord{
		ID:        uuid.New(),
		CaseID:    s.caseID,
		Plan:      *plan,
		Provider:  s.provider,
		CreatedAt: time.Now().UTC(),
	}
	if s.plans != nil {
		if err := s.plans.Create(ctx, record); err != nil {
			log.Printf("Warning: Failed to store case plan for %s: %v", s.caseID, err)
		}
	}

	s.mu.Lock()
	s.plan = record
	s.mu.Unlock()
	s.addNotice(models.Notice{Level: models.NoticeSuccess, Message: "Case plan ready", CreatedAt: time.Now().UTC()})
	return record, nil
}

// LatestPlan returns the plan generated in this session, falling back to the
// most recent stored plan for the case
func (s *ChatSession) LatestPlan(ctx context.Context) (*models.CasePlanRecord, error) {
	s.mu.Lock()
	plan := s.plan
	s.mu.Unlock()
	if plan != nil {
		return plan, nil
	}
	if s.plans == nil {
		return nil, nil
	}
	return s.plans.GetLatestByCaseID(ctx, s.caseID)
}

// Reset clears the draft, the form and the conversation. A turn still in
// flight is discarded when it returns.
func (s *ChatSession) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.inFlight = false
	s.history = nil
	s.serverMissing = nil
	s.plan = nil
	s.state = StateIdle
	s.lastTurn = ""
	s.store.Reset(ctx)
	s.form.Load(models.CaseDraft{})
}

// Snapshot returns the session state together with the derived progress
func (s *ChatSession) Snapshot(ctx context.Context) SessionSnapshot {
	draft := s.store.Read(ctx)
	required := s.fields.Required()
	missing := MissingFields(draft, required)

	s.mu.Lock()
	snap := SessionSnapshot{
		CaseID:        s.caseID,
		State:         s.state,
		LastTurn:      s.lastTurn,
		Draft:         draft,
		Form:          s.form.Snapshot(),
		Progress:      CalculateProgress(draft, required),
		MissingFields: missing,
		MissingLabels: s.fields.Labels(missing),
		ServerMissing: append([]string{}, s.serverMissing...),
		History:       append([]models.ChatMessage{}, s.history...),
		Plan:          s.plan,
	}
	s.mu.Unlock()

	snap.Notices = s.Notices()
	return snap
}

// History returns a copy of the conversation so far
func (s *ChatSession) History() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage{}, s.history...)
}

// State returns the current session state
func (s *ChatSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// busy reports whether a remote call is outstanding or a client is
// watching the draft
func (s *ChatSession) busy() bool {
	s.mu.Lock()
	busy := s.inFlight || s.planning
	s.mu.Unlock()
	return busy || s.store.observerCount() > 0
}

// Notices returns the most recent user-visible notices, oldest first
func (s *ChatSession) Notices() []models.Notice {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	return append([]models.Notice{}, s.notices...)
}

func (s *ChatSession) addNotice(n models.Notice) {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	s.notices = append(s.notices, n)
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
}
