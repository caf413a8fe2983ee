package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"caseintake-backend/ai"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidCaseID is returned for case ids that cannot key a draft
var ErrInvalidCaseID = errors.New("invalid case id")

// IntakeService owns one ChatSession per case id
type IntakeService struct {
	drafts    DraftPersister
	plans     CasePlanStore
	extractor ai.FieldExtractor
	planner   ai.CasePlanGenerator
	provider  string
	fields    *FieldMap
	locale    string
	timeout   time.Duration
	autosave  time.Duration
	validate  *validator.Validate

	maxSessions int
	idleTTL     time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	// closing holds the case ids whose evicted draft is still being flushed
	closing map[string]chan struct{}
}

// sessionEntry is a registry slot. ready is closed once session is loaded.
type sessionEntry struct {
	ready    chan struct{}
	session  *ChatSession
	lastUsed time.Time
}

func (e *sessionEntry) loaded() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// IntakeServiceOption is a functional option for IntakeService
type IntakeServiceOption func(*IntakeService)

// IntakeWithDraftPersister sets where drafts are stored
func IntakeWithDraftPersister(p DraftPersister) IntakeServiceOption {
	return func(s *IntakeService) {
		s.drafts = p
	}
}

// IntakeWithCasePlanStore sets where generated plans are stored
func IntakeWithCasePlanStore(p CasePlanStore) IntakeServiceOption {
	return func(s *IntakeService) {
		s.plans = p
	}
}

// IntakeWithAIClient uses client as both extractor and plan generator
func IntakeWithAIClient(client ai.Client) IntakeServiceOption {
	return func(s *IntakeService) {
		s.extractor = client
		s.planner = client
		s.provider = client.Name()
	}
}

// IntakeWithExtractor sets the field extractor
func IntakeWithExtractor(e ai.FieldExtractor) IntakeServiceOption {
	return func(s *IntakeService) {
		s.extractor = e
	}
}

// IntakeWithPlanner sets the case plan generator
func IntakeWithPlanner(p ai.CasePlanGenerator, provider string) IntakeServiceOption {
	return func(s *IntakeService) {
		s.planner = p
		s.provider = provider
	}
}

// IntakeWithFieldMap sets the field vocabulary
func IntakeWithFieldMap(fields *FieldMap) IntakeServiceOption {
	return func(s *IntakeService) {
		s.fields = fields
	}
}

// IntakeWithLocale sets the locale sent to the AI collaborators
func IntakeWithLocale(locale string) IntakeServiceOption {
	return func(s *IntakeService) {
		s.locale = locale
	}
}

// IntakeWithRequestTimeout bounds every remote call
func IntakeWithRequestTimeout(d time.Duration) IntakeServiceOption {
	return func(s *IntakeService) {
		s.timeout = d
	}
}

// IntakeWithAutosaveInterval sets the draft write debounce
func IntakeWithAutosaveInterval(d time.Duration) IntakeServiceOption {
	return func(s *IntakeService) {
		s.autosave = d
	}
}

// IntakeWithSessionLimits bounds the sessions kept in memory. Sessions idle
// for longer than idleTTL, then the least recently used beyond max, are
// flushed and dropped. Zero disables either bound.
func IntakeWithSessionLimits(maxSessions int, idleTTL time.Duration) IntakeServiceOption {
	return func(s *IntakeService) {
		s.maxSessions = maxSessions
		s.idleTTL = idleTTL
	}
}

// NewIntakeService creates a new intake service
func NewIntakeService(opts ...IntakeServiceOption) *IntakeService {
	s := &IntakeService{
		locale:   "en",
		timeout:  30 * time.Second,
		validate: validator.New(),
		now:      time.Now,
		sessions: make(map[string]*sessionEntry),
		closing:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fields == nil {
		s.fields = DefaultFieldMap()
	}
	return s
}

// Fields returns the field vocabulary
func (s *IntakeService) Fields() *FieldMap {
	return s.fields
}

// Session returns the live session for caseID, creating it and loading its
// draft on first use. The draft loads outside the registry lock; concurrent
// callers for the same case wait for that load.
func (s *IntakeService) Session(ctx context.Context, caseID string) (*ChatSession, error) {
	if err := s.ValidateCaseID(caseID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if entry, ok := s.sessions[caseID]; ok {
		entry.lastUsed = s.now()
		s.mu.Unlock()
		select {
		case <-entry.ready:
			return entry.session, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	entry := &sessionEntry{ready: make(chan struct{}), lastUsed: s.now()}
	s.sessions[caseID] = entry
	pending := s.closing[caseID]
	over := s.maxSessions > 0 && len(s.sessions) > s.maxSessions
	s.mu.Unlock()

	if pending != nil {
		// an evicted copy of this case is still writing its draft
		<-pending
	}
	// the load outlives a cancelled first caller; other callers share it
	entry.session = s.newSession(context.WithoutCancel(ctx), caseID)
	close(entry.ready)

	if over {
		s.EvictIdle(context.WithoutCancel(ctx))
	}
	return entry.session, nil
}

func (s *IntakeService) newSession(ctx context.Context, caseID string) *ChatSession {
	store := NewDraftStore(caseID, s.drafts,
		DraftStoreWithAutosaveInterval(s.autosave),
		DraftStoreWithTimeout(s.timeout),
	)
	return NewChatSession(ctx, SessionConfig{
		Locale:    s.locale,
		Timeout:   s.timeout,
		Fields:    s.fields,
		Store:     store,
		Extractor: s.extractor,
		Planner:   s.planner,
		Provider:  s.provider,
		Plans:     s.plans,
	})
}

// EvictIdle flushes and drops sessions idle for longer than the idle TTL,
// then the least recently used sessions beyond the session limit. Sessions
// with a remote call in flight or an open event stream are kept. It returns
// the number of sessions dropped.
func (s *IntakeService) EvictIdle(ctx context.Context) int {
	type candidate struct {
		caseID string
		entry  *sessionEntry
	}

	now := s.now()
	s.mu.Lock()
	candidates := make([]candidate, 0, len(s.sessions))
	for id, entry := range s.sessions {
		if entry.loaded() && !entry.session.busy() {
			candidates = append(candidates, candidate{caseID: id, entry: entry})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].entry.lastUsed.Before(candidates[j].entry.lastUsed)
	})

	excess := 0
	if s.maxSessions > 0 {
		excess = len(s.sessions) - s.maxSessions
	}
	victims := make(map[string]*ChatSession)
	for _, c := range candidates {
		expired := s.idleTTL > 0 && now.Sub(c.entry.lastUsed) > s.idleTTL
		if !expired && excess <= 0 {
			continue
		}
		delete(s.sessions, c.caseID)
		s.closing[c.caseID] = make(chan struct{})
		victims[c.caseID] = c.entry.session
		excess--
	}
	if excess > 0 {
		log.Printf("Warning: %d sessions over the limit of %d are busy", excess, s.maxSessions)
	}
	s.mu.Unlock()

	for id, session := range victims {
		if err := session.Store().Close(ctx); err != nil {
			log.Printf("Warning: Failed to flush evicted draft %s: %v", id, err)
		}
		s.mu.Lock()
		close(s.closing[id])
		delete(s.closing, id)
		s.mu.Unlock()
	}
	return len(victims)
}

// RunEviction calls EvictIdle every interval until ctx is done
func (s *IntakeService) RunEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(ctx); n > 0 {
				log.Printf("Evicted %d idle intake sessions", n)
			}
		}
	}
}

// CaseIDs lists the cases with a live session
func (s *IntakeService) CaseIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close flushes every draft and stops autosave
func (s *IntakeService) Close(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*ChatSession, 0, len(s.sessions))
	for _, entry := range s.sessions {
		if entry.loaded() {
			sessions = append(sessions, entry.session)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Store().Close(ctx); err != nil {
			log.Printf("Warning: Failed to flush draft %s on shutdown: %v", session.CaseID(), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateCaseID reports ErrInvalidCaseID for ids that cannot key a draft
func (s *IntakeService) ValidateCaseID(caseID string) error {
	if err := s.validate.Var(caseID, "required,max=128,printascii"); err != nil {
		return ErrInvalidCaseID
	}
	if strings.ContainsAny(caseID, " /?#") {
		return ErrInvalidCaseID
	}
	return nil
}
