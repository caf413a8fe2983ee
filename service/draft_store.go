package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"caseintake-backend/models"
	"caseintake-backend/repository"
)

// DraftPersister is the durable key-value collaborator behind a DraftStore
type DraftPersister interface {
	GetByCaseID(ctx context.Context, caseID string) (*models.DraftRecord, error)
	Upsert(ctx context.Context, record *models.DraftRecord) error
}

// DraftObserver is notified synchronously after every change to a draft.
// Observers must not call Merge or Reset on the same store.
type DraftObserver func(caseID string, draft models.CaseDraft)

// DraftStore holds the single live draft for one case id. Every mutation is
// broadcast to observers and written through to the persister after a
// debounce interval.
type DraftStore struct {
	caseID    string
	persister DraftPersister
	timeout   time.Duration
	autosave  *Debouncer

	// writeMu serializes mutations so observers see changes in order
	writeMu sync.Mutex

	mu              sync.RWMutex
	draft           models.CaseDraft
	loaded          bool
	persistedDigest string
	lastSaveErr     error

	obsMu        sync.Mutex
	observers    map[int]DraftObserver
	nextObserver int
}

// DraftStoreOption is a functional option for DraftStore
type DraftStoreOption func(*DraftStore)

// DraftStoreWithAutosaveInterval sets the debounce interval for writes
func DraftStoreWithAutosaveInterval(d time.Duration) DraftStoreOption {
	return func(s *DraftStore) {
		s.autosave = NewDebouncer(d, s.persist)
	}
}

// DraftStoreWithTimeout bounds each persistence call
func DraftStoreWithTimeout(d time.Duration) DraftStoreOption {
	return func(s *DraftStore) {
		s.timeout = d
	}
}

// NewDraftStore creates a store for caseID. A nil persister keeps the draft
// in memory only.
func NewDraftStore(caseID string, persister DraftPersister, opts ...DraftStoreOption) *DraftStore {
	if caseID == "" {
		caseID = models.DefaultCaseID
	}
	s := &DraftStore{
		caseID:    caseID,
		persister: persister,
		timeout:   10 * time.Second,
		observers: make(map[int]DraftObserver),
	}
	s.autosave = NewDebouncer(0, s.persist)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CaseID returns the key this store persists under
func (s *DraftStore) CaseID() string {
	return s.caseID
}

// Read returns the current draft, loading it on first access. It never
// fails: a missing or unreadable record yields an empty draft.
func (s *DraftStore) Read(ctx context.Context) models.CaseDraft {
	s.ensureLoaded(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft.Clone()
}

// Merge applies patch onto the current draft field by field, notifies
// observers and schedules a write. It returns the new draft.
func (s *DraftStore) Merge(ctx context.Context, patch models.DraftPatch) models.CaseDraft {
	s.ensureLoaded(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.draft = patch.ApplyTo(s.draft)
	next := s.draft.Clone()
	s.mu.Unlock()

	s.notify(next)
	s.autosave.Trigger()
	return next
}

// Reset clears the draft to empty and schedules a write
func (s *DraftStore) Reset(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.draft = models.CaseDraft{}
	s.loaded = true
	s.mu.Unlock()

	s.notify(models.CaseDraft{})
	s.autosave.Trigger()
}

// Subscribe registers an observer and returns its id for Unsubscribe
func (s *DraftStore) Subscribe(fn DraftObserver) int {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.nextObserver++
	s.observers[s.nextObserver] = fn
	return s.nextObserver
}

// Unsubscribe removes an observer. Unknown ids are ignored.
func (s *DraftStore) Unsubscribe(id int) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	delete(s.observers, id)
}

func (s *DraftStore) observerCount() int {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	return len(s.observers)
}

// Flush writes any pending change now and returns the last write error
func (s *DraftStore) Flush(ctx context.Context) error {
	s.autosave.Flush()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSaveErr
}

// Close flushes pending writes and stops autosave
func (s *DraftStore) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.autosave.Stop()
	return err
}

func (s *DraftStore) ensureLoaded(ctx context.Context) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return
	}
	s.loaded = true
	if s.persister == nil {
		return
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	record, err := s.persister.GetByCaseID(loadCtx, s.caseID)
	if err != nil {
		if !errors.Is(err, repository.ErrDraftNotFound) {
			log.Printf("Warning: Failed to load draft %s: %v. Starting with an empty draft.", s.caseID, err)
		}
		return
	}
	s.draft = record.Data
	s.persistedDigest = record.Digest
}

func (s *DraftStore) notify(draft models.CaseDraft) {
	s.obsMu.Lock()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	observers := make([]DraftObserver, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		observers = append(observers, s.observers[id])
	}
	s.obsMu.Unlock()

	for _, fn := range observers {
		fn(s.caseID, draft.Clone())
	}
}

// persist writes the current draft. It runs after the merge that triggered
// it has completed, so it always reads the latest state.
func (s *DraftStore) persist() {
	if s.persister == nil {
		return
	}

	s.mu.RLock()
	draft := s.draft.Clone()
	previous := s.persistedDigest
	s.mu.RUnlock()

	digest, err := draft.Digest()
	if err != nil {
		log.Printf("Warning: Failed to digest draft %s: %v", s.caseID, err)
	} else if digest == previous {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	record := &models.DraftRecord{
		CaseID:    s.caseID,
		Data:      draft,
		Digest:    digest,
		UpdatedAt: time.Now().UTC(),
	}
	err = s.persister.Upsert(ctx, record)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSaveErr = err
	if err != nil {
		log.Printf("Warning: Failed to save draft %s: %v. Keeping in-memory draft.", s.caseID, err)
		return
	}
	s.persistedDigest = digest
}
