package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"caseintake-backend/models"
)

func TestIntakeServiceSessionPerCase(t *testing.T) {
	ctx := context.Background()
	persister := newMemoryPersister()
	persister.records["case-2"] = &models.DraftRecord{CaseID: "case-2", Data: models.CaseDraft{Goal: "Refund"}}

	svc := NewIntakeService(
		IntakeWithDraftPersister(persister),
		IntakeWithExtractor(extractorReturning(&models.ExtractionResult{}, nil)),
		IntakeWithLocale("he"),
	)

	a, err := svc.Session(ctx, "case-1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	again, _ := svc.Session(ctx, "case-1")
	if a != again {
		t.Fatalf("expected the same session for the same case id")
	}

	b, err := svc.Session(ctx, "case-2")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if got := b.Snapshot(ctx); got.Draft.Goal != "Refund" || got.Form.Values["goal"] != "Refund" {
		t.Fatalf("expected persisted draft to load into the form, got %+v", got)
	}
	if !reflect.DeepEqual(svc.CaseIDs(), []string{"case-1", "case-2"}) {
		t.Fatalf("unexpected case ids: %v", svc.CaseIDs())
	}
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestIntakeServiceRejectsBadCaseIDs(t *testing.T) {
	svc := NewIntakeService()
	for _, id := range []string{"", "a b", "a/b", "café"} {
		if _, err := svc.Session(context.Background(), id); !errors.Is(err, ErrInvalidCaseID) {
			t.Fatalf("expected ErrInvalidCaseID for %q, got %v", id, err)
		}
	}
}

func TestIntakeServiceWithoutPlanner(t *testing.T) {
	ctx := context.Background()
	svc := NewIntakeService()
	session, err := svc.Session(ctx, models.DefaultCaseID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	full := completeDraft()
	patch := models.DraftPatch{}
	for _, m := range svc.Fields().Fields() {
		patch.Set(m.Key, full.FieldValue(m.Key))
	}
	session.Store().Merge(ctx, patch)

	if _, err := session.GenerateCase(ctx); !errors.Is(err, ErrPlannerDisabled) {
		t.Fatalf("expected ErrPlannerDisabled, got %v", err)
	}
	var remoteErr *RemoteError
	if _, err := session.SendToAI(ctx, "hello"); !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError without an extractor, got %v", err)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestIntakeServiceEvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	persister := newMemoryPersister()
	svc := NewIntakeService(
		IntakeWithDraftPersister(persister),
		IntakeWithAutosaveInterval(time.Hour),
		IntakeWithSessionLimits(0, time.Minute),
	)
	svc.now = clock.Now

	first, err := svc.Session(ctx, "case-1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := first.Merger().EditField(ctx, "goal", rawJSON(t, "Compensation")); err != nil {
		t.Fatalf("edit: %v", err)
	}

	if n := svc.EvictIdle(ctx); n != 0 {
		t.Fatalf("expected no eviction before the idle TTL, got %d", n)
	}
	clock.Advance(2 * time.Minute)
	if n := svc.EvictIdle(ctx); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if ids := svc.CaseIDs(); len(ids) != 0 {
		t.Fatalf("expected no live sessions, got %v", ids)
	}
	if stored, ok := persister.stored("case-1"); !ok || stored.Goal != "Compensation" {
		t.Fatalf("evicted draft was not flushed: %+v", stored)
	}

	again, err := svc.Session(ctx, "case-1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if again == first {
		t.Fatalf("expected a fresh session after eviction")
	}
	if got := again.Store().Read(ctx).Goal; got != "Compensation" {
		t.Fatalf("expected the flushed draft to reload, got %q", got)
	}
}

func TestIntakeServiceKeepsWatchedSessions(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewIntakeService(IntakeWithSessionLimits(0, time.Minute))
	svc.now = clock.Now

	session, err := svc.Session(ctx, "case-1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	id := session.Store().Subscribe(func(string, models.CaseDraft) {})

	clock.Advance(time.Hour)
	if n := svc.EvictIdle(ctx); n != 0 {
		t.Fatalf("a watched session must not be evicted, got %d", n)
	}

	session.Store().Unsubscribe(id)
	if n := svc.EvictIdle(ctx); n != 1 {
		t.Fatalf("expected eviction once unwatched, got %d", n)
	}
}

func TestIntakeServiceBoundsLiveSessions(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewIntakeService(IntakeWithSessionLimits(2, 0))
	svc.now = clock.Now

	for _, id := range []string{"case-1", "case-2", "case-3"} {
		if _, err := svc.Session(ctx, id); err != nil {
			t.Fatalf("session %s: %v", id, err)
		}
		clock.Advance(time.Second)
	}
	if !reflect.DeepEqual(svc.CaseIDs(), []string{"case-2", "case-3"}) {
		t.Fatalf("expected the least recently used session to go, got %v", svc.CaseIDs())
	}
}

type slowPersister struct {
	*memoryPersister
	slowID  string
	started chan struct{}
	release chan struct{}
}

func (p *slowPersister) GetByCaseID(ctx context.Context, caseID string) (*models.DraftRecord, error) {
	if caseID == p.slowID {
		close(p.started)
		<-p.release
	}
	return p.memoryPersister.GetByCaseID(ctx, caseID)
}

func TestIntakeServiceLoadsDraftsOutsideRegistryLock(t *testing.T) {
	ctx := context.Background()
	persister := &slowPersister{
		memoryPersister: newMemoryPersister(),
		slowID:          "case-slow",
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	svc := NewIntakeService(IntakeWithDraftPersister(persister))

	slow := make(chan *ChatSession, 2)
	go func() {
		session, _ := svc.Session(ctx, "case-slow")
		slow <- session
	}()
	<-persister.started

	// a second caller for the same case waits for the same load
	go func() {
		session, _ := svc.Session(ctx, "case-slow")
		slow <- session
	}()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Session(ctx, "case-fast")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("session: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("a slow draft load blocked another case")
	}

	close(persister.release)
	a, b := <-slow, <-slow
	if a == nil || a != b {
		t.Fatalf("expected both callers to share one session, got %p and %p", a, b)
	}
}
