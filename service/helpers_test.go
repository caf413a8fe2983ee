package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"caseintake-backend/models"
	"caseintake-backend/repository"
)

type memoryPersister struct {
	mu      sync.Mutex
	records map[string]*models.DraftRecord
	getErr  error
	putErr  error
	upserts int
}

func newMemoryPersister() *memoryPersister {
	return &memoryPersister{records: make(map[string]*models.DraftRecord)}
}

func (p *memoryPersister) GetByCaseID(ctx context.Context, caseID string) (*models.DraftRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	record, ok := p.records[caseID]
	if !ok {
		return nil, repository.ErrDraftNotFound
	}
	copied := *record
	copied.Data = record.Data.Clone()
	return &copied, nil
}

func (p *memoryPersister) Upsert(ctx context.Context, record *models.DraftRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upserts++
	if p.putErr != nil {
		return p.putErr
	}
	copied := *record
	copied.Data = record.Data.Clone()
	p.records[record.CaseID] = &copied
	return nil
}

func (p *memoryPersister) upsertCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.upserts
}

func (p *memoryPersister) stored(caseID string) (models.CaseDraft, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record, ok := p.records[caseID]
	if !ok {
		return models.CaseDraft{}, false
	}
	return record.Data, true
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	last  models.ExtractionRequest
	fn    func(ctx context.Context, req models.ExtractionRequest) (*models.ExtractionResult, error)
}

func (f *fakeExtractor) ExtractFields(ctx context.Context, req models.ExtractionRequest) (*models.ExtractionResult, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePlanner struct {
	mu    sync.Mutex
	calls int
	last  models.CasePlanRequest
	plan  *models.CasePlan
	err   error
}

func (f *fakePlanner) GenerateCasePlan(ctx context.Context, req models.CasePlanRequest) (*models.CasePlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.plan, nil
}

func (f *fakePlanner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryPlanStore struct {
	mu      sync.Mutex
	records []*models.CasePlanRecord
	err     error
}

func (s *memoryPlanStore) Create(ctx context.Context, record *models.CasePlanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memoryPlanStore) GetLatestByCaseID(ctx context.Context, caseID string) (*models.CasePlanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].CaseID == caseID {
			return s.records[i], nil
		}
	}
	return nil, repository.ErrCasePlanNotFound
}

var errStorageDown = errors.New("storage down")

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %v: %v", v, err)
	}
	return data
}

func strPtr(s string) *string {
	return &s
}

func completeDraft() models.CaseDraft {
	return models.CaseDraft{
		Title:        "Fence damage",
		Summary:      "Neighbor damaged the fence",
		Jurisdiction: "Israeli Civil Court",
		Category:     "Property",
		Goal:         "Compensation for repairs",
		Parties:      []models.Party{{Role: "plaintiff", Name: "Dana"}, {Role: "defendant", Name: "Neighbor"}},
		Evidence:     []models.Evidence{{Title: "Photos"}},
		StartDate:    "2024-03-01",
	}
}

func samplePlan() *models.CasePlan {
	return &models.CasePlan{
		IRAC: models.IRAC{
			Issue:       "Liability for property damage",
			Rule:        "Tort of negligence",
			Application: "Neighbor's tree fell on the fence",
			Conclusion:  "Claim is viable",
		},
		EvidenceChecklist: []models.EvidenceChecklistItem{{Name: "Repair quote", Required: true}},
		Timeline:          []models.Milestone{{Milestone: "Demand letter", DueInDays: 14}},
		Risks:             []string{"Neighbor disputes cause"},
	}
}
