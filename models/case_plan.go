package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CasePlanRequest carries the finished draft fields the plan is built from
type CasePlanRequest struct {
	Locale       string `json:"-"`
	Summary      string `json:"summary"`
	Goal         string `json:"goal"`
	Jurisdiction string `json:"jurisdiction"`
	Category     string `json:"category"`
}

// IRAC is the issue/rule/application/conclusion analysis of a case
type IRAC struct {
	Issue       string `json:"issue"`
	Rule        string `json:"rule"`
	Application string `json:"application"`
	Conclusion  string `json:"conclusion"`
}

// EvidenceChecklistItem is one piece of evidence the plan asks for
type EvidenceChecklistItem struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Notes    string `json:"notes,omitempty"`
}

// Milestone is a dated step in the case timeline
type Milestone struct {
	Milestone string `json:"milestone"`
	DueInDays int    `json:"due_in_days"`
}

// CasePlan is the structured plan produced once intake is complete
type CasePlan struct {
	IRAC              IRAC                    `json:"irac"`
	EvidenceChecklist []EvidenceChecklistItem `json:"evidence_checklist"`
	Timeline          []Milestone             `json:"timeline"`
	Risks             []string                `json:"risks"`
}

// Value implements driver.Valuer for JSONB
func (p CasePlan) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB
func (p *CasePlan) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	if len(bytes) == 0 {
		return nil
	}

	return json.Unmarshal(bytes, p)
}

// CasePlanRecord is a stored case plan
type CasePlanRecord struct {
	ID        uuid.UUID `json:"id"`
	CaseID    string    `json:"case_id"`
	Plan      CasePlan  `json:"plan"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}
