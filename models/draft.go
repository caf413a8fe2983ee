package models

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"
)

// DefaultCaseID is the draft key used for anonymous or brand new intake
const DefaultCaseID = "draft"

// Party represents a person or organisation involved in the case
type Party struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// UnmarshalJSON accepts either an object or a "role:name" string
func (p *Party) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		role, name, found := strings.Cut(s, ":")
		if !found {
			*p = Party{Name: strings.TrimSpace(s)}
			return nil
		}
		*p = Party{Role: strings.TrimSpace(role), Name: strings.TrimSpace(name)}
		return nil
	}

	type party Party
	var raw party
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Party(raw)
	return nil
}

// Evidence represents a piece of evidence attached to the draft
type Evidence struct {
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Category string `json:"category,omitempty"`
}

// UnmarshalJSON accepts either an object or a bare title string
func (e *Evidence) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = Evidence{Title: strings.TrimSpace(s)}
		return nil
	}

	type evidence Evidence
	var raw evidence
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Evidence(raw)
	return nil
}

// CaseDraft is the intake record under construction
type CaseDraft struct {
	Title        string     `json:"title,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Jurisdiction string     `json:"jurisdiction,omitempty"`
	Category     string     `json:"category,omitempty"`
	Goal         string     `json:"goal,omitempty"`
	Parties      []Party    `json:"parties,omitempty"`
	Evidence     []Evidence `json:"evidence,omitempty"`
	StartDate    string     `json:"startDate,omitempty"`
}

// Value implements driver.Valuer for JSONB
func (d CaseDraft) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB
func (d *CaseDraft) Scan(value interface{}) error {
	if value == nil {
		*d = CaseDraft{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*d = CaseDraft{}
		return nil
	}

	if len(bytes) == 0 {
		*d = CaseDraft{}
		return nil
	}

	return json.Unmarshal(bytes, d)
}

// FieldValue returns the value stored under an extraction key.
// Unknown keys return nil.
func (d CaseDraft) FieldValue(key string) interface{} {
	switch key {
	case "title":
		return d.Title
	case "summary":
		return d.Summary
	case "jurisdiction":
		return d.Jurisdiction
	case "category":
		return d.Category
	case "goal":
		return d.Goal
	case "parties":
		return d.Parties
	case "evidence":
		return d.Evidence
	case "startDate":
		return d.StartDate
	}
	return nil
}

// Clone returns a deep copy so observers never share slices with the store
func (d CaseDraft) Clone() CaseDraft {
	out := d
	if d.Parties != nil {
		out.Parties = append([]Party(nil), d.Parties...)
	}
	if d.Evidence != nil {
		out.Evidence = append([]Evidence(nil), d.Evidence...)
	}
	return out
}

// DraftPatch is a partial CaseDraft. A nil field is not part of the patch.
type DraftPatch struct {
	Title        *string     `json:"title,omitempty"`
	Summary      *string     `json:"summary,omitempty"`
	Jurisdiction *string     `json:"jurisdiction,omitempty"`
	Category     *string     `json:"category,omitempty"`
	Goal         *string     `json:"goal,omitempty"`
	Parties      *[]Party    `json:"parties,omitempty"`
	Evidence     *[]Evidence `json:"evidence,omitempty"`
	StartDate    *string     `json:"startDate,omitempty"`
}

// IsEmpty reports whether the patch carries no fields
func (p DraftPatch) IsEmpty() bool {
	return p.Title == nil && p.Summary == nil && p.Jurisdiction == nil &&
		p.Category == nil && p.Goal == nil && p.Parties == nil &&
		p.Evidence == nil && p.StartDate == nil
}

// ApplyTo shallow-merges the patch onto draft, field by field
func (p DraftPatch) ApplyTo(draft CaseDraft) CaseDraft {
	out := draft.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Summary != nil {
		out.Summary = *p.Summary
	}
	if p.Jurisdiction != nil {
		out.Jurisdiction = *p.Jurisdiction
	}
	if p.Category != nil {
		out.Category = *p.Category
	}
	if p.Goal != nil {
		out.Goal = *p.Goal
	}
	if p.Parties != nil {
		out.Parties = append([]Party(nil), (*p.Parties)...)
	}
	if p.Evidence != nil {
		out.Evidence = append([]Evidence(nil), (*p.Evidence)...)
	}
	if p.StartDate != nil {
		out.StartDate = *p.StartDate
	}
	return out
}

// DraftRecord is the persisted shape of a draft keyed by case id
type DraftRecord struct {
	CaseID    string    `json:"case_id"`
	Data      CaseDraft `json:"data"`
	Digest    string    `json:"digest,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Set assigns value to the patch field named by key. It reports false when
// the key is unknown or the value has the wrong type for that field.
func (p *DraftPatch) Set(key string, value interface{}) bool {
	switch key {
	case "parties":
		v, ok := value.([]Party)
		if ok {
			p.Parties = &v
		}
		return ok
	case "evidence":
		v, ok := value.([]Evidence)
		if ok {
			p.Evidence = &v
		}
		return ok
	}

	s, ok := value.(string)
	if !ok {
		return false
	}
	switch key {
	case "title":
		p.Title = &s
	case "summary":
		p.Summary = &s
	case "jurisdiction":
		p.Jurisdiction = &s
	case "category":
		p.Category = &s
	case "goal":
		p.Goal = &s
	case "startDate":
		p.StartDate = &s
	default:
		return false
	}
	return true
}
