package service

import (
	"reflect"
	"testing"

	"caseintake-backend/models"
)

func TestCalculateProgress(t *testing.T) {
	required := DefaultFieldMap().Required()

	tests := []struct {
		name  string
		draft models.CaseDraft
		want  int
	}{
		{name: "empty draft", draft: models.CaseDraft{}, want: 0},
		{name: "two of seven", draft: models.CaseDraft{Jurisdiction: "Israeli Civil Court", Category: "Property"}, want: 29},
		{name: "whitespace does not count", draft: models.CaseDraft{Summary: "   \t"}, want: 0},
		{name: "empty list does not count", draft: models.CaseDraft{Parties: []models.Party{}}, want: 0},
		{name: "title is not required", draft: models.CaseDraft{Title: "Fence"}, want: 0},
		{name: "complete", draft: completeDraft(), want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateProgress(tt.draft, required); got != tt.want {
				t.Fatalf("CalculateProgress() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCalculateProgressNoRequiredFields(t *testing.T) {
	if got := CalculateProgress(models.CaseDraft{}, nil); got != 100 {
		t.Fatalf("expected 100 with no required fields, got %d", got)
	}
}

func TestCalculateProgressRoundsHalfUp(t *testing.T) {
	required := []string{"summary", "goal"}
	if got := CalculateProgress(models.CaseDraft{Summary: "s"}, required); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
	required = []string{"summary", "goal", "category", "jurisdiction", "startDate", "title", "parties", "evidence"}
	// 1/8 = 12.5
	if got := CalculateProgress(models.CaseDraft{Summary: "s"}, required); got != 13 {
		t.Fatalf("expected 13, got %d", got)
	}
}

func TestCalculateProgressMonotonic(t *testing.T) {
	required := DefaultFieldMap().Required()
	full := completeDraft()

	var draft models.CaseDraft
	prev := CalculateProgress(draft, required)
	for _, key := range required {
		var patch models.DraftPatch
		if !patch.Set(key, full.FieldValue(key)) {
			t.Fatalf("cannot set %s", key)
		}
		draft = patch.ApplyTo(draft)
		got := CalculateProgress(draft, required)
		if got < prev || got < 0 || got > 100 {
			t.Fatalf("progress went from %d to %d after filling %s", prev, got, key)
		}
		prev = got
	}
	if prev != 100 {
		t.Fatalf("expected 100 after filling every field, got %d", prev)
	}

	for _, key := range required {
		var patch models.DraftPatch
		patch.Set(key, emptyValue(mustLookup(t, DefaultFieldMap(), key).Kind))
		draft = patch.ApplyTo(draft)
		got := CalculateProgress(draft, required)
		if got > prev {
			t.Fatalf("progress went from %d to %d after clearing %s", prev, got, key)
		}
		prev = got
	}
	if prev != 0 {
		t.Fatalf("expected 0 after clearing every field, got %d", prev)
	}
}

func TestMissingFieldsKeepsDeclaredOrder(t *testing.T) {
	fields := DefaultFieldMap()
	draft := models.CaseDraft{Jurisdiction: "Israeli Civil Court", Category: "Property"}

	want := []string{"summary", "goal", "parties", "evidence", "startDate"}
	if got := MissingFields(draft, fields.Required()); !reflect.DeepEqual(got, want) {
		t.Fatalf("MissingFields() = %v, want %v", got, want)
	}
	if got := MissingFields(completeDraft(), fields.Required()); len(got) != 0 {
		t.Fatalf("expected no missing fields, got %v", got)
	}
}

func TestMissingLabels(t *testing.T) {
	draft := completeDraft()
	draft.Parties = []models.Party{}
	if got := MissingLabels(draft, DefaultFieldMap()); !reflect.DeepEqual(got, []string{"Parties"}) {
		t.Fatalf("MissingLabels() = %v, want [Parties]", got)
	}
}

func mustLookup(t *testing.T, m *FieldMap, key string) FieldMapping {
	t.Helper()
	f, ok := m.Lookup(key)
	if !ok {
		t.Fatalf("no mapping for %s", key)
	}
	return f
}
