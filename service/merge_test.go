package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"caseintake-backend/models"
)

type mergeFixture struct {
	fields  *FieldMap
	form    *FormState
	store   *DraftStore
	engine  *MergeEngine
	notices []models.Notice
}

func newMergeFixture(t *testing.T) *mergeFixture {
	t.Helper()
	f := &mergeFixture{fields: DefaultFieldMap()}
	f.form = NewFormState(f.fields)
	f.store = NewDraftStore("case-1", nil)
	f.engine = NewMergeEngine(f.fields, f.form, f.store, func(n models.Notice) {
		f.notices = append(f.notices, n)
	})
	return f
}

func TestApplyAIFieldsWritesNonDirtyFields(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)

	applied := f.engine.ApplyAIFields(ctx, map[string]json.RawMessage{
		"jurisdiction": rawJSON(t, "Israeli Civil Court"),
		"category":     rawJSON(t, "Property"),
		"parties":      rawJSON(t, []models.Party{{Role: "plaintiff", Name: "Dana"}, {Role: "defendant", Name: "Neighbor"}}),
		"evidence":     rawJSON(t, []string{"Photos", "Invoice"}),
	})

	if want := []string{"jurisdiction", "category", "parties", "evidence"}; !reflect.DeepEqual(applied, want) {
		t.Fatalf("applied = %v, want %v", applied, want)
	}

	draft := f.store.Read(ctx)
	if draft.Jurisdiction != "Israeli Civil Court" || draft.Category != "Property" {
		t.Fatalf("unexpected draft: %+v", draft)
	}
	if len(draft.Parties) != 2 || draft.Parties[1].Name != "Neighbor" {
		t.Fatalf("parties should stay a list in the draft, got %+v", draft.Parties)
	}
	if got := f.form.Value("partiesText"); got != "plaintiff:Dana; defendant:Neighbor" {
		t.Fatalf("unexpected parties display: %q", got)
	}
	if got := f.form.Value("evidenceText"); got != "Photos, Invoice" {
		t.Fatalf("unexpected evidence display: %q", got)
	}

	for _, path := range []string{"jurisdiction", "category", "partiesText", "evidenceText"} {
		if f.form.IsDirty(path) || f.form.IsTouched(path) {
			t.Fatalf("bulk AI merge must not mark %s dirty or touched", path)
		}
	}
	if len(f.notices) != 0 {
		t.Fatalf("bulk AI merge should not emit notices, got %v", f.notices)
	}
}

func TestApplyAIFieldsSkipsDirtyFields(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)

	if err := f.engine.EditField(ctx, "jurisdiction", rawJSON(t, "Tel Aviv Magistrates")); err != nil {
		t.Fatalf("edit field: %v", err)
	}

	applied := f.engine.ApplyAIFields(ctx, map[string]json.RawMessage{
		"jurisdiction": rawJSON(t, "Israeli Civil Court"),
		"goal":         rawJSON(t, "Repair costs"),
	})

	if !reflect.DeepEqual(applied, []string{"goal"}) {
		t.Fatalf("applied = %v, want [goal]", applied)
	}
	draft := f.store.Read(ctx)
	if draft.Jurisdiction != "Tel Aviv Magistrates" {
		t.Fatalf("dirty field was overwritten: %q", draft.Jurisdiction)
	}
	if f.form.Value("jurisdiction") != "Tel Aviv Magistrates" {
		t.Fatalf("dirty form value was overwritten: %q", f.form.Value("jurisdiction"))
	}
	if draft.Goal != "Repair costs" {
		t.Fatalf("expected goal to be applied, got %q", draft.Goal)
	}
}

func TestApplyAIFieldsSkipsUnknownNullAndInvalid(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)
	f.store.Merge(ctx, models.DraftPatch{Summary: strPtr("kept")})

	applied := f.engine.ApplyAIFields(ctx, map[string]json.RawMessage{
		"legalCategory": rawJSON(t, "Property"),
		"summary":       json.RawMessage(`null`),
		"parties":       json.RawMessage(`{"role": 1}`),
	})
	if len(applied) != 0 {
		t.Fatalf("expected nothing applied, got %v", applied)
	}
	if got := f.store.Read(ctx); got.Summary != "kept" || got.Parties != nil {
		t.Fatalf("draft changed: %+v", got)
	}

	if got := f.engine.ApplyAIFields(ctx, nil); len(got) != 0 {
		t.Fatalf("expected nothing applied for an empty patch, got %v", got)
	}
}

func TestApplyAIFieldsValidates(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)

	f.engine.ApplyAIFields(ctx, map[string]json.RawMessage{
		"title": rawJSON(t, strings.Repeat("x", 201)),
	})
	if got := f.form.Error("title"); got != "Title must be at most 200 characters" {
		t.Fatalf("unexpected validation message: %q", got)
	}

	f.engine.ApplyAIFields(ctx, map[string]json.RawMessage{
		"title": rawJSON(t, "Fence damage"),
	})
	if got := f.form.Error("title"); got != "" {
		t.Fatalf("expected validation error to clear, got %q", got)
	}
}

func TestApplyOneFieldOverridesAndMarksDirty(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)

	f.engine.ApplyAIFields(ctx, map[string]json.RawMessage{"jurisdiction": rawJSON(t, "Israeli Civil Court")})
	if f.form.IsDirty("jurisdiction") {
		t.Fatalf("AI value should not be dirty")
	}

	if err := f.engine.ApplyOneField(ctx, "jurisdiction", rawJSON(t, "Federal Court")); err != nil {
		t.Fatalf("apply one field: %v", err)
	}
	if got := f.store.Read(ctx).Jurisdiction; got != "Federal Court" {
		t.Fatalf("expected Federal Court, got %q", got)
	}
	if !f.form.IsDirty("jurisdiction") || !f.form.IsTouched("jurisdiction") {
		t.Fatalf("single-field apply must mark the field dirty and touched")
	}
	if len(f.notices) != 1 || f.notices[0].Message != "Jurisdiction updated" || f.notices[0].Level != models.NoticeSuccess {
		t.Fatalf("unexpected notices: %+v", f.notices)
	}

	// a later bulk merge now leaves the user-confirmed value alone
	f.engine.ApplyAIFields(ctx, map[string]json.RawMessage{"jurisdiction": rawJSON(t, "District Court")})
	if got := f.store.Read(ctx).Jurisdiction; got != "Federal Court" {
		t.Fatalf("expected Federal Court to survive, got %q", got)
	}

	// the user may still override their own edit
	if err := f.engine.ApplyOneField(ctx, "jurisdiction", rawJSON(t, "District Court")); err != nil {
		t.Fatalf("apply one field: %v", err)
	}
	if got := f.store.Read(ctx).Jurisdiction; got != "District Court" {
		t.Fatalf("expected District Court, got %q", got)
	}
}

func TestEditFieldByFormPath(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)

	if err := f.engine.EditField(ctx, "partiesText", rawJSON(t, "plaintiff:Dana")); err != nil {
		t.Fatalf("edit field: %v", err)
	}
	if got := f.store.Read(ctx).Parties; len(got) != 1 || got[0].Name != "Dana" {
		t.Fatalf("unexpected parties: %+v", got)
	}
	if len(f.notices) != 0 {
		t.Fatalf("manual edits should not emit notices")
	}

	if err := f.engine.EditField(ctx, "parties", json.RawMessage(`null`)); err != nil {
		t.Fatalf("clear field: %v", err)
	}
	if got := f.store.Read(ctx).Parties; len(got) != 0 {
		t.Fatalf("expected parties cleared, got %+v", got)
	}
	if f.form.Error("partiesText") != "Parties is required" {
		t.Fatalf("unexpected validation message: %q", f.form.Error("partiesText"))
	}
}

func TestEditFieldErrors(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)

	if err := f.engine.EditField(ctx, "legalCategory", rawJSON(t, "x")); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if err := f.engine.ApplyOneField(ctx, "evidence", json.RawMessage(`{"title": 1}`)); !errors.Is(err, ErrInvalidFieldValue) {
		t.Fatalf("expected ErrInvalidFieldValue, got %v", err)
	}
	if len(f.notices) != 0 {
		t.Fatalf("failed edits should not emit notices")
	}
}

func TestAppendEvidenceConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newMergeFixture(t)
	category := map[string]json.RawMessage{"category": rawJSON(t, "Property")}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := f.engine.AppendEvidence(ctx, models.Evidence{Title: fmt.Sprintf("file-%02d", i)}); err != nil {
				t.Errorf("append: %v", err)
			}
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.ApplyAIFields(ctx, category)
		}()
	}
	wg.Wait()

	evidence := f.store.Read(ctx).Evidence
	if len(evidence) != 20 {
		t.Fatalf("expected 20 evidence items, got %d", len(evidence))
	}
	seen := make(map[string]bool)
	for _, e := range evidence {
		seen[e.Title] = true
	}
	if len(seen) != 20 {
		t.Fatalf("expected 20 distinct items, got %d", len(seen))
	}
	if !f.form.IsDirty("evidenceText") {
		t.Fatalf("appended evidence should be a user edit")
	}
}
