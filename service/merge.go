package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"caseintake-backend/models"
)

var (
	ErrUnknownField      = errors.New("unknown field")
	ErrInvalidFieldValue = errors.New("invalid field value")
)

// MergeEngine reconciles AI-proposed field values with the form and the
// draft store. Fields the user has edited are never overwritten by a bulk
// AI merge.
type MergeEngine struct {
	fields *FieldMap
	form   *FormState
	store  *DraftStore
	notify func(models.Notice)

	// mu keeps the dirty check and the write of one call together
	mu sync.Mutex
}

// NewMergeEngine wires a merge engine. notify receives user-visible
// confirmations and may be nil.
func NewMergeEngine(fields *FieldMap, form *FormState, store *DraftStore, notify func(models.Notice)) *MergeEngine {
	if notify == nil {
		notify = func(models.Notice) {}
	}
	return &MergeEngine{fields: fields, form: form, store: store, notify: notify}
}

// ApplyAIFields writes every recognized, non-null, non-dirty field of
// proposed into the form (without marking it dirty or touched, but
// validating it) and merges the structured values into the draft store.
// It returns the keys that were applied, in vocabulary order.
func (e *MergeEngine) ApplyAIFields(ctx context.Context, proposed map[string]json.RawMessage) []string {
	applied := make([]string, 0, len(proposed))
	if len(proposed) == 0 {
		return applied
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var patch models.DraftPatch
	for _, m := range e.fields.Fields() {
		raw, ok := proposed[m.Key]
		if !ok {
			continue
		}
		value, present, err := m.Decode(raw)
		if err != nil {
			log.Printf("Warning: Skipping AI field %s: %v", m.Key, err)
			continue
		}
		if !present {
			continue
		}
		if e.form.IsDirty(m.FormPath) {
			continue
		}
		if !patch.Set(m.Key, value) {
			continue
		}
		e.form.SetValue(m.FormPath, m.Display(value), SetOptions{Validate: true})
		applied = append(applied, m.Key)
	}

	if !patch.IsEmpty() {
		e.store.Merge(ctx, patch)
	}
	return applied
}

// ApplyOneField applies a single suggestion chosen by the user. The value
// overwrites any earlier edit and the field becomes dirty and touched.
func (e *MergeEngine) ApplyOneField(ctx context.Context, key string, raw json.RawMessage) error {
	m, err := e.setUserValue(ctx, key, raw)
	if err != nil {
		return err
	}
	e.notify(models.Notice{
		Level:     models.NoticeSuccess,
		Message:   fmt.Sprintf("%s updated", m.Label),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// EditField records a direct manual edit by the user
func (e *MergeEngine) EditField(ctx context.Context, key string, raw json.RawMessage) error {
	_, err := e.setUserValue(ctx, key, raw)
	return err
}

// AppendEvidence adds items to the draft's evidence list as a user edit.
// The read and the write happen under the engine lock so concurrent
// appends and AI merges never drop an item.
func (e *MergeEngine) AppendEvidence(ctx context.Context, items ...models.Evidence) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.fields.Lookup("evidence")
	if !ok || m.Kind != KindEvidence {
		return fmt.Errorf("%w: evidence", ErrUnknownField)
	}

	current := e.store.Read(ctx).Evidence
	evidence := make([]models.Evidence, 0, len(current)+len(items))
	evidence = append(evidence, current...)
	evidence = append(evidence, items...)

	var patch models.DraftPatch
	patch.Set(m.Key, evidence)
	e.form.SetValue(m.FormPath, m.Display(evidence), SetOptions{Dirty: true, Touched: true, Validate: true})
	e.store.Merge(ctx, patch)
	return nil
}

func (e *MergeEngine) setUserValue(ctx context.Context, key string, raw json.RawMessage) (FieldMapping, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.fields.Lookup(key)
	if !ok {
		m, ok = e.fields.LookupPath(key)
	}
	if !ok {
		return FieldMapping{}, fmt.Errorf("%w: %s", ErrUnknownField, key)
	}

	value, present, err := m.Decode(raw)
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidFieldValue, err)
	}
	if !present {
		// an explicit null from the user clears the field
		value = emptyValue(m.Kind)
	}

	var patch models.DraftPatch
	if !patch.Set(m.Key, value) {
		return m, fmt.Errorf("%w: %s", ErrInvalidFieldValue, key)
	}
	e.form.SetValue(m.FormPath, m.Display(value), SetOptions{Dirty: true, Touched: true, Validate: true})
	e.store.Merge(ctx, patch)
	return m, nil
}

func emptyValue(kind FieldKind) interface{} {
	switch kind {
	case KindParties:
		return []models.Party{}
	case KindEvidence:
		return []models.Evidence{}
	}
	return ""
}
