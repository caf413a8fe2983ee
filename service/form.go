package service

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"caseintake-backend/models"

	"github.com/go-playground/validator/v10"
)

// SetOptions controls the side effects of FormState.SetValue
type SetOptions struct {
	Dirty    bool
	Touched  bool
	Validate bool
}

// FormSnapshot is a copy of the form state for rendering
type FormSnapshot struct {
	Values  map[string]string `json:"values"`
	Dirty   []string          `json:"dirty"`
	Touched []string          `json:"touched"`
	Errors  map[string]string `json:"errors"`
}

// FormState holds the display values of the intake form together with the
// set of fields the user has edited (dirty) or visited (touched)
type FormState struct {
	fields   *FieldMap
	validate *validator.Validate

	mu      sync.Mutex
	values  map[string]string
	dirty   map[string]bool
	touched map[string]bool
	errors  map[string]string
}

// NewFormState creates an empty form for the given vocabulary
func NewFormState(fields *FieldMap) *FormState {
	return &FormState{
		fields:   fields,
		validate: validator.New(),
		values:   make(map[string]string),
		dirty:    make(map[string]bool),
		touched:  make(map[string]bool),
		errors:   make(map[string]string),
	}
}

// Load fills the form from draft and clears dirty and touched state
func (f *FormState) Load(draft models.CaseDraft) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = make(map[string]string)
	f.dirty = make(map[string]bool)
	f.touched = make(map[string]bool)
	f.errors = make(map[string]string)
	for _, m := range f.fields.Fields() {
		f.values[m.FormPath] = m.Display(draft.FieldValue(m.Key))
	}
}

// SetValue writes a display value into path
func (f *FormState) SetValue(path, value string, opts SetOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[path] = value
	if opts.Dirty {
		f.dirty[path] = true
	}
	if opts.Touched {
		f.touched[path] = true
	}
	if opts.Validate {
		f.validateLocked(path)
	}
}

// Value returns the display value at path
func (f *FormState) Value(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[path]
}

// IsDirty reports whether the user has edited path since the form loaded
func (f *FormState) IsDirty(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty[path]
}

// IsTouched reports whether path has been touched since the form loaded
func (f *FormState) IsTouched(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touched[path]
}

// Error returns the current validation message for path, if any
func (f *FormState) Error(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errors[path]
}

// ValidateAll runs every field rule and returns the number of failures
func (f *FormState) ValidateAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.fields.Fields() {
		f.validateLocked(m.FormPath)
	}
	return len(f.errors)
}

// Snapshot returns a copy of the form state
func (f *FormState) Snapshot() FormSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := FormSnapshot{
		Values:  make(map[string]string, len(f.values)),
		Dirty:   sortedKeys(f.dirty),
		Touched: sortedKeys(f.touched),
		Errors:  make(map[string]string, len(f.errors)),
	}
	for k, v := range f.values {
		snap.Values[k] = v
	}
	for k, v := range f.errors {
		snap.Errors[k] = v
	}
	return snap
}

func (f *FormState) validateLocked(path string) {
	m, ok := f.fields.LookupPath(path)
	if !ok || m.Rule == "" {
		delete(f.errors, path)
		return
	}
	err := f.validate.Var(f.values[path], m.Rule)
	if err == nil {
		delete(f.errors, path)
		return
	}
	f.errors[path] = validationMessage(m.Label, err)
}

func validationMessage(label string, err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("%s is invalid", label)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", label)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	}
	return fmt.Sprintf("%s is invalid (%s)", label, fe.Tag())
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k, v := range set {
		if v {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
