package service

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"caseintake-backend/models"

	"gopkg.in/yaml.v3"
)

//go:embed fields.yaml
var defaultFieldsYAML []byte

// FieldKind describes how an extracted value is decoded and displayed
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindParties  FieldKind = "parties"
	KindEvidence FieldKind = "evidence"
)

// FieldMapping maps one extraction key onto the draft and the form
type FieldMapping struct {
	Key      string    `yaml:"key" json:"key"`
	FormPath string    `yaml:"form_path" json:"form_path"`
	Label    string    `yaml:"label" json:"label"`
	Kind     FieldKind `yaml:"kind" json:"kind"`
	Required bool      `yaml:"required" json:"required"`
	Rule     string    `yaml:"validate" json:"validate,omitempty"`
}

// FieldMap is the static extraction-key to draft/form mapping table
type FieldMap struct {
	fields []FieldMapping
	byKey  map[string]int
	byPath map[string]int
}

type fieldMapFile struct {
	Version int            `yaml:"version"`
	Fields  []FieldMapping `yaml:"fields"`
}

var (
	ErrDuplicateField = errors.New("duplicate field mapping")
	ErrUnknownKind    = errors.New("unknown field kind")
)

// DefaultFieldMap returns the embedded vocabulary
func DefaultFieldMap() *FieldMap {
	fm, err := ParseFieldMap(defaultFieldsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded fields.yaml is invalid: %v", err))
	}
	return fm
}

// LoadFieldMap reads a vocabulary file, falling back to the embedded one
// when path is empty
func LoadFieldMap(path string) (*FieldMap, error) {
	if path == "" {
		return DefaultFieldMap(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field map: %w", err)
	}
	return ParseFieldMap(data)
}

// ParseFieldMap decodes and checks a YAML vocabulary
func ParseFieldMap(data []byte) (*FieldMap, error) {
	var file fieldMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode field map: %w", err)
	}
	return NewFieldMap(file.Fields)
}

// NewFieldMap builds a FieldMap, rejecting duplicate keys or form paths and
// keys that do not name a draft field of the declared kind
func NewFieldMap(fields []FieldMapping) (*FieldMap, error) {
	fm := &FieldMap{
		fields: make([]FieldMapping, 0, len(fields)),
		byKey:  make(map[string]int, len(fields)),
		byPath: make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Key == "" {
			return nil, errors.New("field mapping without key")
		}
		if f.FormPath == "" {
			f.FormPath = f.Key
		}
		if f.Label == "" {
			f.Label = f.Key
		}
		if f.Kind == "" {
			f.Kind = KindText
		}
		if _, ok := fm.byKey[f.Key]; ok {
			return nil, fmt.Errorf("%w: key %s", ErrDuplicateField, f.Key)
		}
		if _, ok := fm.byPath[f.FormPath]; ok {
			return nil, fmt.Errorf("%w: form path %s", ErrDuplicateField, f.FormPath)
		}
		var probe models.DraftPatch
		switch f.Kind {
		case KindText:
			if !probe.Set(f.Key, "") {
				return nil, fmt.Errorf("field %s is not a text draft field", f.Key)
			}
		case KindParties:
			if !probe.Set(f.Key, []models.Party{}) {
				return nil, fmt.Errorf("field %s is not a parties draft field", f.Key)
			}
		case KindEvidence:
			if !probe.Set(f.Key, []models.Evidence{}) {
				return nil, fmt.Errorf("field %s is not an evidence draft field", f.Key)
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownKind, f.Kind)
		}
		fm.byKey[f.Key] = len(fm.fields)
		fm.byPath[f.FormPath] = len(fm.fields)
		fm.fields = append(fm.fields, f)
	}
	return fm, nil
}

// Fields returns the mappings in declared order
func (m *FieldMap) Fields() []FieldMapping {
	return append([]FieldMapping(nil), m.fields...)
}

// Lookup returns the mapping for an extraction key
func (m *FieldMap) Lookup(key string) (FieldMapping, bool) {
	i, ok := m.byKey[key]
	if !ok {
		return FieldMapping{}, false
	}
	return m.fields[i], true
}

// LookupPath returns the mapping for a form path
func (m *FieldMap) LookupPath(path string) (FieldMapping, bool) {
	i, ok := m.byPath[path]
	if !ok {
		return FieldMapping{}, false
	}
	return m.fields[i], true
}

// Required returns the required extraction keys in declared order
func (m *FieldMap) Required() []string {
	keys := make([]string, 0, len(m.fields))
	for _, f := range m.fields {
		if f.Required {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// Labels maps keys to their human-readable labels, preserving order
func (m *FieldMap) Labels(keys []string) []string {
	labels := make([]string, 0, len(keys))
	for _, k := range keys {
		if f, ok := m.Lookup(k); ok {
			labels = append(labels, f.Label)
			continue
		}
		labels = append(labels, k)
	}
	return labels
}

// Decode converts a raw extracted value into the draft representation for
// the mapping. A JSON null decodes to (nil, false, nil).
func (f FieldMapping) Decode(raw json.RawMessage) (interface{}, bool, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, false, nil
	}
	switch f.Kind {
	case KindParties:
		var display string
		if json.Unmarshal(raw, &display) == nil {
			return ParsePartiesDisplay(display), true, nil
		}
		var parties []models.Party
		if err := json.Unmarshal(raw, &parties); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", f.Key, err)
		}
		return parties, true, nil
	case KindEvidence:
		var display string
		if json.Unmarshal(raw, &display) == nil {
			return ParseEvidenceDisplay(display), true, nil
		}
		var evidence []models.Evidence
		if err := json.Unmarshal(raw, &evidence); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", f.Key, err)
		}
		return evidence, true, nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// models sometimes answer with numbers or booleans for text fields
			var scalar interface{}
			if err2 := json.Unmarshal(raw, &scalar); err2 != nil {
				return nil, false, fmt.Errorf("decode %s: %w", f.Key, err)
			}
			switch scalar.(type) {
			case map[string]interface{}, []interface{}:
				return nil, false, fmt.Errorf("decode %s: %s is not text", f.Key, trimmed)
			}
			s = fmt.Sprint(scalar)
		}
		return s, true, nil
	}
}

// Display flattens a draft value into the string shown in the form
func (f FieldMapping) Display(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []models.Party:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, p.Role+":"+p.Name)
		}
		return strings.Join(parts, "; ")
	case []models.Evidence:
		titles := make([]string, 0, len(v))
		for _, e := range v {
			titles = append(titles, e.Title)
		}
		return strings.Join(titles, ", ")
	case nil:
		return ""
	}
	return fmt.Sprint(value)
}

// ParsePartiesDisplay reverses the "role:name; role:name" display format
func ParsePartiesDisplay(display string) []models.Party {
	parties := make([]models.Party, 0)
	for _, entry := range strings.Split(display, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		role, name, found := strings.Cut(entry, ":")
		if !found {
			parties = append(parties, models.Party{Name: entry})
			continue
		}
		parties = append(parties, models.Party{Role: strings.TrimSpace(role), Name: strings.TrimSpace(name)})
	}
	return parties
}

// ParseEvidenceDisplay reverses the comma separated evidence display format
func ParseEvidenceDisplay(display string) []models.Evidence {
	evidence := make([]models.Evidence, 0)
	for _, title := range strings.Split(display, ",") {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		evidence = append(evidence, models.Evidence{Title: title})
	}
	return evidence
}
