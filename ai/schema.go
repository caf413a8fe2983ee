package ai

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"caseintake-backend/models"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemaOnce       sync.Once
	extractionSchema *jsonschema.Schema
	casePlanSchema   *jsonschema.Schema
	schemaErr        error
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		extractionSchema, schemaErr = compileSchema("schemas/extraction.schema.json")
		if schemaErr != nil {
			return
		}
		casePlanSchema, schemaErr = compileSchema("schemas/case_plan.schema.json")
	})
	return schemaErr
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// ParseExtraction decodes a field extractor response. Output that is not
// JSON is an error. Output that is JSON but does not match the expected
// shape keeps next_question and summary and drops updated_fields, so the
// turn becomes a no-update turn instead of a failure.
func ParseExtraction(data []byte) (*models.ExtractionResult, error) {
	data = stripCodeFence(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: not JSON", ErrMalformedResponse)
	}
	if err := loadSchemas(); err != nil {
		return nil, err
	}

	result := extractionSchema.ValidateJSON(data)
	if result.IsValid() {
		var out models.ExtractionResult
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return &out, nil
	}

	log.Printf("Warning: Extraction response failed schema validation: %v", result.Errors)
	return lenientExtraction(data)
}

func lenientExtraction(data []byte) (*models.ExtractionResult, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	out := &models.ExtractionResult{}
	if q, ok := raw["next_question"]; ok {
		var s string
		if json.Unmarshal(q, &s) == nil {
			out.NextQuestion = &s
		}
	}
	if s, ok := raw["summary"]; ok {
		_ = json.Unmarshal(s, &out.Summary)
	}
	if m, ok := raw["missing_fields"]; ok {
		var missing []string
		if json.Unmarshal(m, &missing) == nil {
			out.MissingFields = missing
		}
	}
	return out, nil
}

// ParseCasePlan decodes and validates a case plan response
func ParseCasePlan(data []byte) (*models.CasePlan, error) {
	data = stripCodeFence(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: not JSON", ErrMalformedResponse)
	}
	if err := loadSchemas(); err != nil {
		return nil, err
	}

	result := casePlanSchema.ValidateJSON(data)
	if !result.IsValid() {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, result.Errors)
	}

	var plan models.CasePlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &plan, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block if present
func stripCodeFence(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return trimmed
	}
	trimmed = bytes.TrimPrefix(trimmed, []byte("```"))
	if nl := bytes.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	trimmed = bytes.TrimSuffix(bytes.TrimSpace(trimmed), []byte("```"))
	return bytes.TrimSpace(trimmed)
}
