package service

import (
	"math"
	"strings"

	"caseintake-backend/models"
)

// CalculateProgress returns the share of required fields that are complete,
// as an integer percentage rounded half up. With no required fields the
// draft is considered complete (100).
func CalculateProgress(draft models.CaseDraft, required []string) int {
	if len(required) == 0 {
		return 100
	}
	done := 0
	for _, key := range required {
		if isFieldComplete(draft.FieldValue(key)) {
			done++
		}
	}
	return int(math.Floor(100*float64(done)/float64(len(required)) + 0.5))
}

// MissingFields returns the required keys that are not complete, in the
// order they were declared
func MissingFields(draft models.CaseDraft, required []string) []string {
	missing := make([]string, 0, len(required))
	for _, key := range required {
		if !isFieldComplete(draft.FieldValue(key)) {
			missing = append(missing, key)
		}
	}
	return missing
}

// MissingLabels returns the labels of the required fields that are not
// complete, for messages such as "Please provide: Goal, Parties"
func MissingLabels(draft models.CaseDraft, fields *FieldMap) []string {
	return fields.Labels(MissingFields(draft, fields.Required()))
}

func isFieldComplete(value interface{}) bool {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) != ""
	case []models.Party:
		return len(v) > 0
	case []models.Evidence:
		return len(v) > 0
	}
	return false
}
