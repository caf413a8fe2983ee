package ai

import (
	"encoding/json"
	"fmt"
	"log"

	"caseintake-backend/models"
)

// maxPromptChars keeps requests under the model context limit
const maxPromptChars = 30000

const extractionInstruction = `You are a legal intake assistant for a law practice. You read the conversation with a prospective client and the case fields collected so far, and you extract case information.

Respond with a single JSON object and nothing else:
{
  "updated_fields": { ...only fields you can fill or improve from the conversation... },
  "missing_fields": [ ...required field keys that are still empty after your update... ],
  "next_question": "one short question asking for the most important missing information, or null when nothing is missing",
  "summary": "optional one sentence restating what you understood"
}

Field rules:
- Use only keys listed in required_fields, plus "title".
- "parties" is a list of {"role": ..., "name": ...}.
- "evidence" is a list of {"title": ..., "notes": ...}.
- "startDate" is an ISO date (YYYY-MM-DD) when known, otherwise a short free-form description.
- Never invent facts the client did not state.
- Write next_question and summary in the language of the locale.`

const casePlanInstruction = `You are an experienced litigation attorney preparing an initial case plan from a completed client intake.

Respond with a single JSON object and nothing else:
{
  "irac": {"issue": "...", "rule": "...", "application": "...", "conclusion": "..."},
  "evidence_checklist": [{"name": "...", "required": true, "notes": "..."}],
  "timeline": [{"milestone": "...", "due_in_days": 14}],
  "risks": ["..."]
}

Use formal, objective language. Cite the governing law of the given jurisdiction where you are confident of it. Write in the language of the locale.`

// buildUserContent renders the request envelope as the user message
func buildUserContent(env Envelope) (string, error) {
	body, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	return string(body), nil
}

// fitUserContent renders env within limit bytes. Extraction requests drop
// their oldest history turns until the envelope fits; the latest turn, the
// required fields and the current draft are always sent whole.
func fitUserContent(env Envelope, limit int) (string, error) {
	user, err := buildUserContent(env)
	if err != nil || len(user) <= limit {
		return user, err
	}

	req, ok := env.Context.(models.ExtractionRequest)
	if !ok {
		log.Printf("Warning: Prompt is %d chars, over the %d char limit", len(user), limit)
		return user, nil
	}

	total := len(req.History)
	for len(user) > limit && len(req.History) > 1 {
		req.History = req.History[1:]
		env.Context = req
		if user, err = buildUserContent(env); err != nil {
			return "", err
		}
	}
	log.Printf("Warning: Dropped %d of %d history turns to fit the prompt limit", total-len(req.History), total)
	if len(user) > limit {
		log.Printf("Warning: Prompt is %d chars after trimming history, over the %d char limit", len(user), limit)
	}
	return user, nil
}
