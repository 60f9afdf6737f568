// Package export renders a run's results. The composer flattens joined
// run items into records; encoders serialize records into csv, jsonl or
// xlsx files; the artifact store persists the rendered file and hands
// back a stable reference.
package export

import (
	"encoding/json"

	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

// Record is one flattened result row. Response-derived fields stay at
// their zero values when the item never produced a response.
type Record struct {
	Campaign      string           `json:"campaign"`
	RunID         string           `json:"run_id"`
	RunItemID     string           `json:"run_item_id"`
	QuestionID    string           `json:"question_id"`
	QuestionText  string           `json:"question_text"`
	PersonaName   string           `json:"persona_name"`
	PersonaRole   string           `json:"persona_role"`
	PersonaLocale string           `json:"persona_locale"`
	TopicTitle    string           `json:"topic_title"`
	Status        types.ItemStatus `json:"status"`
	AttemptCount  int              `json:"attempt_count"`
	LastError     string           `json:"last_error,omitempty"`

	HasResponse   bool             `json:"has_response"`
	Provider      string           `json:"provider,omitempty"`
	Model         string           `json:"model,omitempty"`
	PromptVersion string           `json:"prompt_version,omitempty"`
	Reply         json.RawMessage  `json:"response,omitempty"`
	Answer        string           `json:"answer,omitempty"`
	Citations     []string         `json:"citations,omitempty"`
	TokenUsage    types.TokenUsage `json:"token_usage"`
	LatencyMS     int64            `json:"latency_ms"`
	CostCents     float64          `json:"cost_cents"`
}

// Compose flattens joined result rows into export records, preserving
// the store's item-creation order. Pure: no I/O, no mutation.
func Compose(campaign string, rows []store.ResultRow) []Record {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{
			Campaign:      campaign,
			RunID:         row.Item.RunID,
			RunItemID:     row.Item.ID,
			QuestionID:    row.Question.ID,
			QuestionText:  row.Question.Text,
			PersonaName:   row.Persona.Name,
			PersonaRole:   row.Persona.Role,
			PersonaLocale: row.Persona.Locale,
			TopicTitle:    row.Topic.Title,
			Status:        row.Item.Status,
			AttemptCount:  row.Item.AttemptCount,
			LastError:     row.Item.LastError,
		}
		if r := row.Response; r != nil {
			rec.HasResponse = true
			rec.Provider = r.Provider
			rec.Model = r.Model
			rec.PromptVersion = r.PromptVersion
			rec.Reply = json.RawMessage(r.Body)
			rec.Answer = r.Text
			rec.Citations = r.Citations
			rec.TokenUsage = r.TokenUsage
			rec.LatencyMS = r.LatencyMS
			rec.CostCents = r.CostCents
		}
		records = append(records, rec)
	}
	return records
}
