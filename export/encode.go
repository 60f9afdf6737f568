package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pithecene-io/assay/types"
)

// Encoder serializes export records into one file format.
type Encoder interface {
	Encode(w io.Writer, records []Record) error
}

// ForFormat returns the encoder for format. The export's free-form
// config selects xlsx layout variants; csv and jsonl ignore it.
func ForFormat(format types.ExportFormat, cfg types.JSONMap) (Encoder, error) {
	switch format {
	case types.FormatCSV:
		return CSVEncoder{}, nil
	case types.FormatJSONL:
		return JSONLEncoder{}, nil
	case types.FormatXLSX:
		return NewXLSXEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// flatHeader is the column order shared by the csv and flat xlsx
// layouts.
var flatHeader = []string{
	"campaign",
	"run_id",
	"run_item_id",
	"question_id",
	"question_text",
	"persona_name",
	"persona_role",
	"persona_locale",
	"topic_title",
	"status",
	"attempt_count",
	"last_error",
	"provider",
	"model",
	"prompt_version",
	"answer",
	"citations",
	"prompt_tokens",
	"completion_tokens",
	"total_tokens",
	"latency_ms",
	"cost_cents",
}

// flatValues renders one record in flatHeader order. Citations become a
// JSON array so the cell round-trips losslessly.
func flatValues(rec *Record) []any {
	citations := "[]"
	if len(rec.Citations) > 0 {
		if b, err := json.Marshal(rec.Citations); err == nil {
			citations = string(b)
		}
	}
	return []any{
		rec.Campaign,
		rec.RunID,
		rec.RunItemID,
		rec.QuestionID,
		rec.QuestionText,
		rec.PersonaName,
		rec.PersonaRole,
		rec.PersonaLocale,
		rec.TopicTitle,
		string(rec.Status),
		rec.AttemptCount,
		rec.LastError,
		rec.Provider,
		rec.Model,
		rec.PromptVersion,
		rec.Answer,
		citations,
		rec.TokenUsage.PromptTokens,
		rec.TokenUsage.CompletionTokens,
		rec.TokenUsage.TotalTokens,
		rec.LatencyMS,
		rec.CostCents,
	}
}

// CSVEncoder writes the flat layout with encoding/csv.
type CSVEncoder struct{}

// Encode writes a header row followed by one row per record.
func (CSVEncoder) Encode(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(flatHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(flatHeader))
	for i := range records {
		for j, v := range flatValues(&records[i]) {
			row[j] = formatCell(v)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// JSONLEncoder writes one JSON object per line.
type JSONLEncoder struct{}

// Encode streams records through a json.Encoder, newline-delimited.
func (JSONLEncoder) Encode(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("write jsonl record %d: %w", i, err)
		}
	}
	return nil
}
