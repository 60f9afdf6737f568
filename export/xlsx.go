package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/pithecene-io/assay/types"
)

// Default sheet names of the two-sheet partner layout.
const (
	DefaultQuerySheet    = "AI_API_04_QUERY"
	DefaultCitationSheet = "AI_API_08_CITATION"
)

// maxCellLength caps cell text. Excel rejects cells past 32767 chars;
// partners asked for a much lower bound.
const maxCellLength = 10000

var querySheetHeader = []string{
	"campaign",
	"run_id",
	"question_id",
	"persona_name",
	"question_text",
	"provider",
	"model",
	"response_text",
	"latency_ms",
	"prompt_tokens",
	"completion_tokens",
	"cost_cents",
	"status",
}

var citationSheetHeader = []string{
	"run_id",
	"question_id",
	"provider",
	"citation_index",
	"citation_url",
}

// XLSXEncoder writes xlsx workbooks. The default layout is one flat
// sheet mirroring the csv columns; config {"layout": "two_sheet"}
// selects the partner layout with separate query and citation tabs,
// whose names the config may override via sheet_query / sheet_citation.
type XLSXEncoder struct {
	twoSheet      bool
	querySheet    string
	citationSheet string
}

// NewXLSXEncoder builds an encoder from an export's free-form config.
func NewXLSXEncoder(cfg types.JSONMap) *XLSXEncoder {
	e := &XLSXEncoder{
		querySheet:    DefaultQuerySheet,
		citationSheet: DefaultCitationSheet,
	}
	if layout, _ := cfg["layout"].(string); layout == "two_sheet" {
		e.twoSheet = true
	}
	if s, _ := cfg["sheet_query"].(string); s != "" {
		e.querySheet = s
	}
	if s, _ := cfg["sheet_citation"].(string); s != "" {
		e.citationSheet = s
	}
	return e
}

// Encode writes the workbook to w.
func (e *XLSXEncoder) Encode(w io.Writer, records []Record) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if e.twoSheet {
		if err := e.writeTwoSheet(f, records); err != nil {
			return err
		}
	} else if err := e.writeFlat(f, records); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (e *XLSXEncoder) writeFlat(f *excelize.File, records []Record) error {
	const sheet = "Results"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("name results sheet: %w", err)
	}
	if err := writeRow(f, sheet, 1, headerValues(flatHeader)); err != nil {
		return err
	}
	for i := range records {
		values := flatValues(&records[i])
		for j, v := range values {
			if s, ok := v.(string); ok {
				values[j] = truncateCell(s)
			}
		}
		if err := writeRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func (e *XLSXEncoder) writeTwoSheet(f *excelize.File, records []Record) error {
	if err := f.SetSheetName("Sheet1", e.querySheet); err != nil {
		return fmt.Errorf("name query sheet: %w", err)
	}
	if _, err := f.NewSheet(e.citationSheet); err != nil {
		return fmt.Errorf("create citation sheet: %w", err)
	}

	if err := writeRow(f, e.querySheet, 1, headerValues(querySheetHeader)); err != nil {
		return err
	}
	if err := writeRow(f, e.citationSheet, 1, headerValues(citationSheetHeader)); err != nil {
		return err
	}

	citationRow := 2
	for i := range records {
		rec := &records[i]
		if err := writeRow(f, e.querySheet, i+2, queryRowValues(rec)); err != nil {
			return err
		}
		for idx, url := range rec.Citations {
			values := []any{rec.RunID, rec.QuestionID, rec.Provider, idx, truncateCell(url)}
			if err := writeRow(f, e.citationSheet, citationRow, values); err != nil {
				return err
			}
			citationRow++
		}
	}
	return nil
}

func queryRowValues(rec *Record) []any {
	return []any{
		truncateCell(rec.Campaign),
		rec.RunID,
		rec.QuestionID,
		truncateCell(rec.PersonaName),
		truncateCell(rec.QuestionText),
		rec.Provider,
		rec.Model,
		truncateCell(rec.Answer),
		rec.LatencyMS,
		rec.TokenUsage.PromptTokens,
		rec.TokenUsage.CompletionTokens,
		rec.CostCents,
		string(rec.Status),
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name for row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func headerValues(header []string) []any {
	out := make([]any, len(header))
	for i, h := range header {
		out[i] = h
	}
	return out
}

func truncateCell(s string) string {
	if len(s) > maxCellLength {
		return s[:maxCellLength]
	}
	return s
}
