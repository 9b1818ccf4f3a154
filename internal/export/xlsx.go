// Package export renders pipeline listings as XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"scribe/internal/api"
	"scribe/internal/pipeline"
)

const (
	pipelinesSheet = "Pipelines"
	summarySheet   = "Summary"
	maxCellRunes   = 32000
)

var pipelineHeaders = []string{
	"Pipeline ID",
	"User ID",
	"Status",
	"Audio URL",
	"Provider Request ID",
	"Transcript",
	"LLM Result",
	"Error",
	"Created",
	"Updated",
}

// WriteXLSX writes one row per pipeline plus a per-status summary sheet.
func WriteXLSX(w io.Writer, items []api.Pipeline) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", pipelinesSheet); err != nil {
		return fmt.Errorf("xlsx rename sheet: %w", err)
	}
	for i, h := range pipelineHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(pipelinesSheet, cell, h); err != nil {
			return fmt.Errorf("xlsx header: %w", err)
		}
	}

	counts := make(map[string]int, len(pipeline.AllStatuses()))
	for idx, item := range items {
		row := idx + 2
		transcript := ""
		if item.Transcript != nil {
			transcript = *item.Transcript
		}
		values := []any{
			item.PipelineID,
			item.UserID,
			item.Status,
			item.AudioURL,
			item.ProviderRequestID,
			clip(transcript),
			clip(string(item.LLMResult)),
			item.Error,
			item.CreatedAt,
			item.UpdatedAt,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(pipelinesSheet, cell, v); err != nil {
				return fmt.Errorf("xlsx row %d: %w", row, err)
			}
		}
		counts[item.Status]++
	}

	_ = f.SetColWidth(pipelinesSheet, "A", "B", 24)
	_ = f.SetColWidth(pipelinesSheet, "C", "C", 14)
	_ = f.SetColWidth(pipelinesSheet, "D", "E", 40)
	_ = f.SetColWidth(pipelinesSheet, "F", "G", 60)
	_ = f.SetColWidth(pipelinesSheet, "H", "H", 40)
	_ = f.SetColWidth(pipelinesSheet, "I", "J", 26)
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(pipelinesSheet, 1, 1, style)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("xlsx summary sheet: %w", err)
	}
	_ = f.SetCellValue(summarySheet, "A1", "Status")
	_ = f.SetCellValue(summarySheet, "B1", "Count")
	row := 2
	for _, status := range pipeline.AllStatuses() {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(status))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), counts[string(status)])
		row++
	}
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "TOTAL")
	_ = f.SetCellFormula(summarySheet, fmt.Sprintf("B%d", row), fmt.Sprintf("SUM(B2:B%d)", row-1))

	index, _ := f.GetSheetIndex(pipelinesSheet)
	f.SetActiveSheet(index)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// clip keeps values under the XLSX per-cell character limit.
func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxCellRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxCellRunes-3]) + "..."
}
