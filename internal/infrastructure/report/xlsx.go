package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	summarySheet  = "summary"
	badCasesSheet = "bad_cases"

	// Cells past this length are truncated; spreadsheet applications reject longer values.
	maxCellChars = 32000
)

var badCaseHeader = []any{
	"id", "iccid", "api_type", "trans_id", "status_code", "error_message",
	"retry_count", "last_retry_at", "created_at", "response_data",
}

// WriteBadCases renders a document summary and its bad cases as an XLSX workbook.
func WriteBadCases(w io.Writer, doc *domain.Document, cases []domain.BadCase) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeSummary(f, doc, len(cases)); err != nil {
		return err
	}

	if _, err := f.NewSheet(badCasesSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.SetSheetRow(badCasesSheet, "A1", &badCaseHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, bc := range cases {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		row := badCaseRow(bc)
		if err := f.SetSheetRow(badCasesSheet, cell, &row); err != nil {
			return fmt.Errorf("write bad case %s: %w", bc.ID, err)
		}
	}
	if err := f.SetPanes(badCasesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, doc *domain.Document, badCases int) error {
	rows := [][]any{
		{"document_id", doc.ID},
		{"filename", doc.Filename},
		{"file_date", doc.FileDate},
		{"status", string(doc.Status)},
		{"total_iccid_count", doc.Counters.Total},
		{"processed_iccid_count", doc.Counters.Processed},
		{"success_iccid_count", doc.Counters.Success},
		{"failed_iccid_count", doc.Counters.Failed},
		{"progress_percentage", doc.ProgressPercentage()},
		{"success_rate", doc.SuccessRate()},
		{"bad_cases", badCases},
		{"error", doc.Error},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}

func badCaseRow(bc domain.BadCase) []any {
	var statusCode any
	if bc.StatusCode != nil {
		statusCode = *bc.StatusCode
	}
	lastRetry := ""
	if bc.LastRetryAt != nil {
		lastRetry = bc.LastRetryAt.UTC().Format(time.RFC3339)
	}
	return []any{
		bc.ID,
		bc.ICCID,
		string(bc.APIType),
		bc.TransID,
		statusCode,
		truncate(bc.ErrorMessage),
		bc.RetryCount,
		lastRetry,
		bc.CreatedAt.UTC().Format(time.RFC3339),
		truncate(string(bc.ResponseData)),
	}
}

func truncate(s string) string {
	if len(s) <= maxCellChars {
		return s
	}
	return s[:maxCellChars]
}
