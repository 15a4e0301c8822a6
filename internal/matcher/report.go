package matcher

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/staffsync/internal/domain"
)

var reportHeaders = []string{
	"Payroll ID", "External name", "External email", "Match type",
	"Confidence", "Internal ID", "Internal name", "Sync required", "Conflicts",
}

// WriteReport renders a batch of match results as an xlsx reconciliation
// workbook, one row per external record, for the manual resolution step.
func WriteReport(w io.Writer, matches []domain.EmployeeMatch) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := "Reconciliation"
	if err := file.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename report sheet: %w", err)
	}

	for col, header := range reportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("resolve header cell: %w", err)
		}
		if err := file.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("write report header: %w", err)
		}
	}

	for row, match := range matches {
		values := []any{
			match.External.PayrollID,
			match.External.FullName(),
			match.External.Email,
			string(match.MatchType),
			match.Confidence,
			internalID(match),
			internalName(match),
			match.SyncRequired,
			strings.Join(match.Conflicts, "; "),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return fmt.Errorf("resolve report cell: %w", err)
			}
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("write report row %d: %w", row+1, err)
			}
		}
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("write report workbook: %w", err)
	}
	return nil
}

func internalID(match domain.EmployeeMatch) string {
	if match.Internal == nil {
		return ""
	}
	return match.Internal.ID.String()
}

func internalName(match domain.EmployeeMatch) string {
	if match.Internal == nil {
		return ""
	}
	return match.Internal.FullName()
}
