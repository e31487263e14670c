package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"advision/internal/models"
)

// ExportXLSX returns an XLSX workbook with one row per parsed segment, for
// callers that want the raw timing data rather than the rendered report.
func ExportXLSX(doc models.ReportDocument) ([]byte, error) {
	f := excelize.NewFile()
	const sheet = "Segments"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"Segment", "Start (sec)", "Duration (sec)", "Quality Score", "Report Text"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for i, seg := range doc.Segments {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, i+1)
		write(2, seg.StartSeconds)
		if seg.DurationSeconds > 0 {
			write(3, seg.DurationSeconds)
		}
		if seg.HasScore {
			write(4, seg.Score)
		}
		write(5, seg.Text)
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 10)
	_ = f.SetColWidth(sheet, "B", "D", 14)
	_ = f.SetColWidth(sheet, "E", "E", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
