package render

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/xuri/excelize/v2"
)

const (
	minColWidth = 12
	maxColWidth = 50
	sheetLimit  = 31
)

var reControl = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)

// sanitize removes control characters that corrupt a workbook.
func sanitize(v any) any {
	if s, ok := v.(string); ok {
		return reControl.ReplaceAllString(s, "")
	}
	return v
}

// writeWorkbook saves s as a single-sheet workbook at path. The file is
// written to a hidden sibling and renamed into place.
func writeWorkbook(path string, s sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	name := s.title
	if len(name) > sheetLimit {
		name = name[:sheetLimit]
	}
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(s.headers))
	for i, h := range s.headers {
		header[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2E8F0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(name, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	widths := make([]int, len(s.headers))
	for i, h := range s.headers {
		widths[i] = len(h)
	}
	for r, row := range s.rows {
		values := make([]any, len(row))
		for c, v := range row {
			values[c] = sanitize(v)
			if c < len(widths) {
				if n := len(fmt.Sprint(values[c])); n > widths[c] {
					widths[c] = n
				}
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r+2, err)
		}
	}

	textStyle, err := f.NewStyle(&excelize.Style{NumFmt: 49})
	if err != nil {
		return fmt.Errorf("failed to create text style: %w", err)
	}
	for i, h := range s.headers {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		w := widths[i] + 2
		if w < minColWidth {
			w = minColWidth
		}
		if w > maxColWidth {
			w = maxColWidth
		}
		if err := f.SetColWidth(name, col, col, float64(w)); err != nil {
			return err
		}
		if s.text[h] && len(s.rows) > 0 {
			top, _ := excelize.CoordinatesToCellName(i+1, 2)
			bottom, _ := excelize.CoordinatesToCellName(i+1, len(s.rows)+1)
			if err := f.SetCellStyle(name, top, bottom, textStyle); err != nil {
				return err
			}
		}
	}

	// SaveAs 依副檔名判斷格式，暫存檔保留 .xlsx
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err := f.SaveAs(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename workbook: %w", err)
	}
	return nil
}
