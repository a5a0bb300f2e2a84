package sheet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Allowed upload mime types for workbooks.
var AllowedMimeTypes = []string{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", // .xlsx
	"application/vnd.ms-excel",                                          // .xls
}

// ValidMimeType reports whether the uploaded content type is a workbook.
func ValidMimeType(mime string) bool {
	for _, allowed := range AllowedMimeTypes {
		if mime == allowed {
			return true
		}
	}
	return false
}

// File wraps an open xlsx workbook.
type File struct {
	f *excelize.File
}

// Open reads a workbook from disk.
func Open(path string) (*File, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", filepath.Base(path), err)
	}
	return &File{f: f}, nil
}

func (w *File) Close() error { return w.f.Close() }

// SheetNames lists worksheets in workbook order.
func (w *File) SheetNames() []string { return w.f.GetSheetList() }

// Sheet materializes the named worksheet as a Source. The whole sheet's text
// is loaded once; random access afterwards is memory-only.
func (w *File) Sheet(name string) (*Worksheet, error) {
	found := false
	for _, n := range w.f.GetSheetList() {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("sheet %q not found", name)
	}

	rows, err := w.f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}

	merged := map[int]bool{}
	if cells, err := w.f.GetMergeCells(name); err == nil {
		for _, mc := range cells {
			if _, top, err := excelize.CellNameToCoordinates(mc.GetStartAxis()); err == nil {
				if _, bottom, err := excelize.CellNameToCoordinates(mc.GetEndAxis()); err == nil {
					for r := top; r <= bottom; r++ {
						merged[r] = true
					}
				}
			}
		}
	}

	return &Worksheet{name: name, rows: rows, merged: merged}, nil
}

// FirstSheet returns the workbook's first worksheet.
func (w *File) FirstSheet() (*Worksheet, error) {
	names := w.f.GetSheetList()
	if len(names) == 0 {
		return nil, fmt.Errorf("workbook contains no sheets")
	}
	return w.Sheet(names[0])
}

// Worksheet is an in-memory Source backed by one xlsx sheet.
type Worksheet struct {
	name   string
	rows   [][]string
	merged map[int]bool
}

func (s *Worksheet) Name() string { return s.name }

func (s *Worksheet) RowCount() int { return len(s.rows) }

func (s *Worksheet) ColCount() int {
	max := 0
	for _, row := range s.rows {
		if len(row) > max {
			max = len(row)
		}
	}
	return max
}

func (s *Worksheet) Text(row, col int) string {
	if row < 1 || row > len(s.rows) {
		return ""
	}
	cells := s.rows[row-1]
	if col < 1 || col > len(cells) {
		return ""
	}
	return cells[col-1]
}

func (s *Worksheet) Value(row, col int) any {
	return s.Text(row, col)
}

func (s *Worksheet) MergedIn(row int) bool { return s.merged[row] }

// WriteWorkbook writes a single-sheet workbook with a bold header row to
// dir, returning the full path. The filename gets a timestamp suffix so
// repeated runs never overwrite each other.
func WriteWorkbook(dir, baseName, sheetName string, headers []string, rows [][]any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return "", fmt.Errorf("name sheet: %w", err)
	}

	headerCells := make([]any, len(headers))
	for i, h := range headers {
		headerCells[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &headerCells); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		endCol, _ := excelize.ColumnNumberToName(len(headers))
		_ = f.SetCellStyle(sheetName, "A1", endCol+"1", style)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", fmt.Errorf("row coordinate: %w", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return "", fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	timestamp := strings.ReplaceAll(time.Now().UTC().Format("2006-01-02T15-04-05.000Z"), ".", "-")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.xlsx", baseName, timestamp))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}
