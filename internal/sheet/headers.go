package sheet

import (
	"fmt"
	"strings"
)

// HeaderMap reads row 1 and maps trimmed header text to its 1-based column.
// Empty cells are skipped.
func HeaderMap(src Source) map[string]int {
	headers := make(map[string]int)
	for col := 1; col <= src.ColCount(); col++ {
		if text := strings.TrimSpace(src.Text(1, col)); text != "" {
			headers[text] = col
		}
	}
	return headers
}

// CombinedHeaders flattens a header block of headerRows rows into one label
// per column. For multi-row headers, group labels from upper rows carry
// forward across their span and are joined with " - "; columns without any
// label fall back to "Column_N".
func CombinedHeaders(src Source, headerRows int) []string {
	if headerRows <= 0 {
		return nil
	}
	cols := src.ColCount()

	if headerRows == 1 {
		headers := make([]string, 0, cols)
		for col := 1; col <= cols; col++ {
			text := strings.TrimSpace(src.Text(1, col))
			if text == "" {
				text = fmt.Sprintf("Column_%d", col)
			}
			headers = append(headers, text)
		}
		return headers
	}

	matrix := make([][]string, headerRows)
	for r := 0; r < headerRows; r++ {
		matrix[r] = make([]string, cols)
		for c := 0; c < cols; c++ {
			matrix[r][c] = strings.TrimSpace(src.Text(r+1, c+1))
		}
	}

	headers := make([]string, 0, cols)
	for c := 0; c < cols; c++ {
		context := ""
		var parts []string
		for r := 0; r < headerRows; r++ {
			if matrix[r][c] != "" {
				context = matrix[r][c]
			}
			lastRow := r == headerRows-1
			nextRowLabeled := !lastRow && matrix[r+1][c] != ""
			if (lastRow || nextRowLabeled) && context != "" && !contains(parts, context) {
				parts = append(parts, context)
			}
		}
		header := strings.Join(parts, " - ")
		if header == "" {
			header = fmt.Sprintf("Column_%d", c+1)
		}
		headers = append(headers, header)
	}
	return headers
}

// DetectHeaderRows guesses the height of the header block from merged cells:
// merges in both of the first two rows imply three header rows, a merge in
// row 1 alone implies two, otherwise one. Sources without merge information
// report a single header row.
func DetectHeaderRows(src Source) int {
	mc, ok := src.(MergeChecker)
	if !ok {
		return 1
	}
	switch {
	case mc.MergedIn(1) && mc.MergedIn(2):
		return 3
	case mc.MergedIn(1):
		return 2
	default:
		return 1
	}
}

func contains(parts []string, s string) bool {
	for _, p := range parts {
		if p == s {
			return true
		}
	}
	return false
}
