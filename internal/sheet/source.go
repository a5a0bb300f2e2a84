// Package sheet provides a row-addressable view over tabular data. Pipelines
// depend on the Source interface only; the xlsx adapter and an in-memory
// implementation live alongside it.
package sheet

import (
	"fmt"
	"strings"
)

// Source is random access to a sheet's cells. Rows and columns are 1-based;
// out-of-range access yields empty values.
type Source interface {
	Name() string
	RowCount() int
	ColCount() int
	// Text returns the cell's display text.
	Text(row, col int) string
	// Value returns the cell's typed value where the underlying store has
	// one, falling back to the display text.
	Value(row, col int) any
}

// MergeChecker is implemented by sources that know about merged cells; the
// header-row auto-detection uses it.
type MergeChecker interface {
	MergedIn(row int) bool
}

// Grid is an in-memory Source, used by tests and as the merge target for
// small derived tables. Cells[0] holds sheet row 1.
type Grid struct {
	SheetName string
	Cells     [][]any
	// MergedRows marks rows containing merged cells, for header detection.
	MergedRows map[int]bool
}

func (g *Grid) Name() string { return g.SheetName }

func (g *Grid) RowCount() int { return len(g.Cells) }

func (g *Grid) ColCount() int {
	max := 0
	for _, row := range g.Cells {
		if len(row) > max {
			max = len(row)
		}
	}
	return max
}

func (g *Grid) Value(row, col int) any {
	if row < 1 || row > len(g.Cells) {
		return nil
	}
	cells := g.Cells[row-1]
	if col < 1 || col > len(cells) {
		return nil
	}
	return cells[col-1]
}

func (g *Grid) Text(row, col int) string {
	v := g.Value(row, col)
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	default:
		return fmt.Sprint(t)
	}
}

func (g *Grid) MergedIn(row int) bool { return g.MergedRows[row] }
