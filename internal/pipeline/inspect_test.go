package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariff-works/internal/chunk"
	"tariff-works/internal/sheet"
)

func TestInspectSheet(t *testing.T) {
	src := &sheet.Grid{
		SheetName: "Tarif",
		Cells: [][]any{
			{"Kelas", "", "Dept"},
			{"VIP", "x", "LAB"},
			{"OPD", "", "LAB"},
			{"VIP", "y", "RADIOLOGI"},
			{" OPD ", "", ""},
		},
	}

	info, err := InspectSheet(context.Background(), src, 2, chunk.Options{})
	require.NoError(t, err)

	assert.Equal(t, "Tarif", info.Name)
	assert.Equal(t, []string{"Kelas", "Column_2", "Dept"}, info.Headers)
	assert.Equal(t, 5, info.RowCount)
	assert.False(t, info.Truncated)

	assert.Equal(t, []string{"OPD", "VIP"}, info.UniqueValues["Kelas"], "values deduplicated, trimmed and sorted")
	assert.Equal(t, []string{"LAB", "RADIOLOGI"}, info.UniqueValues["Dept"])
	assert.Equal(t, []string{"x", "y"}, info.UniqueValues["Column_2"])
}

func TestInspectSheetEmpty(t *testing.T) {
	src := &sheet.Grid{Cells: [][]any{{"Only", "Headers"}}}
	info, err := InspectSheet(context.Background(), src, 2, chunk.Options{})
	require.NoError(t, err)
	assert.Empty(t, info.UniqueValues["Only"])
}
