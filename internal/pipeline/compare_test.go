package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariff-works/internal/chunk"
	"tariff-works/internal/sheet"
)

func TestCompareSheets(t *testing.T) {
	original := &sheet.Grid{Cells: [][]any{
		{"Code", "Name", "OPD", "VIP"},
		{"A1", "Paracetamol", 1000, 2500},
		{"A2", "Ibuprofen", 1500, nil},
	}}
	processed := &sheet.Grid{Cells: [][]any{
		{"Code", "Name", "OPD", "VIP"},
		{"A1", "paracetamol", 1000, 2500}, // name match is case-insensitive
		{"A2", "Ibuprofen", 1500, 3000},   // VIP price invented
		{"A9", "Ghost", 1, 2},
	}}

	result, err := CompareSheets(context.Background(), original, processed, []string{"OPD", "VIP"}, 2, chunk.Options{})
	require.NoError(t, err)

	assert.Equal(t, CompareSummary{
		ItemsCompared:   2,
		PriceMatches:    1,
		PriceMismatches: 1,
		ItemsNotFound:   1,
		MatchPercentage: 50,
	}, result.Summary)

	require.Len(t, result.PriceComparison, 3)
	assert.Equal(t, StatusMatch, result.PriceComparison[0].Status)

	mismatch := result.PriceComparison[1]
	assert.Equal(t, StatusMismatch, mismatch.Status)
	require.Len(t, mismatch.Details, 2)
	assert.True(t, mismatch.Details[0].Match, "OPD prices agree")
	assert.False(t, mismatch.Details[1].Match, "VIP differs: original has none")
	assert.Nil(t, mismatch.Details[1].OriginalPrice)
	require.NotNil(t, mismatch.Details[1].ProcessedPrice)
	assert.Equal(t, 3000.0, *mismatch.Details[1].ProcessedPrice)

	notFound := result.PriceComparison[2]
	assert.Equal(t, StatusNotFound, notFound.Status)
	assert.Empty(t, notFound.Details)
}

func TestCompareSheetsAllNotFound(t *testing.T) {
	original := &sheet.Grid{Cells: [][]any{
		{"Code", "Name", "OPD"},
	}}
	processed := &sheet.Grid{Cells: [][]any{
		{"Code", "Name", "OPD"},
		{"A1", "Paracetamol", 1000},
	}}

	result, err := CompareSheets(context.Background(), original, processed, nil, 10, chunk.Options{})
	require.NoError(t, err)
	assert.Zero(t, result.Summary.ItemsCompared)
	assert.Equal(t, 1, result.Summary.ItemsNotFound)
	assert.Zero(t, result.Summary.MatchPercentage, "no compared items means no percentage")
}

func TestCompareSheetsMissingColumns(t *testing.T) {
	bad := &sheet.Grid{Cells: [][]any{{"Foo", "Bar"}}}
	ok := &sheet.Grid{Cells: [][]any{{"Code", "Name"}}}

	_, err := CompareSheets(context.Background(), bad, ok, nil, 10, chunk.Options{})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "original")

	_, err = CompareSheets(context.Background(), ok, bad, nil, 10, chunk.Options{})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "processed")
}

func TestCompareSheetsTolerance(t *testing.T) {
	original := &sheet.Grid{Cells: [][]any{
		{"Code", "Name", "OPD"},
		{"A1", "Paracetamol", 1000.001},
	}}
	processed := &sheet.Grid{Cells: [][]any{
		{"Code", "Name", "OPD"},
		{"A1", "Paracetamol", 1000.002},
	}}

	result, err := CompareSheets(context.Background(), original, processed, []string{"OPD"}, 10, chunk.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.PriceMatches, "sub-cent differences are equal")
}
