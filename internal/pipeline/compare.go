package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"tariff-works/internal/chunk"
	"tariff-works/internal/sheet"
)

// Comparison row statuses.
const (
	StatusMatch    = "MATCH"
	StatusMismatch = "MISMATCH"
	StatusNotFound = "NOT_FOUND"
)

// priceTolerance is the largest difference two prices may have and still
// count as equal. Workbook round-trips can perturb the last decimals.
const priceTolerance = 0.01

// CompareRequest describes a double-check run: the processed workbook is
// verified against the original it was built from.
type CompareRequest struct {
	OriginalRef    string `json:"originalRef"`
	ProcessedRef   string `json:"processedRef"`
	OriginalSheet  string `json:"originalSheet,omitempty"`
	ProcessedSheet string `json:"processedSheet,omitempty"`
	// PriceColumns are the class buckets to compare; empty means the default
	// set.
	PriceColumns []string `json:"priceColumns,omitempty"`
}

// CompareSummary aggregates the comparison. MatchPercentage is computed over
// items found in both files; NOT_FOUND items do not dilute it.
type CompareSummary struct {
	ItemsCompared   int     `json:"itemsCompared"`
	PriceMatches    int     `json:"priceMatches"`
	PriceMismatches int     `json:"priceMismatches"`
	ItemsNotFound   int     `json:"itemsNotFound"`
	MatchPercentage float64 `json:"matchPercentage"`
}

// PriceDetail is one class bucket of one compared item.
type PriceDetail struct {
	Class          string   `json:"class"`
	OriginalPrice  *float64 `json:"originalPrice"`
	ProcessedPrice *float64 `json:"processedPrice"`
	Match          bool     `json:"match"`
}

// ComparisonRow is the comparison verdict for one item of the processed file.
type ComparisonRow struct {
	Code    string        `json:"code"`
	Name    string        `json:"name"`
	Status  string        `json:"status"`
	Details []PriceDetail `json:"details,omitempty"`
}

// CompareResult is the job result payload for a double-check run.
type CompareResult struct {
	Summary         CompareSummary  `json:"summary"`
	PriceComparison []ComparisonRow `json:"priceComparison"`
}

// itemColumns locates the code, name and price-class columns of a
// consolidated sheet.
type itemColumns struct {
	code, name int
	classes    map[string]int
}

// CompareSheets verifies the processed sheet against the original. The whole
// original is indexed by uppercased code+name up front; the processed rows
// are then walked in chunks and each item's class prices are compared.
func CompareSheets(ctx context.Context, original, processed sheet.Source, priceColumns []string, chunkSize int, opts chunk.Options) (*CompareResult, error) {
	if len(priceColumns) == 0 {
		priceColumns = DefaultPriceColumns
	}

	origCols, err := locateItemColumns(original, priceColumns, "original")
	if err != nil {
		return nil, err
	}
	procCols, err := locateItemColumns(processed, priceColumns, "processed")
	if err != nil {
		return nil, err
	}

	index := make(map[string]map[string]*float64)
	for row := 2; row <= original.RowCount(); row++ {
		code := strings.TrimSpace(original.Text(row, origCols.code))
		name := strings.TrimSpace(original.Text(row, origCols.name))
		if code == "" && name == "" {
			continue
		}
		prices := make(map[string]*float64, len(priceColumns))
		for _, class := range priceColumns {
			if col := origCols.classes[class]; col != 0 {
				prices[class] = sheet.ParsePrice(original.Value(row, col))
			}
		}
		index[itemKey(code, name)] = prices
	}

	result := &CompareResult{}
	dataRows := processed.RowCount() - 1

	parts, err := chunk.Process(ctx, dataRows, chunkSize, func(_ context.Context, g chunk.Group) ([]ComparisonRow, error) {
		var rows []ComparisonRow
		first, last := chunk.RowSpan(g, 1)
		for row := first; row <= last; row++ {
			code := strings.TrimSpace(processed.Text(row, procCols.code))
			name := strings.TrimSpace(processed.Text(row, procCols.name))
			if code == "" && name == "" {
				continue
			}

			origPrices, found := index[itemKey(code, name)]
			if !found {
				result.Summary.ItemsNotFound++
				rows = append(rows, ComparisonRow{Code: code, Name: name, Status: StatusNotFound})
				continue
			}

			result.Summary.ItemsCompared++
			allMatch := true
			details := make([]PriceDetail, 0, len(priceColumns))
			for _, class := range priceColumns {
				var procPrice *float64
				if col := procCols.classes[class]; col != 0 {
					procPrice = sheet.ParsePrice(processed.Value(row, col))
				}
				origPrice := origPrices[class]
				match := pricesEqual(origPrice, procPrice)
				if !match {
					allMatch = false
				}
				details = append(details, PriceDetail{
					Class:          class,
					OriginalPrice:  origPrice,
					ProcessedPrice: procPrice,
					Match:          match,
				})
			}

			status := StatusMatch
			if allMatch {
				result.Summary.PriceMatches++
			} else {
				status = StatusMismatch
				result.Summary.PriceMismatches++
			}
			rows = append(rows, ComparisonRow{Code: code, Name: name, Status: status, Details: details})
		}
		return rows, nil
	}, opts)
	if err != nil {
		return nil, err
	}

	result.PriceComparison = chunk.Flatten(parts)
	if result.Summary.ItemsCompared > 0 {
		pct := float64(result.Summary.PriceMatches) / float64(result.Summary.ItemsCompared) * 100
		result.Summary.MatchPercentage = math.Round(pct*100) / 100
	}
	return result, nil
}

// RunDoubleCheck executes a full double-check job: fetch both workbooks,
// compare them, and return the result payload.
func (p *Pipelines) RunDoubleCheck(ctx context.Context, jobID string, req CompareRequest) (any, error) {
	progress := p.progressFn(jobID)
	progress(5, "Downloading original file")

	original, cleanupOrig, err := p.openSheet(ctx, req.OriginalRef, req.OriginalSheet)
	if err != nil {
		return nil, err
	}
	defer cleanupOrig()

	progress(15, "Downloading processed file")
	processed, cleanupProc, err := p.openSheet(ctx, req.ProcessedRef, req.ProcessedSheet)
	if err != nil {
		return nil, err
	}
	defer cleanupProc()

	progress(20, "Building comparison index")
	opts := p.chunkOptions(jobID, TypeDoubleCheck, 50, 45)
	return CompareSheets(ctx, original, processed, req.PriceColumns, p.cfg.ChunkDoubleCheck, opts)
}

func locateItemColumns(src sheet.Source, priceColumns []string, label string) (itemColumns, error) {
	headers := upperHeaderMap(src)
	cols := itemColumns{classes: make(map[string]int, len(priceColumns))}

	for _, alias := range []string{"CODE", "KODE"} {
		if col, ok := headers[alias]; ok {
			cols.code = col
			break
		}
	}
	for _, alias := range []string{"NAME", "NAMA"} {
		if col, ok := headers[alias]; ok {
			cols.name = col
			break
		}
	}
	if cols.code == 0 || cols.name == 0 {
		return cols, fmt.Errorf("%w: %s file has no code/name columns", ErrValidation, label)
	}
	for _, class := range priceColumns {
		if col, ok := headers[strings.ToUpper(class)]; ok {
			cols.classes[class] = col
		}
	}
	return cols, nil
}

func itemKey(code, name string) string {
	return strings.ToUpper(code) + "|" + strings.ToUpper(name)
}

func pricesEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < priceTolerance
}
