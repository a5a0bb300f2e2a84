package pipeline

import (
	"context"
	"fmt"
	"strings"

	"tariff-works/internal/chunk"
	"tariff-works/internal/sheet"
)

// rejectedSampleSize bounds how many rejected rows the result carries back to
// the caller.
const rejectedSampleSize = 10

// previewSize bounds the accepted-item preview in the result payload.
const previewSize = 10

// GroupingRequest describes a price-list consolidation run.
type GroupingRequest struct {
	FileRef  string            `json:"fileRef"`
	Sheet    string            `json:"sheet,omitempty"`
	Mappings ColumnMappings    `json:"mappings"`
	ClassMap map[string]string `json:"classMap"`
	Filter   *FilterConfig     `json:"filter,omitempty"`
}

// GroupingSummary counts what happened to every row that was read.
type GroupingSummary struct {
	TotalRowsRead      int `json:"totalRowsRead"`
	TotalRowsFiltered  int `json:"totalRowsFiltered"`
	TotalRowsProcessed int `json:"totalRowsProcessed"`
	UniqueItemCount    int `json:"uniqueItemCount"`
}

// RejectedRow is one skipped row with the reason it was skipped.
type RejectedRow struct {
	Row    int    `json:"row"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// GroupedItem is one consolidated item: all prices seen for a code+name pair,
// bucketed by target class column.
type GroupedItem struct {
	Code   string
	Name   string
	Prices map[string]*float64
}

// GroupingOutcome is the in-memory result of a grouping run. Items preserves
// first-seen order across chunks.
type GroupingOutcome struct {
	Items          []GroupedItem
	Summary        GroupingSummary
	RejectedSample []RejectedRow
}

// ProcessingResult is the job result payload for a processing run.
type ProcessingResult struct {
	Summary        GroupingSummary  `json:"summary"`
	RejectedSample []RejectedRow    `json:"rejectedSample,omitempty"`
	Preview        []map[string]any `json:"preview,omitempty"`
	OutputFile     string           `json:"outputFile"`
}

// groupedChunk is the per-chunk accumulator: items keyed by code|name, plus
// the order keys first appeared in.
type groupedChunk struct {
	items map[string]*GroupedItem
	order []string
}

// GroupRows consolidates a price list: rows are grouped by code+name and each
// row's price lands in the class bucket its class value maps to. Rows failing
// the allow-list filter or missing required fields are skipped and sampled
// with a reason; an unmapped or "ignore" class still creates the item but
// assigns no price. TotalRowsProcessed is rows read minus rows filtered.
// When the same item and class appear more than once the later price wins.
func GroupRows(ctx context.Context, src sheet.Source, req GroupingRequest, chunkSize int, opts chunk.Options) (*GroupingOutcome, error) {
	headers := upperHeaderMap(src)
	colCode, err := resolveColumn(headers, req.Mappings.Code, "code")
	if err != nil {
		return nil, err
	}
	colName, err := resolveColumn(headers, req.Mappings.Name, "name")
	if err != nil {
		return nil, err
	}
	colClass, err := resolveColumn(headers, req.Mappings.Class, "class")
	if err != nil {
		return nil, err
	}
	colPrice, err := resolveColumn(headers, req.Mappings.Price, "price")
	if err != nil {
		return nil, err
	}

	colFilter := 0
	var filterValues map[string]bool
	if req.Filter != nil && req.Filter.Column != "" {
		colFilter, err = resolveColumn(headers, req.Filter.Column, "filter")
		if err != nil {
			return nil, err
		}
		filterValues = make(map[string]bool, len(req.Filter.Values))
		for _, v := range req.Filter.Values {
			filterValues[strings.ToUpper(strings.TrimSpace(v))] = true
		}
	}

	classMap := make(map[string]string, len(req.ClassMap))
	for raw, target := range req.ClassMap {
		classMap[strings.ToUpper(strings.TrimSpace(raw))] = target
	}

	outcome := &GroupingOutcome{}
	dataRows := src.RowCount() - 1

	parts, err := chunk.Process(ctx, dataRows, chunkSize, func(_ context.Context, g chunk.Group) (groupedChunk, error) {
		acc := groupedChunk{items: make(map[string]*GroupedItem)}
		first, last := chunk.RowSpan(g, 1)
		for row := first; row <= last; row++ {
			outcome.Summary.TotalRowsRead++

			code := strings.TrimSpace(src.Text(row, colCode))
			name := strings.TrimSpace(src.Text(row, colName))

			if colFilter != 0 {
				cell := strings.TrimSpace(src.Text(row, colFilter))
				if !filterValues[strings.ToUpper(cell)] {
					rejectRow(outcome, row, code, name, fmt.Sprintf("value %q did not match filter", cell))
					outcome.Summary.TotalRowsFiltered++
					continue
				}
			}

			if code == "" || name == "" {
				rejectRow(outcome, row, code, name, "missing code or name")
				continue
			}

			key := code + "|" + name
			item, ok := acc.items[key]
			if !ok {
				item = &GroupedItem{Code: code, Name: name, Prices: make(map[string]*float64)}
				acc.items[key] = item
				acc.order = append(acc.order, key)
			}

			// An unmapped class or one mapped to "ignore" keeps the item
			// but contributes no price.
			class := strings.ToUpper(strings.TrimSpace(src.Text(row, colClass)))
			if target, known := classMap[class]; known && !strings.EqualFold(target, "ignore") {
				item.Prices[target] = sheet.ParsePrice(src.Value(row, colPrice))
			}
		}
		return acc, nil
	}, opts)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*GroupedItem)
	var order []string
	for _, part := range parts {
		for _, key := range part.order {
			incoming := part.items[key]
			item, ok := merged[key]
			if !ok {
				merged[key] = incoming
				order = append(order, key)
				continue
			}
			for class, price := range incoming.Prices {
				item.Prices[class] = price
			}
		}
	}

	outcome.Items = make([]GroupedItem, 0, len(order))
	for _, key := range order {
		outcome.Items = append(outcome.Items, *merged[key])
	}
	outcome.Summary.TotalRowsProcessed = outcome.Summary.TotalRowsRead - outcome.Summary.TotalRowsFiltered
	outcome.Summary.UniqueItemCount = len(outcome.Items)
	return outcome, nil
}

// RunProcessing executes a full processing job: fetch, group, write the
// consolidated workbook, and return the result payload.
func (p *Pipelines) RunProcessing(ctx context.Context, jobID string, req GroupingRequest) (any, error) {
	progress := p.progressFn(jobID)
	progress(2, "Downloading file")

	src, cleanup, err := p.openSheet(ctx, req.FileRef, req.Sheet)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	opts := p.chunkOptions(jobID, TypeProcessing, 0, 80)
	outcome, err := GroupRows(ctx, src, req, p.cfg.ChunkProcessing, opts)
	if err != nil {
		return nil, err
	}
	progress(85, "Finalizing results")

	progress(90, "Creating Excel file")
	headers := append([]string{"Code", "Name"}, DefaultPriceColumns...)
	rows := make([][]any, 0, len(outcome.Items))
	for _, item := range outcome.Items {
		row := []any{item.Code, item.Name}
		for _, class := range DefaultPriceColumns {
			if price := item.Prices[class]; price != nil {
				row = append(row, *price)
			} else {
				row = append(row, nil)
			}
		}
		rows = append(rows, row)
	}
	outputFile, err := sheet.WriteWorkbook(p.cfg.OutputDir, "Processed_Tariff", "Consolidated", headers, rows)
	if err != nil {
		return nil, fmt.Errorf("write output workbook: %w", err)
	}

	return ProcessingResult{
		Summary:        outcome.Summary,
		RejectedSample: outcome.RejectedSample,
		Preview:        previewOf(outcome.Items),
		OutputFile:     outputFile,
	}, nil
}

func rejectRow(outcome *GroupingOutcome, row int, code, name, reason string) {
	if len(outcome.RejectedSample) < rejectedSampleSize {
		outcome.RejectedSample = append(outcome.RejectedSample, RejectedRow{Row: row, Code: code, Name: name, Reason: reason})
	}
}

func previewOf(items []GroupedItem) []map[string]any {
	n := len(items)
	if n > previewSize {
		n = previewSize
	}
	preview := make([]map[string]any, 0, n)
	for _, item := range items[:n] {
		entry := map[string]any{"code": item.Code, "name": item.Name}
		for class, price := range item.Prices {
			if price != nil {
				entry[class] = *price
			}
		}
		preview = append(preview, entry)
	}
	return preview
}

// upperHeaderMap is HeaderMap with uppercased keys so mapping lookups are
// case-insensitive.
func upperHeaderMap(src sheet.Source) map[string]int {
	upper := make(map[string]int)
	for text, col := range sheet.HeaderMap(src) {
		upper[strings.ToUpper(text)] = col
	}
	return upper
}

func resolveColumn(headers map[string]int, header, role string) (int, error) {
	if strings.TrimSpace(header) == "" {
		return 0, fmt.Errorf("%w: no %s column mapped", ErrValidation, role)
	}
	col, ok := headers[strings.ToUpper(strings.TrimSpace(header))]
	if !ok {
		return 0, fmt.Errorf("%w: %s column %q not found in sheet", ErrValidation, role, header)
	}
	return col, nil
}
