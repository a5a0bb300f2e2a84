package pipeline

import (
	"context"
	"fmt"
	"strings"

	"tariff-works/internal/chunk"
	"tariff-works/internal/sheet"
)

// ReportMapping routes one source column into one output column of the
// report. Source names refer to combined header labels.
type ReportMapping struct {
	Source string `json:"source"`
	Output string `json:"output"`
}

// ReportRequest describes a report-build run over a template workbook.
type ReportRequest struct {
	FileRef string `json:"fileRef"`
	Sheet   string `json:"sheet,omitempty"`
	// HeaderRowCount is the height of the header block; zero means detect it
	// from merged cells.
	HeaderRowCount int `json:"headerRowCount,omitempty"`
	// UniqueKey names the source column used for de-duplication. Empty
	// disables the duplicate check.
	UniqueKey string          `json:"uniqueKey,omitempty"`
	Mappings  []ReportMapping `json:"mappings"`
}

// ReportDiagnostics counts what happened to the template's data rows.
type ReportDiagnostics struct {
	TotalRowsRead           int `json:"totalRowsRead"`
	RowsAdded               int `json:"rowsAdded"`
	RowsSkippedDuplicateKey int `json:"rowsSkipped_DuplicateKey"`
}

// ReportOutcome is the in-memory result of a report build.
type ReportOutcome struct {
	Headers     []string
	Rows        [][]any
	Diagnostics ReportDiagnostics
}

// ReportResult is the job result payload for a report-build run.
type ReportResult struct {
	Diagnostics ReportDiagnostics `json:"diagnostics"`
	OutputFile  string            `json:"outputFile"`
}

// BuildReport maps the template's rows into the output column layout. Rows
// whose mapped cells are all empty are dropped, and when a unique key column
// is configured, later rows repeating an already-seen key are skipped.
func BuildReport(ctx context.Context, src sheet.Source, req ReportRequest, headerRows, chunkSize int, opts chunk.Options) (*ReportOutcome, error) {
	if len(req.Mappings) == 0 {
		return nil, fmt.Errorf("%w: no column mappings provided", ErrValidation)
	}

	combined := sheet.CombinedHeaders(src, headerRows)
	byHeader := make(map[string]int, len(combined))
	for i, h := range combined {
		byHeader[strings.ToUpper(strings.TrimSpace(h))] = i + 1
	}

	cols := make([]int, len(req.Mappings))
	headers := make([]string, len(req.Mappings))
	for i, m := range req.Mappings {
		col, ok := byHeader[strings.ToUpper(strings.TrimSpace(m.Source))]
		if !ok {
			return nil, fmt.Errorf("%w: source column %q not found in sheet", ErrValidation, m.Source)
		}
		cols[i] = col
		headers[i] = m.Output
	}

	keyCol := 0
	if req.UniqueKey != "" {
		col, ok := byHeader[strings.ToUpper(strings.TrimSpace(req.UniqueKey))]
		if !ok {
			return nil, fmt.Errorf("%w: unique key column %q not found in sheet", ErrValidation, req.UniqueKey)
		}
		keyCol = col
	}

	outcome := &ReportOutcome{Headers: headers}
	seenKeys := make(map[string]bool)
	dataRows := src.RowCount() - headerRows

	parts, err := chunk.Process(ctx, dataRows, chunkSize, func(_ context.Context, g chunk.Group) ([][]any, error) {
		var rows [][]any
		first, last := chunk.RowSpan(g, headerRows)
		for row := first; row <= last; row++ {
			outcome.Diagnostics.TotalRowsRead++

			// The key check runs before the empty check, so even an
			// otherwise-empty row claims its key.
			if keyCol != 0 {
				key := strings.TrimSpace(src.Text(row, keyCol))
				if key != "" {
					if seenKeys[key] {
						outcome.Diagnostics.RowsSkippedDuplicateKey++
						continue
					}
					seenKeys[key] = true
				}
			}

			out := make([]any, len(cols))
			empty := true
			for i, col := range cols {
				v := src.Value(row, col)
				out[i] = v
				if strings.TrimSpace(src.Text(row, col)) != "" {
					empty = false
				}
			}
			if empty {
				continue
			}

			rows = append(rows, out)
			outcome.Diagnostics.RowsAdded++
		}
		return rows, nil
	}, opts)
	if err != nil {
		return nil, err
	}

	outcome.Rows = chunk.Flatten(parts)
	return outcome, nil
}

// RunReportBuild executes a full report-build job: fetch, map rows, write the
// report workbook, and return the result payload.
func (p *Pipelines) RunReportBuild(ctx context.Context, jobID string, req ReportRequest) (any, error) {
	progress := p.progressFn(jobID)
	progress(5, "Downloading file")

	src, cleanup, err := p.openSheet(ctx, req.FileRef, req.Sheet)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	headerRows := req.HeaderRowCount
	if headerRows <= 0 {
		headerRows = sheet.DetectHeaderRows(src)
	}
	progress(10, "Reading headers")

	opts := p.chunkOptions(jobID, TypeReportBuild, 20, 60)
	outcome, err := BuildReport(ctx, src, req, headerRows, p.cfg.ChunkReport, opts)
	if err != nil {
		return nil, err
	}

	progress(90, "Creating Excel file")
	outputFile, err := sheet.WriteWorkbook(p.cfg.OutputDir, "Report", "Report", outcome.Headers, outcome.Rows)
	if err != nil {
		return nil, fmt.Errorf("write report workbook: %w", err)
	}

	return ReportResult{Diagnostics: outcome.Diagnostics, OutputFile: outputFile}, nil
}
