package pipeline

import (
	"context"
	"sort"
	"strings"

	"tariff-works/internal/chunk"
	"tariff-works/internal/sheet"
)

// inspectionMaxRows bounds how many data rows the unique-value scan reads per
// sheet. Larger sheets are sampled and flagged as truncated.
const inspectionMaxRows = 5000

// InspectRequest names the workbook to inspect.
type InspectRequest struct {
	FileRef string `json:"fileRef"`
}

// SourceInspectRequest names a source workbook whose header layout should be
// described. HeaderRowCount zero means detect it per sheet from merged cells.
type SourceInspectRequest struct {
	FileRef        string `json:"fileRef"`
	HeaderRowCount int    `json:"headerRowCount,omitempty"`
}

// SheetInspection describes one sheet: its headers and the distinct values
// each column holds.
type SheetInspection struct {
	Name         string              `json:"name"`
	Headers      []string            `json:"headers"`
	UniqueValues map[string][]string `json:"uniqueValues"`
	RowCount     int                 `json:"rowCount"`
	Truncated    bool                `json:"truncated,omitempty"`
}

// InspectionResult is the job result payload for a full inspection.
type InspectionResult struct {
	Sheets []SheetInspection `json:"sheets"`
}

// SourceInspectionSheet describes one sheet's header block.
type SourceInspectionSheet struct {
	Name           string   `json:"name"`
	HeaderRowCount int      `json:"headerRowCount"`
	Headers        []string `json:"headers"`
}

// SourceInspectionResult is the job result payload for a source inspection.
type SourceInspectionResult struct {
	Sheets []SourceInspectionSheet `json:"sheets"`
}

// TemplateInspectionResult is the job result payload for a template
// inspection: the first sheet's single-row headers.
type TemplateInspectionResult struct {
	Sheet   string   `json:"sheet"`
	Headers []string `json:"headers"`
}

// InspectSheet collects the sheet's headers and, per column, the sorted set
// of distinct values seen in the first inspectionMaxRows data rows.
func InspectSheet(ctx context.Context, src sheet.Source, chunkSize int, opts chunk.Options) (SheetInspection, error) {
	headers := sheet.CombinedHeaders(src, 1)
	info := SheetInspection{
		Name:     src.Name(),
		Headers:  headers,
		RowCount: src.RowCount(),
	}

	dataRows := src.RowCount() - 1
	if dataRows > inspectionMaxRows {
		dataRows = inspectionMaxRows
		info.Truncated = true
	}

	sets := make([]map[string]bool, len(headers))
	for i := range sets {
		sets[i] = make(map[string]bool)
	}

	_, err := chunk.Process(ctx, dataRows, chunkSize, func(_ context.Context, g chunk.Group) (struct{}, error) {
		first, last := chunk.RowSpan(g, 1)
		for row := first; row <= last; row++ {
			for col := range headers {
				if text := strings.TrimSpace(src.Text(row, col+1)); text != "" {
					sets[col][text] = true
				}
			}
		}
		return struct{}{}, nil
	}, opts)
	if err != nil {
		return SheetInspection{}, err
	}

	info.UniqueValues = make(map[string][]string, len(headers))
	for i, header := range headers {
		values := make([]string, 0, len(sets[i]))
		for v := range sets[i] {
			values = append(values, v)
		}
		sort.Strings(values)
		info.UniqueValues[header] = values
	}
	return info, nil
}

// RunInspection walks every sheet of the workbook and reports headers and
// distinct column values.
func (p *Pipelines) RunInspection(ctx context.Context, jobID string, req InspectRequest) (any, error) {
	progress := p.progressFn(jobID)
	progress(5, "Downloading file")

	wb, cleanup, err := p.openWorkbook(ctx, req.FileRef)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	names := wb.SheetNames()
	result := InspectionResult{Sheets: make([]SheetInspection, 0, len(names))}

	for i, name := range names {
		ws, err := wb.Sheet(name)
		if err != nil {
			return nil, err
		}
		// Each sheet gets an even slice of the 10-90 band.
		base := 10 + i*80/len(names)
		span := 80 / len(names)
		opts := p.chunkOptions(jobID, TypeInspection, base, span)
		info, err := InspectSheet(ctx, ws, p.cfg.ChunkInspection, opts)
		if err != nil {
			return nil, err
		}
		result.Sheets = append(result.Sheets, info)
	}
	return result, nil
}

// RunSourceInspection reports each sheet's detected header block so the
// caller can map columns before starting a processing run.
func (p *Pipelines) RunSourceInspection(ctx context.Context, jobID string, req SourceInspectRequest) (any, error) {
	progress := p.progressFn(jobID)
	progress(10, "Downloading file")

	wb, cleanup, err := p.openWorkbook(ctx, req.FileRef)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	progress(40, "Reading sheet headers")
	names := wb.SheetNames()
	result := SourceInspectionResult{Sheets: make([]SourceInspectionSheet, 0, len(names))}
	for _, name := range names {
		ws, err := wb.Sheet(name)
		if err != nil {
			return nil, err
		}
		headerRows := req.HeaderRowCount
		if headerRows <= 0 {
			headerRows = sheet.DetectHeaderRows(ws)
		}
		result.Sheets = append(result.Sheets, SourceInspectionSheet{
			Name:           name,
			HeaderRowCount: headerRows,
			Headers:        sheet.CombinedHeaders(ws, headerRows),
		})
	}
	progress(90, "Finalizing results")
	return result, nil
}

// RunTemplateInspection reads the first sheet's single header row of a
// report template.
func (p *Pipelines) RunTemplateInspection(ctx context.Context, jobID string, req InspectRequest) (any, error) {
	progress := p.progressFn(jobID)
	progress(10, "Downloading file")

	src, cleanup, err := p.openSheet(ctx, req.FileRef, "")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	progress(60, "Reading template headers")
	return TemplateInspectionResult{
		Sheet:   src.Name(),
		Headers: sheet.CombinedHeaders(src, 1),
	}, nil
}
