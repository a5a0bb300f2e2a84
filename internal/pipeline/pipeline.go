// Package pipeline contains the domain transforms that run as background
// jobs: row grouping/filtering, report-row mapping, cross-file price
// comparison and workbook inspection. Each is a consumer of the chunk
// iterator and reports progress through the job manager.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tariff-works/internal/chunk"
	"tariff-works/internal/config"
	"tariff-works/internal/fetch"
	"tariff-works/internal/jobs"
	"tariff-works/internal/sheet"
	"tariff-works/internal/telemetry"
)

// Job types owned by this package.
const (
	TypeInspection         = "inspection"
	TypeProcessing         = "processing"
	TypeReportBuild        = "report-build"
	TypeDoubleCheck        = "double-check"
	TypeSourceInspection   = "source-inspection"
	TypeTemplateInspection = "template-inspection"
)

// DefaultPriceColumns are the output buckets of the consolidated price book,
// in workbook column order.
var DefaultPriceColumns = []string{"OPD", "ED", "KELAS 3", "KELAS 2", "KELAS 1", "VIP", "VVIP"}

// ErrValidation marks a request whose inputs do not fit the uploaded sheet,
// e.g. a mapped column that does not exist. The job fails before any chunk
// runs.
var ErrValidation = errors.New("validation failed")

// ColumnMappings names the designated source columns by header text.
type ColumnMappings struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Class string `json:"class"`
	Price string `json:"price"`
}

// FilterConfig is an optional case-insensitive allow-list applied to one
// column.
type FilterConfig struct {
	Column string   `json:"column"`
	Values []string `json:"values"`
}

// Pipelines bundles the collaborators every pipeline needs.
type Pipelines struct {
	cfg     config.Config
	manager *jobs.Manager
	fetcher *fetch.Fetcher
	logger  zerolog.Logger
}

// New wires the pipeline set.
func New(cfg config.Config, manager *jobs.Manager, fetcher *fetch.Fetcher, logger zerolog.Logger) *Pipelines {
	return &Pipelines{cfg: cfg, manager: manager, fetcher: fetcher, logger: logger}
}

// Manager exposes the lifecycle manager for callers that only hold the
// pipeline set.
func (p *Pipelines) Manager() *jobs.Manager { return p.manager }

// progressFn reports progress on the job, dropping errors: progress is
// fire-and-forget, and a terminal record (e.g. after a cancel race) is
// caught by the canceled hook before the next chunk.
func (p *Pipelines) progressFn(jobID string) chunk.ProgressFunc {
	return func(percent int, message string) {
		ctx := context.Background()
		if err := p.manager.ReportProgress(ctx, jobID, percent, message, nil); err != nil {
			p.logger.Debug().Err(err).Str("job_id", jobID).Msg("progress update dropped")
		}
	}
}

// canceledFn polls the job record between chunks for cooperative
// cancellation.
func (p *Pipelines) canceledFn(jobID string) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		return p.manager.Cancelled(ctx, jobID)
	}
}

// chunkOptions assembles the standard per-job chunking hooks: progress scaled
// into [base, base+span], cooperative cancellation, and the per-chunk
// duration histogram labeled with the pipeline name.
func (p *Pipelines) chunkOptions(jobID, pipeline string, base, span int) chunk.Options {
	return chunk.Options{
		Progress: scaled(p.progressFn(jobID), base, span),
		Canceled: p.canceledFn(jobID),
		Observe: func(_ chunk.Group, d time.Duration) {
			telemetry.ChunkDuration.WithLabelValues(pipeline).Observe(d.Seconds())
		},
	}
}

// scaled maps the iterator's 0-100 progress into [base, base+span] so a
// pipeline can reserve the remainder for setup and teardown.
func scaled(p chunk.ProgressFunc, base, span int) chunk.ProgressFunc {
	return func(percent int, message string) {
		p(base+percent*span/100, message)
	}
}

// ValidateFile runs the pre-flight sheet checks on a price-list file. It is
// synchronous and creates no job record. Class-map keys are uppercased so
// the class check matches how the grouping pipeline reads them.
func (p *Pipelines) ValidateFile(ctx context.Context, ref, sheetName string, classMap map[string]string) (sheet.ValidationResult, error) {
	src, cleanup, err := p.openSheet(ctx, ref, sheetName)
	if err != nil {
		return sheet.ValidationResult{}, err
	}
	defer cleanup()

	known := make(map[string]string, len(classMap))
	for class, target := range classMap {
		known[strings.ToUpper(strings.TrimSpace(class))] = target
	}
	return sheet.ValidateSheet(src, known), nil
}

// openWorkbook fetches a file reference and opens the whole workbook. The
// returned cleanup releases the workbook and any temp download.
func (p *Pipelines) openWorkbook(ctx context.Context, ref string) (*sheet.File, func(), error) {
	path, cleanupFile, err := p.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, func() {}, err
	}
	wb, err := sheet.Open(path)
	if err != nil {
		cleanupFile()
		return nil, func() {}, err
	}
	return wb, func() {
		_ = wb.Close()
		cleanupFile()
	}, nil
}

// openSheet fetches a file reference and materializes one worksheet. An
// empty sheetName selects the first sheet. The returned cleanup releases the
// workbook and any temp download.
func (p *Pipelines) openSheet(ctx context.Context, ref, sheetName string) (*sheet.Worksheet, func(), error) {
	path, cleanupFile, err := p.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, func() {}, err
	}
	wb, err := sheet.Open(path)
	if err != nil {
		cleanupFile()
		return nil, func() {}, err
	}
	cleanup := func() {
		_ = wb.Close()
		cleanupFile()
	}

	var ws *sheet.Worksheet
	if sheetName == "" {
		ws, err = wb.FirstSheet()
	} else {
		ws, err = wb.Sheet(sheetName)
	}
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return ws, cleanup, nil
}
