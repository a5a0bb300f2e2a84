package pipeline

import (
	"context"
	"errors"
	"fmt"

	"tariff-works/internal/chunk"
	"tariff-works/internal/jobs"
	"tariff-works/internal/telemetry"
)

// Launch runs fn detached from the caller. Whatever happens inside, the job
// record ends in exactly one of the terminal states: the result is recorded
// on success, any fault (including a panic) becomes a failed record with a
// readable message, and a canceled run leaves the cancelled record as the
// cancel operation wrote it.
func (p *Pipelines) Launch(jobID string, fn func(ctx context.Context) (any, error)) {
	go func() {
		ctx := context.Background()
		telemetry.JobsInFlight.Inc()
		defer telemetry.JobsInFlight.Dec()

		result, err := func() (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("pipeline panic: %v", r)
				}
			}()
			return fn(ctx)
		}()

		switch {
		case err == nil:
			if cerr := p.manager.Complete(ctx, jobID, result); cerr != nil {
				if errors.Is(cerr, jobs.ErrInvalidState) {
					// Lost a race with cancel; the cancelled record stands.
					p.logger.Info().Str("job_id", jobID).Msg("pipeline finished after cancellation")
					return
				}
				p.logger.Error().Err(cerr).Str("job_id", jobID).Msg("failed to record completion")
			}
		case errors.Is(err, chunk.ErrCanceled):
			p.logger.Info().Str("job_id", jobID).Msg("pipeline stopped after cancellation")
		default:
			if ferr := p.manager.Fail(ctx, jobID, err.Error()); ferr != nil {
				if errors.Is(ferr, jobs.ErrInvalidState) {
					// Lost a race with cancel; the cancelled record stands.
					p.logger.Info().Str("job_id", jobID).Msg("pipeline fault after cancellation")
					return
				}
				p.logger.Error().Err(ferr).Str("job_id", jobID).Msg("failed to record failure")
			}
		}
	}()
}
