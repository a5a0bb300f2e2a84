// Package jobs implements the lifecycle state machine for tracked background
// work: pending -> processing -> {completed | failed | cancelled}. Completed,
// failed and cancelled are terminal. All mutation goes through the Manager;
// nothing else writes job records.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tariff-works/internal/jobstore"
	"tariff-works/internal/models"
	"tariff-works/internal/telemetry"
)

var (
	// ErrNotFound signals an operation referencing a job id absent from the
	// store. Lifecycle mutators fail this way rather than silently creating
	// a record.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidState signals an operation that is illegal for the job's
	// current terminal status.
	ErrInvalidState = errors.New("job is in a terminal state")
)

const (
	msgCreated   = "Job created"
	msgCompleted = "Job completed successfully"
	msgFailed    = "Job failed"
	msgCancelled = "Job cancelled by user"
)

// Manager owns job lifecycle transitions on top of a Store.
type Manager struct {
	mu     sync.Mutex
	store  *jobstore.Store
	logger zerolog.Logger
}

// NewManager builds a lifecycle manager over the given store.
func NewManager(store *jobstore.Store, logger zerolog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// Create allocates an id and durably writes a pending job record.
func (m *Manager) Create(ctx context.Context, jobType string, data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	now := time.Now().UnixMilli()
	job := models.Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    models.StatusPending,
		Progress:  0,
		Message:   msgCreated,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(ctx, job); err != nil {
		return "", fmt.Errorf("save job: %w", err)
	}
	telemetry.JobsCreated.WithLabelValues(jobType).Inc()
	m.logger.Info().Str("job_id", job.ID).Str("type", jobType).Msg("job created")
	return job.ID, nil
}

// ReportProgress forces status to processing, clamps percent into [0,100],
// overwrites the message and shallow-merges patch into the job's data. A job
// already in a terminal state is never re-announced as processing; such a
// call fails with ErrInvalidState.
func (m *Manager) ReportProgress(ctx context.Context, id string, percent int, message string, patch map[string]any) error {
	return m.mutate(ctx, id, func(job *models.Job) error {
		if models.Terminal(job.Status) {
			return fmt.Errorf("progress on %s job: %w", job.Status, ErrInvalidState)
		}
		job.Status = models.StatusProcessing
		job.Progress = clamp(percent)
		job.Message = message
		for k, v := range patch {
			job.Data[k] = v
		}
		return nil
	})
}

// Complete marks the job completed with the final result payload. A job
// already terminal (e.g. cancelled while the pipeline was finishing) is left
// as is and the call fails with ErrInvalidState.
func (m *Manager) Complete(ctx context.Context, id string, result any) error {
	err := m.mutate(ctx, id, func(job *models.Job) error {
		if models.Terminal(job.Status) {
			return fmt.Errorf("complete %s job: %w", job.Status, ErrInvalidState)
		}
		job.Status = models.StatusCompleted
		job.Progress = 100
		job.Message = msgCompleted
		job.Result = result
		job.Error = nil
		return nil
	})
	if err != nil {
		return err
	}
	telemetry.JobsCompleted.Inc()
	m.logger.Info().Str("job_id", id).Msg("job completed")
	return nil
}

// Fail marks the job failed with a string description. Live error values are
// never retained across the persistence boundary. Like Complete, it refuses
// to overwrite a terminal record.
func (m *Manager) Fail(ctx context.Context, id string, errMsg string) error {
	err := m.mutate(ctx, id, func(job *models.Job) error {
		if models.Terminal(job.Status) {
			return fmt.Errorf("fail %s job: %w", job.Status, ErrInvalidState)
		}
		job.Status = models.StatusFailed
		job.Message = msgFailed
		job.Error = &errMsg
		job.Result = nil
		return nil
	})
	if err != nil {
		return err
	}
	telemetry.JobsFailed.Inc()
	m.logger.Warn().Str("job_id", id).Str("error", errMsg).Msg("job failed")
	return nil
}

// Cancel marks a pending or processing job cancelled. Terminal success or
// failure cannot be retroactively cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	err := m.mutate(ctx, id, func(job *models.Job) error {
		if job.Status == models.StatusCompleted || job.Status == models.StatusFailed {
			return fmt.Errorf("cancel %s job: %w", job.Status, ErrInvalidState)
		}
		job.Status = models.StatusCancelled
		job.Message = msgCancelled
		return nil
	})
	if err != nil {
		return err
	}
	telemetry.JobsCancelled.Inc()
	m.logger.Info().Str("job_id", id).Msg("job cancelled")
	return nil
}

// GetStatus returns a read-only projection for polling, or found=false when
// the job is absent. It is side-effect-free.
func (m *Manager) GetStatus(ctx context.Context, id string) (models.JobStatus, bool, error) {
	job, found, err := m.store.Load(ctx, id)
	if err != nil || !found {
		return models.JobStatus{}, false, err
	}
	return models.StatusOf(job), true, nil
}

// Cancelled reports whether the job has been marked cancelled. Pipelines
// poll this between chunks to observe cooperative cancellation; a missing
// record also stops work (the sweep may have evicted it).
func (m *Manager) Cancelled(ctx context.Context, id string) bool {
	job, found, err := m.store.Load(ctx, id)
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", id).Msg("cancellation check failed")
		return false
	}
	if !found {
		return true
	}
	return job.Status == models.StatusCancelled
}

// mutate runs a load-modify-save cycle under the manager lock so concurrent
// lifecycle calls for the same id cannot interleave.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*models.Job) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, found, err := m.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !found {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if job.Data == nil {
		job.Data = map[string]any{}
	}
	if err := fn(&job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UnixMilli()
	if err := m.store.Save(ctx, job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func clamp(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
