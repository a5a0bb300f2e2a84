package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariff-works/internal/chunk"
	"tariff-works/internal/config"
	"tariff-works/internal/fetch"
	"tariff-works/internal/jobs"
	"tariff-works/internal/jobstore"
	"tariff-works/internal/models"
)

func newTestPipelines(t *testing.T) *Pipelines {
	t.Helper()
	cfg := config.Config{
		ChunkProcessing: 2,
		ChunkReport:     2,
		OutputDir:       t.TempDir(),
	}
	store := jobstore.New(nil)
	manager := jobs.NewManager(store, zerolog.Nop())
	return New(cfg, manager, fetch.New(cfg), zerolog.Nop())
}

func awaitStatus(t *testing.T, p *Pipelines, jobID, want string) models.JobStatus {
	t.Helper()
	var status models.JobStatus
	require.Eventually(t, func() bool {
		s, found, err := p.Manager().GetStatus(context.Background(), jobID)
		if err != nil || !found {
			return false
		}
		status = s
		return s.Status == want
	}, 2*time.Second, 10*time.Millisecond, "job never reached status %s", want)
	return status
}

func TestLaunchCompletes(t *testing.T) {
	p := newTestPipelines(t)
	jobID, err := p.Manager().Create(context.Background(), TypeProcessing, nil)
	require.NoError(t, err)

	p.Launch(jobID, func(context.Context) (any, error) {
		return map[string]any{"answer": 42}, nil
	})

	status := awaitStatus(t, p, jobID, models.StatusCompleted)
	assert.Equal(t, 100, status.Progress)
	assert.Nil(t, status.Error)
}

func TestLaunchRecordsFailure(t *testing.T) {
	p := newTestPipelines(t)
	jobID, err := p.Manager().Create(context.Background(), TypeProcessing, nil)
	require.NoError(t, err)

	p.Launch(jobID, func(context.Context) (any, error) {
		return nil, errors.New("source file unreadable")
	})

	status := awaitStatus(t, p, jobID, models.StatusFailed)
	require.NotNil(t, status.Error)
	assert.Equal(t, "source file unreadable", *status.Error)
}

func TestLaunchRecoversPanic(t *testing.T) {
	p := newTestPipelines(t)
	jobID, err := p.Manager().Create(context.Background(), TypeProcessing, nil)
	require.NoError(t, err)

	p.Launch(jobID, func(context.Context) (any, error) {
		panic("index out of range")
	})

	status := awaitStatus(t, p, jobID, models.StatusFailed)
	require.NotNil(t, status.Error)
	assert.Contains(t, *status.Error, "pipeline panic")
}

func TestLaunchLeavesCancelledRecord(t *testing.T) {
	p := newTestPipelines(t)
	ctx := context.Background()
	jobID, err := p.Manager().Create(ctx, TypeProcessing, nil)
	require.NoError(t, err)
	require.NoError(t, p.Manager().Cancel(ctx, jobID))

	done := make(chan struct{})
	p.Launch(jobID, func(context.Context) (any, error) {
		defer close(done)
		return nil, chunk.ErrCanceled
	})
	<-done

	status := awaitStatus(t, p, jobID, models.StatusCancelled)
	assert.Equal(t, models.StatusCancelled, status.Status)
}
