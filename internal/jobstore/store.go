// Package jobstore persists job records behind a fast in-memory index with
// an optional durable backing store. Memory-only mode loses all job state on
// restart; jobs are short-lived relative to process uptime, so that mode is
// acceptable for development.
package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tariff-works/internal/models"
	"tariff-works/internal/telemetry"
)

// Store is durable keyed storage for job records.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]models.Job
	backing Backing // nil in memory-only mode
}

// New builds a store. Pass a nil backing for memory-only mode.
func New(backing Backing) *Store {
	return &Store{
		jobs:    make(map[string]models.Job),
		backing: backing,
	}
}

// Durable reports whether a backing store is configured.
func (s *Store) Durable() bool { return s.backing != nil }

// Save writes the full record into the memory index and, when durable
// backing is enabled, overwrites the per-id persistent entry.
func (s *Store) Save(ctx context.Context, job models.Job) error {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	if s.backing != nil {
		return s.backing.Save(ctx, job)
	}
	return nil
}

// Load returns the memory copy if present, falling back to the backing
// store and populating the memory index on a hit.
func (s *Store) Load(ctx context.Context, id string) (models.Job, bool, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if ok {
		return job, true, nil
	}

	if s.backing == nil {
		return models.Job{}, false, nil
	}
	job, found, err := s.backing.Load(ctx, id)
	if err != nil || !found {
		return models.Job{}, false, err
	}
	s.mu.Lock()
	s.jobs[id] = job
	s.mu.Unlock()
	return job, true, nil
}

// Delete removes the record from both layers.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()

	if s.backing != nil {
		return s.backing.Delete(ctx, id)
	}
	return nil
}

// SweepExpired deletes every record whose updatedAt is older than maxAge and
// returns the number of deletions. Enumeration reads the backing store when
// one is configured, otherwise the memory index. This is advisory cleanup
// bounding storage growth, not required for any single job's correctness.
func (s *Store) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	now := time.Now().UnixMilli()
	cutoff := maxAge.Milliseconds()

	var candidates []models.Job
	if s.backing != nil {
		listed, err := s.backing.List(ctx)
		if err != nil {
			return 0, err
		}
		candidates = listed
	} else {
		s.mu.RLock()
		for _, job := range s.jobs {
			candidates = append(candidates, job)
		}
		s.mu.RUnlock()
	}

	cleaned := 0
	for _, job := range candidates {
		if now-job.UpdatedAt <= cutoff {
			continue
		}
		if err := s.Delete(ctx, job.ID); err != nil {
			return cleaned, err
		}
		cleaned++
	}
	return cleaned, nil
}

// RunSweeper triggers SweepExpired on a fixed interval until the context is
// done.
func (s *Store) RunSweeper(ctx context.Context, interval, maxAge time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := s.SweepExpired(ctx, maxAge)
			if err != nil {
				logger.Error().Err(err).Msg("job sweep failed")
				continue
			}
			if cleaned > 0 {
				telemetry.JobsSwept.Add(float64(cleaned))
				logger.Info().Int("cleaned", cleaned).Msg("removed expired jobs")
			}
		}
	}
}

// Close releases the backing store, if any.
func (s *Store) Close() {
	if s.backing != nil {
		s.backing.Close()
	}
}
