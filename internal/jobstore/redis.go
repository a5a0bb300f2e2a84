package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tariff-works/internal/models"
)

const jobKeyPrefix = "job:"

// RedisBacking stores each job as one JSON record under job:<id>.
type RedisBacking struct {
	client *redis.Client
}

// NewRedisBacking wraps an existing redis client.
func NewRedisBacking(client *redis.Client) *RedisBacking {
	return &RedisBacking{client: client}
}

func jobKey(id string) string { return jobKeyPrefix + id }

func (b *RedisBacking) Save(ctx context.Context, job models.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := b.client.Set(ctx, jobKey(job.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("write job %s: %w", job.ID, err)
	}
	return nil
}

func (b *RedisBacking) Load(ctx context.Context, id string) (models.Job, bool, error) {
	data, err := b.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("read job %s: %w", id, err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return models.Job{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, true, nil
}

func (b *RedisBacking) Delete(ctx context.Context, id string) error {
	return b.client.Del(ctx, jobKey(id)).Err()
}

func (b *RedisBacking) List(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	iter := b.client.Scan(ctx, 0, jobKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := b.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and read
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", iter.Val(), err)
		}
		var job models.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Val(), err)
		}
		jobs = append(jobs, job)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	return jobs, nil
}

func (b *RedisBacking) Close() {
	_ = b.client.Close()
}
