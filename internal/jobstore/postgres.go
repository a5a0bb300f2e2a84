package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tariff-works/internal/models"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at BIGINT NOT NULL
)`

// PostgresBacking stores each job as one JSONB row keyed by id.
type PostgresBacking struct {
	pool *pgxpool.Pool
}

// NewPostgresBacking creates a pooled connection and ensures the jobs table.
func NewPostgresBacking(ctx context.Context, dsn string) (*PostgresBacking, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, jobsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure jobs table: %w", err)
	}
	return &PostgresBacking{pool: pool}, nil
}

func (b *PostgresBacking) Save(ctx context.Context, job models.Job) error {
	record, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO jobs (id, record, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET record = $2, updated_at = $3
	`, job.ID, record, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

func (b *PostgresBacking) Load(ctx context.Context, id string) (models.Job, bool, error) {
	var record []byte
	err := b.pool.QueryRow(ctx, `SELECT record FROM jobs WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("query job %s: %w", id, err)
	}
	var job models.Job
	if err := json.Unmarshal(record, &job); err != nil {
		return models.Job{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, true, nil
}

func (b *PostgresBacking) Delete(ctx context.Context, id string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	return err
}

func (b *PostgresBacking) List(ctx context.Context) ([]models.Job, error) {
	rows, err := b.pool.Query(ctx, `SELECT record FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		var job models.Job
		if err := json.Unmarshal(record, &job); err != nil {
			return nil, fmt.Errorf("decode job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (b *PostgresBacking) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}
