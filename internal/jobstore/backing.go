package jobstore

import (
	"context"

	"tariff-works/internal/models"
)

// Backing is optional durable per-id persistence for job records. Records
// survive process restart; writes carry overwrite semantics.
type Backing interface {
	Save(ctx context.Context, job models.Job) error
	Load(ctx context.Context, id string) (models.Job, bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.Job, error)
	Close()
}
