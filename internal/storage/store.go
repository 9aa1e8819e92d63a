package storage

import (
	"context"

	"gremlin/internal/model"
)

// Store defines persistence operations for training runs and their outputs.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveLossHistory(ctx context.Context, runID string, history []float64) error
	GetLossHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveContactMap(ctx context.Context, contactMap model.ContactMapRecord) error
	GetContactMap(ctx context.Context, runID string) (model.ContactMapRecord, bool, error)
}
