// Package storage persists run history and record-mode payload files.
package storage

import (
	"context"

	"github.com/midl-xyz/load-test/pkg/types"
)

// Storage is the persistence interface for load-test runs.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *types.RunRecord) error
	CompleteRun(ctx context.Context, id string, stats *types.Stats, status, errMsg string) error
	GetRun(ctx context.Context, id string) (*types.RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*types.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error

	// Per-pipeline outcomes, inserted in bulk after a run completes
	InsertResults(ctx context.Context, runID string, results []types.PipelineResult) error
	GetResults(ctx context.Context, runID string, limit, offset int) ([]types.PipelineResult, error)

	Close() error
}
