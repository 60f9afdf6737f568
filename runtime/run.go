package runtime

import (
	"context"
	"fmt"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/queue"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

// RunServiceConfig configures run orchestration.
type RunServiceConfig struct {
	Store store.Store
	// Queue receives one execution task per pending item.
	Queue Enqueuer
	// Collector records run starts. If nil, no metrics are recorded.
	Collector *metrics.Collector
	Logger    *log.Logger
}

// RunService drives a run's lifecycle around the workers: Start
// materializes and enqueues, Resume re-enqueues failures. Item state
// transitions themselves belong to the execution worker.
type RunService struct {
	config       RunServiceConfig
	materializer *Materializer
}

// NewRunService creates a run service.
func NewRunService(cfg RunServiceConfig) *RunService {
	return &RunService{
		config:       cfg,
		materializer: NewMaterializer(cfg.Store, cfg.Logger),
	}
}

// StartResult reports what Start did.
type StartResult struct {
	// ItemsCreated is the number of newly materialized items.
	ItemsCreated int `json:"items_created"`
	// ItemsEnqueued counts every pending item enqueued, including
	// leftovers from an earlier interrupted start.
	ItemsEnqueued int `json:"items_enqueued"`
}

// Start materializes the run's items and enqueues an execution task for
// every pending one. Safe to call again: materialization is idempotent
// and re-enqueued items are guarded by the worker's status check.
func (s *RunService) Start(ctx context.Context, run *types.Run) (*StartResult, error) {
	created, err := s.materializer.Materialize(ctx, run)
	if err != nil {
		return nil, err
	}

	pending, err := s.config.Store.ListRunItems(ctx, run.ID, store.ItemFilter{Status: types.ItemPending})
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	for i := range pending {
		task := queue.NewTask(queue.TypeExecuteItem, pending[i].ID)
		if err := s.config.Queue.Enqueue(ctx, queue.ExecutionQueue, task); err != nil {
			return nil, fmt.Errorf("enqueue item %s: %w", pending[i].ID, err)
		}
	}

	s.config.Collector.IncRunStarted()
	s.config.Logger.Info("run_started", map[string]any{
		"run_id":         run.ID,
		"items_created":  created,
		"items_enqueued": len(pending),
	})
	return &StartResult{ItemsCreated: created, ItemsEnqueued: len(pending)}, nil
}

// Resume resets every failed item to pending and re-enqueues it. The
// attempt counter is cumulative, so each resume grants one further
// attempt before the retry budget fails the item again. The rollup
// recomputes run status and clears finished_at.
func (s *RunService) Resume(ctx context.Context, run *types.Run) (int, error) {
	failed, err := s.config.Store.ListRunItems(ctx, run.ID, store.ItemFilter{Status: types.ItemFailed})
	if err != nil {
		return 0, fmt.Errorf("list failed items: %w", err)
	}
	for i := range failed {
		item := &failed[i]
		item.Status = types.ItemPending
		if err := s.config.Store.UpdateRunItem(ctx, item); err != nil {
			return 0, fmt.Errorf("reset item %s: %w", item.ID, err)
		}
		task := queue.NewTask(queue.TypeExecuteItem, item.ID)
		if err := s.config.Queue.Enqueue(ctx, queue.ExecutionQueue, task); err != nil {
			return 0, fmt.Errorf("enqueue item %s: %w", item.ID, err)
		}
	}

	if len(failed) > 0 {
		if _, err := RollupRun(ctx, s.config.Store, run.ID); err != nil {
			return 0, fmt.Errorf("rollup after resume: %w", err)
		}
	}

	s.config.Logger.Info("run_resumed", map[string]any{
		"run_id":        run.ID,
		"items_resumed": len(failed),
	})
	return len(failed), nil
}
