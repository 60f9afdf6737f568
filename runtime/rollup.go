package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

// RollupStatus derives a run's status from its item counts. The mapping
// is a pure function, so concurrent rollups from parallel workers
// converge on the same value regardless of write order.
func RollupStatus(c types.StatusCounts) types.RunStatus {
	switch {
	case c.Total() == 0:
		return types.RunPending
	case c.Terminal() == c.Total():
		return types.RunCompleted
	case c.Running > 0 || c.Succeeded > 0:
		return types.RunRunning
	default:
		return types.RunPending
	}
}

// RollupRun recomputes the run's aggregate state from its items and
// persists it: per-status counts drive the run status, response costs
// sum into cost_cents, and the lifecycle timestamps advance. started_at
// is set once on the first transition out of pending; finished_at is
// set when every item is terminal and cleared again if the run resumes.
func RollupRun(ctx context.Context, st store.Store, runID string) (types.RunStatus, error) {
	counts, err := st.ItemStatusCounts(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("item status counts: %w", err)
	}
	cost, err := st.SumResponseCost(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("sum response cost: %w", err)
	}

	status := RollupStatus(counts)
	now := time.Now().UTC()
	var startedAt, finishedAt *time.Time
	switch status {
	case types.RunRunning:
		startedAt = &now
	case types.RunCompleted:
		startedAt = &now
		finishedAt = &now
	}

	if err := st.UpdateRunRollup(ctx, runID, status, cost, startedAt, finishedAt); err != nil {
		return status, fmt.Errorf("update run rollup: %w", err)
	}
	return status, nil
}
