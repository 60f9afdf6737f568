// Package runtime drives the assay pipeline: materializing run items,
// executing them against providers, rolling run state up, and delivering
// mapped results to partners. The workers consume durable queue tasks;
// admission-side orchestration (start, resume) lives in RunService.
package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/assay/fingerprint"
	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/provider"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

// Materializer expands a run into its work units: one pending RunItem per
// (question, provider spec) pair, identified by fingerprint.
type Materializer struct {
	store  store.Store
	logger *log.Logger
}

// NewMaterializer creates a materializer over the given store.
func NewMaterializer(st store.Store, logger *log.Logger) *Materializer {
	return &Materializer{store: st, logger: logger}
}

// Materialize creates the run's missing items and returns how many were
// newly created. Fingerprints that already exist are skipped silently,
// so repeated materialization of the same run is idempotent and the
// second call reports zero.
func (m *Materializer) Materialize(ctx context.Context, run *types.Run) (int, error) {
	questions, err := m.store.ListCampaignQuestions(ctx, run.CampaignID)
	if err != nil {
		return 0, fmt.Errorf("list campaign questions: %w", err)
	}

	version := promptVersion(run)
	created := 0
	for i := range questions {
		q := &questions[i]
		for _, spec := range run.Spec.Providers {
			item := &types.RunItem{
				RunID:       run.ID,
				QuestionID:  q.ID,
				Fingerprint: itemFingerprint(version, q, spec),
				Status:      types.ItemPending,
			}
			err := m.store.CreateRunItem(ctx, item)
			if errors.Is(err, store.ErrDuplicateFingerprint) {
				continue
			}
			if err != nil {
				return created, fmt.Errorf("create run item: %w", err)
			}
			created++
		}
	}

	m.logger.Info("run_materialized", map[string]any{
		"run_id":    run.ID,
		"questions": len(questions),
		"providers": len(run.Spec.Providers),
		"created":   created,
	})
	return created, nil
}

// itemFingerprint names one (question, provider spec) unit. The provider
// and model slots come from the spec itself; the settings slot uses the
// merged map, so a question-level override changes identity. The
// executor recomputes this to resolve which spec produced an item.
func itemFingerprint(promptVersion string, q *types.Question, spec types.SettingsMap) string {
	merged := spec.Merge(q.ProviderOverrides())
	return fingerprint.Compute(spec.Name(), spec.Model(), promptVersion, q.ID, q.PersonaID, q.Text, merged)
}

func promptVersion(run *types.Run) string {
	if run.Spec.PromptVersion != "" {
		return run.Spec.PromptVersion
	}
	return provider.DefaultPromptVersion
}
