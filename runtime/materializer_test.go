package runtime

import (
	"context"
	"testing"

	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

func TestMaterialize_OneItemPerQuestionProviderPair(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	camp, q1 := seedPipeline(t, st)

	q2 := &types.Question{
		TopicID:   q1.TopicID,
		PersonaID: q1.PersonaID,
		Text:      "Is the battery replaceable?",
		Metadata:  types.JSONMap{"external_id": "q-2"},
	}
	if err := st.CreateQuestion(ctx, q2); err != nil {
		t.Fatalf("CreateQuestion failed: %v", err)
	}

	run := seedRun(t, st, camp.ID,
		openaiSpec(),
		types.SettingsMap{"name": "gemini", "model": "gemini-2.0-flash"},
	)

	created, err := NewMaterializer(st, nil).Materialize(ctx, run)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if created != 4 {
		t.Errorf("created = %d, want 4 (2 questions x 2 providers)", created)
	}

	items, err := st.ListRunItems(ctx, run.ID, store.ItemFilter{})
	if err != nil {
		t.Fatalf("ListRunItems failed: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("items = %d, want 4", len(items))
	}
	seen := map[string]bool{}
	for _, it := range items {
		if it.Status != types.ItemPending {
			t.Errorf("item %s status = %q, want pending", it.ID, it.Status)
		}
		if seen[it.Fingerprint] {
			t.Errorf("duplicate fingerprint %s", it.Fingerprint)
		}
		seen[it.Fingerprint] = true
	}
}

func TestMaterialize_Idempotent(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	camp, _ := seedPipeline(t, st)
	run := seedRun(t, st, camp.ID, openaiSpec())

	m := NewMaterializer(st, nil)
	first, err := m.Materialize(ctx, run)
	if err != nil {
		t.Fatalf("first Materialize failed: %v", err)
	}
	if first != 1 {
		t.Errorf("first created = %d, want 1", first)
	}

	second, err := m.Materialize(ctx, run)
	if err != nil {
		t.Fatalf("second Materialize failed: %v", err)
	}
	if second != 0 {
		t.Errorf("second created = %d, want 0", second)
	}

	n, err := st.CountRunItems(ctx, run.ID, "")
	if err != nil {
		t.Fatalf("CountRunItems failed: %v", err)
	}
	if n != 1 {
		t.Errorf("item count after repeat = %d, want 1", n)
	}
}

// Fingerprints carry no run id, so a second run with an identical spec
// finds every unit already owned and creates nothing.
func TestMaterialize_DedupAcrossRuns(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	camp, _ := seedPipeline(t, st)

	first := seedRun(t, st, camp.ID, openaiSpec())
	m := NewMaterializer(st, nil)
	if _, err := m.Materialize(ctx, first); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	second := seedRun(t, st, camp.ID, openaiSpec())
	created, err := m.Materialize(ctx, second)
	if err != nil {
		t.Fatalf("Materialize on second run failed: %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0 for an identical spec", created)
	}

	// A different prompt version is new work.
	third := seedRun(t, st, camp.ID, openaiSpec())
	third.Spec.PromptVersion = "v2"
	created, err = m.Materialize(ctx, third)
	if err != nil {
		t.Fatalf("Materialize with new prompt version failed: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1 for a new prompt version", created)
	}
}

// The settings slot is part of the unit's identity: the same question
// under a spec with different knobs is new work, not a duplicate.
func TestMaterialize_SettingsChangeIdentity(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	camp, _ := seedPipeline(t, st)

	m := NewMaterializer(st, nil)
	base := seedRun(t, st, camp.ID, openaiSpec())
	if _, err := m.Materialize(ctx, base); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	warm := openaiSpec()
	warm["temperature"] = 0.7
	warm["allow_sampling"] = true
	rerun := seedRun(t, st, camp.ID, warm)
	created, err := m.Materialize(ctx, rerun)
	if err != nil {
		t.Fatalf("Materialize with new settings failed: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1 for changed settings", created)
	}
}

func TestMaterialize_EmptyCampaign(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	camp := &types.Campaign{Name: "empty"}
	if err := st.CreateCampaign(ctx, camp); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	run := seedRun(t, st, camp.ID, openaiSpec())

	created, err := NewMaterializer(st, nil).Materialize(ctx, run)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0", created)
	}
}
