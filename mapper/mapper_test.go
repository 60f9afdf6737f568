package mapper

import (
	"errors"
	"testing"

	"github.com/pithecene-io/assay/export"
)

func TestRegistry_Get(t *testing.T) {
	r := Default()

	m, err := r.Get("partner_webhook", "v1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.Name() != "partner_webhook" || m.Version() != "v1" {
		t.Errorf("resolved %s@%s", m.Name(), m.Version())
	}

	// An empty version resolves the default.
	if _, err := r.Get("partner_webhook", ""); err != nil {
		t.Errorf("Get with empty version failed: %v", err)
	}

	_, err = r.Get("partner_webhook", "v9")
	if !errors.Is(err, ErrUnknownMapper) {
		t.Errorf("unknown version error = %v, want ErrUnknownMapper", err)
	}
	_, err = r.Get("retired_mapper", "v1")
	if !errors.Is(err, ErrUnknownMapper) {
		t.Errorf("unknown name error = %v, want ErrUnknownMapper", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	names := Default().Names()
	if len(names) != 1 || names[0] != "partner_webhook@v1" {
		t.Errorf("Names = %v", names)
	}
	if !Default().Has("partner_webhook", "") {
		t.Error("Has(partner_webhook) = false")
	}
}

func TestPartnerWebhookV1_Map(t *testing.T) {
	rec := export.Record{
		RunItemID:    "item-1",
		QuestionText: "How long does the battery last?",
		Answer:       "About 12 hours.",
		Citations:    []string{"https://example.com/a"},
		Provider:     "openai",
		Model:        "gpt-4o-mini",
		CostCents:    4.5,
		LatencyMS:    420,
	}
	payload := PartnerWebhookV1{}.Map(rec)

	if payload["query_id"] != "item-1" {
		t.Errorf("query_id = %v", payload["query_id"])
	}
	if payload["question"] != "How long does the battery last?" {
		t.Errorf("question = %v", payload["question"])
	}
	if payload["answer"] != "About 12 hours." {
		t.Errorf("answer = %v", payload["answer"])
	}
	sources, ok := payload["sources"].([]string)
	if !ok || len(sources) != 1 || sources[0] != "https://example.com/a" {
		t.Errorf("sources = %v", payload["sources"])
	}

	meta, ok := payload["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata = %T", payload["metadata"])
	}
	if meta["provider"] != "openai" || meta["model"] != "gpt-4o-mini" {
		t.Errorf("metadata = %v", meta)
	}
	if meta["cost_usd"] != 0.045 {
		t.Errorf("cost_usd = %v, want cents converted to dollars", meta["cost_usd"])
	}
	if meta["latency_ms"] != int64(420) {
		t.Errorf("latency_ms = %v", meta["latency_ms"])
	}
}

func TestPartnerWebhookV1_MapNoSources(t *testing.T) {
	payload := PartnerWebhookV1{}.Map(export.Record{RunItemID: "item-2"})
	sources, ok := payload["sources"].([]string)
	if !ok || sources == nil {
		t.Fatalf("sources = %v, want an empty list, never null", payload["sources"])
	}
	if len(sources) != 0 {
		t.Errorf("sources = %v, want empty", sources)
	}
}
