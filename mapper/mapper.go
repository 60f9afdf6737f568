// Package mapper shapes exported records into partner payloads.
//
// Mappers are versioned: an export names one as name@version and every
// Delivery records the pair it was mapped with, so a partner schema can
// evolve without rewriting history. Mapping happens once, at export
// composition; the delivery worker only re-resolves the pair as an
// existence guard before POSTing the stored payload.
package mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pithecene-io/assay/export"
	"github.com/pithecene-io/assay/types"
)

// DefaultVersion is assumed when an export names a mapper without a
// version.
const DefaultVersion = "v1"

// ErrUnknownMapper is returned when no mapper matches name@version.
var ErrUnknownMapper = errors.New("unknown mapper")

// Mapper maps one exported record to an outbound partner payload.
// Implementations are pure.
type Mapper interface {
	Name() string
	Version() string
	Map(rec export.Record) types.JSONMap
}

// Registry resolves mappers by name and version. Built once at startup;
// safe for concurrent reads.
type Registry struct {
	mappers map[string]Mapper
}

// NewRegistry creates a registry over the given mappers.
func NewRegistry(mappers ...Mapper) *Registry {
	r := &Registry{mappers: make(map[string]Mapper, len(mappers))}
	for _, m := range mappers {
		r.mappers[mapperKey(m.Name(), m.Version())] = m
	}
	return r
}

// Default returns a registry holding the built-in mappers.
func Default() *Registry {
	return NewRegistry(PartnerWebhookV1{})
}

// Get resolves name@version. An empty version means DefaultVersion.
func (r *Registry) Get(name, version string) (Mapper, error) {
	if version == "" {
		version = DefaultVersion
	}
	m, ok := r.mappers[mapperKey(name, version)]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrUnknownMapper, name, version)
	}
	return m, nil
}

// Has reports whether name@version is registered.
func (r *Registry) Has(name, version string) bool {
	_, err := r.Get(name, version)
	return err == nil
}

// Names lists the registered name@version pairs, sorted.
func (r *Registry) Names() []string {
	keys := make([]string, 0, len(r.mappers))
	for k := range r.mappers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mapperKey(name, version string) string {
	return name + "@" + version
}

// PartnerWebhookV1 maps a record to the partner query schema.
type PartnerWebhookV1 struct{}

func (PartnerWebhookV1) Name() string    { return "partner_webhook" }
func (PartnerWebhookV1) Version() string { return "v1" }

// Map builds the partner payload. Costs convert from cents to USD;
// sources is always a list, never null.
func (PartnerWebhookV1) Map(rec export.Record) types.JSONMap {
	sources := rec.Citations
	if sources == nil {
		sources = []string{}
	}
	return types.JSONMap{
		"query_id": rec.RunItemID,
		"question": rec.QuestionText,
		"answer":   rec.Answer,
		"sources":  sources,
		"metadata": map[string]any{
			"provider":   rec.Provider,
			"model":      rec.Model,
			"cost_usd":   rec.CostCents / 100,
			"latency_ms": rec.LatencyMS,
		},
	}
}
