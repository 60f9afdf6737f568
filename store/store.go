// Package store persists the assay entities. The relational store is the
// system of record; Redis holds only coordination state (buckets, queues).
//
// Two implementations exist: Postgres for production and an in-memory
// store for tests. Both satisfy the same Store interface so the pipeline
// packages can be exercised without a database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/assay/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateFingerprint is returned by CreateRunItem when an item with
// the same fingerprint already exists. Materialization treats it as a
// silent skip.
var ErrDuplicateFingerprint = errors.New("duplicate fingerprint")

// ItemFilter narrows ListRunItems. Zero values mean "no constraint";
// a zero Limit returns all matching items.
type ItemFilter struct {
	Status types.ItemStatus
	Limit  int
	Offset int
}

// ItemError is one failed item's error message, used for run status
// sample errors.
type ItemError struct {
	RunItemID string `db:"run_item_id" json:"run_item_id"`
	Message   string `db:"message" json:"message"`
}

// ResultRow is one run item joined with its question, topic, persona and
// (when present) response. The export composer flattens these into
// records.
type ResultRow struct {
	Item     types.RunItem
	Question types.Question
	Topic    types.Topic
	Persona  types.Persona
	Response *types.Response
}

// Store is the persistence boundary for all assay entities.
//
// Writes are short transactions; no method holds a transaction across a
// network call. Create methods fill in ID and CreatedAt when unset.
type Store interface {
	CreateCampaign(ctx context.Context, c *types.Campaign) error
	GetCampaign(ctx context.Context, id string) (*types.Campaign, error)
	FindCampaignByName(ctx context.Context, name string) (*types.Campaign, error)

	CreateTopic(ctx context.Context, t *types.Topic) error
	GetTopic(ctx context.Context, id string) (*types.Topic, error)
	FindTopic(ctx context.Context, campaignID, title string) (*types.Topic, error)

	CreatePersona(ctx context.Context, p *types.Persona) error
	GetPersona(ctx context.Context, id string) (*types.Persona, error)
	FindPersonaByName(ctx context.Context, name string) (*types.Persona, error)
	ListPersonas(ctx context.Context, limit, offset int) ([]types.Persona, error)

	CreateQuestion(ctx context.Context, q *types.Question) error
	GetQuestion(ctx context.Context, id string) (*types.Question, error)
	// FindQuestionByExternalID locates a question inside a topic by its
	// metadata external_id, the import idempotency key.
	FindQuestionByExternalID(ctx context.Context, topicID, externalID string) (*types.Question, error)
	// ListCampaignQuestions returns every question reachable from the
	// campaign via its topics, in creation order.
	ListCampaignQuestions(ctx context.Context, campaignID string) ([]types.Question, error)

	CreateRun(ctx context.Context, r *types.Run) error
	GetRun(ctx context.Context, id string) (*types.Run, error)
	// UpdateRunRollup writes the aggregated status, cost and lifecycle
	// timestamps. Safe for concurrent last-writer-wins use: the values
	// are a pure function of current item state.
	UpdateRunRollup(ctx context.Context, id string, status types.RunStatus, costCents float64, startedAt, finishedAt *time.Time) error

	// CreateRunItem inserts a pending item. Returns
	// ErrDuplicateFingerprint when the fingerprint already exists.
	CreateRunItem(ctx context.Context, it *types.RunItem) error
	GetRunItem(ctx context.Context, id string) (*types.RunItem, error)
	UpdateRunItem(ctx context.Context, it *types.RunItem) error
	ListRunItems(ctx context.Context, runID string, f ItemFilter) ([]types.RunItem, error)
	CountRunItems(ctx context.Context, runID string, status types.ItemStatus) (int, error)
	ItemStatusCounts(ctx context.Context, runID string) (types.StatusCounts, error)
	// SampleItemErrors returns up to limit failed items' errors.
	SampleItemErrors(ctx context.Context, runID string, limit int) ([]ItemError, error)

	CreateResponse(ctx context.Context, r *types.Response) error
	// GetItemResponse returns the response for one run item, or
	// ErrNotFound when the item has none.
	GetItemResponse(ctx context.Context, runItemID string) (*types.Response, error)
	// SumResponseCost totals response costs across a run's items.
	SumResponseCost(ctx context.Context, runID string) (float64, error)

	CreateExport(ctx context.Context, e *types.Export) error
	GetExport(ctx context.Context, id string) (*types.Export, error)
	UpdateExport(ctx context.Context, e *types.Export) error

	CreateDelivery(ctx context.Context, d *types.Delivery) error
	GetDelivery(ctx context.Context, id string) (*types.Delivery, error)
	UpdateDelivery(ctx context.Context, d *types.Delivery) error
	DeliveryStatusCounts(ctx context.Context, exportID string) (map[types.DeliveryStatus]int, error)
	ListFailedDeliveries(ctx context.Context, exportID string, limit int) ([]types.Delivery, error)

	// ListResultRows joins run items with question, topic, persona and
	// response for export composition, ordered by item creation time.
	ListResultRows(ctx context.Context, runID string) ([]ResultRow, error)

	Ping(ctx context.Context) error
	Close() error
}
