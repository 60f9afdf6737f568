package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/assay/types"
)

// Memory is an in-memory Store used by tests and local experiments.
// All methods copy values in and out so callers never share map entries.
type Memory struct {
	mu sync.RWMutex

	campaigns  map[string]types.Campaign
	topics     map[string]types.Topic
	personas   map[string]types.Persona
	questions  map[string]types.Question
	runs       map[string]types.Run
	items      map[string]types.RunItem
	responses  map[string]types.Response
	exports    map[string]types.Export
	deliveries map[string]types.Delivery

	// fingerprints mirrors the unique index on run_items.fingerprint.
	fingerprints map[string]string

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		campaigns:    map[string]types.Campaign{},
		topics:       map[string]types.Topic{},
		personas:     map[string]types.Persona{},
		questions:    map[string]types.Question{},
		runs:         map[string]types.Run{},
		items:        map[string]types.RunItem{},
		responses:    map[string]types.Response{},
		exports:      map[string]types.Export{},
		deliveries:   map[string]types.Delivery{},
		fingerprints: map[string]string{},
		now:          time.Now,
	}
}

func (m *Memory) stamp() time.Time { return m.now().UTC() }

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// CreateCampaign inserts a campaign, filling ID and CreatedAt when unset.
func (m *Memory) CreateCampaign(_ context.Context, c *types.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&c.ID)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.stamp()
	}
	m.campaigns[c.ID] = *c
	return nil
}

// GetCampaign returns a campaign by id.
func (m *Memory) GetCampaign(_ context.Context, id string) (*types.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// FindCampaignByName returns the campaign with the given name.
func (m *Memory) FindCampaignByName(_ context.Context, name string) (*types.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.campaigns {
		if c.Name == name {
			out := c
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// CreateTopic inserts a topic.
func (m *Memory) CreateTopic(_ context.Context, t *types.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&t.ID)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.stamp()
	}
	m.topics[t.ID] = *t
	return nil
}

// GetTopic returns a topic by id.
func (m *Memory) GetTopic(_ context.Context, id string) (*types.Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// FindTopic returns the topic with the given campaign and title.
func (m *Memory) FindTopic(_ context.Context, campaignID, title string) (*types.Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.topics {
		if t.CampaignID == campaignID && t.Title == title {
			out := t
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// CreatePersona inserts a persona.
func (m *Memory) CreatePersona(_ context.Context, p *types.Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&p.ID)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.stamp()
	}
	m.personas[p.ID] = *p
	return nil
}

// GetPersona returns a persona by id.
func (m *Memory) GetPersona(_ context.Context, id string) (*types.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.personas[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// FindPersonaByName returns the persona with the given name.
func (m *Memory) FindPersonaByName(_ context.Context, name string) (*types.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.personas {
		if p.Name == name {
			out := p
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// ListPersonas returns personas ordered by creation time.
func (m *Memory) ListPersonas(_ context.Context, limit, offset int) ([]types.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Persona, 0, len(m.personas))
	for _, p := range m.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

// CreateQuestion inserts a question.
func (m *Memory) CreateQuestion(_ context.Context, q *types.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&q.ID)
	if q.CreatedAt.IsZero() {
		q.CreatedAt = m.stamp()
	}
	m.questions[q.ID] = *q
	return nil
}

// GetQuestion returns a question by id.
func (m *Memory) GetQuestion(_ context.Context, id string) (*types.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &q, nil
}

// FindQuestionByExternalID locates a question inside a topic by its
// metadata external_id.
func (m *Memory) FindQuestionByExternalID(_ context.Context, topicID, externalID string) (*types.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.questions {
		if q.TopicID != topicID {
			continue
		}
		if q.ExternalID() == externalID {
			out := q
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// ListCampaignQuestions returns every question reachable from the campaign
// via its topics, in creation order.
func (m *Memory) ListCampaignQuestions(_ context.Context, campaignID string) ([]types.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	topicIDs := map[string]bool{}
	for _, t := range m.topics {
		if t.CampaignID == campaignID {
			topicIDs[t.ID] = true
		}
	}

	out := []types.Question{}
	for _, q := range m.questions {
		if topicIDs[q.TopicID] {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateRun inserts a run.
func (m *Memory) CreateRun(_ context.Context, r *types.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&r.ID)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.stamp()
	}
	if r.Status == "" {
		r.Status = types.RunPending
	}
	m.runs[r.ID] = *r
	return nil
}

// GetRun returns a run by id.
func (m *Memory) GetRun(_ context.Context, id string) (*types.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// UpdateRunRollup writes the aggregated status, cost and lifecycle timestamps.
func (m *Memory) UpdateRunRollup(_ context.Context, id string, status types.RunStatus, costCents float64, startedAt, finishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.CostCents = costCents
	if startedAt != nil && r.StartedAt == nil {
		r.StartedAt = startedAt
	}
	// Unconditional: a run leaving the completed state clears finished_at.
	r.FinishedAt = finishedAt
	m.runs[id] = r
	return nil
}

// CreateRunItem inserts a pending item, enforcing fingerprint uniqueness.
func (m *Memory) CreateRunItem(_ context.Context, it *types.RunItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.fingerprints[it.Fingerprint]; exists {
		return ErrDuplicateFingerprint
	}
	ensureID(&it.ID)
	if it.CreatedAt.IsZero() {
		it.CreatedAt = m.stamp()
	}
	it.UpdatedAt = it.CreatedAt
	if it.Status == "" {
		it.Status = types.ItemPending
	}
	m.fingerprints[it.Fingerprint] = it.ID
	m.items[it.ID] = *it
	return nil
}

// GetRunItem returns a run item by id.
func (m *Memory) GetRunItem(_ context.Context, id string) (*types.RunItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

// UpdateRunItem persists item status, attempts and error state.
func (m *Memory) UpdateRunItem(_ context.Context, it *types.RunItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[it.ID]
	if !ok {
		return ErrNotFound
	}
	it.CreatedAt = cur.CreatedAt
	it.UpdatedAt = m.stamp()
	m.items[it.ID] = *it
	return nil
}

// ListRunItems returns a run's items filtered and paged, in creation order.
func (m *Memory) ListRunItems(_ context.Context, runID string, f ItemFilter) ([]types.RunItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []types.RunItem{}
	for _, it := range m.items {
		if it.RunID != runID {
			continue
		}
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

// CountRunItems counts a run's items, optionally restricted to one status.
func (m *Memory) CountRunItems(_ context.Context, runID string, status types.ItemStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, it := range m.items {
		if it.RunID != runID {
			continue
		}
		if status != "" && it.Status != status {
			continue
		}
		n++
	}
	return n, nil
}

// ItemStatusCounts aggregates item counts per status for one run.
func (m *Memory) ItemStatusCounts(_ context.Context, runID string) (types.StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c types.StatusCounts
	for _, it := range m.items {
		if it.RunID != runID {
			continue
		}
		switch it.Status {
		case types.ItemPending:
			c.Pending++
		case types.ItemRunning:
			c.Running++
		case types.ItemSucceeded:
			c.Succeeded++
		case types.ItemFailed:
			c.Failed++
		case types.ItemSkipped:
			c.Skipped++
		}
	}
	return c, nil
}

// SampleItemErrors returns up to limit failed items' errors, most recent first.
func (m *Memory) SampleItemErrors(_ context.Context, runID string, limit int) ([]ItemError, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	failed := []types.RunItem{}
	for _, it := range m.items {
		if it.RunID == runID && it.Status == types.ItemFailed {
			failed = append(failed, it)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].UpdatedAt.After(failed[j].UpdatedAt) })
	out := []ItemError{}
	for _, it := range failed {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, ItemError{RunItemID: it.ID, Message: it.LastError})
	}
	return out, nil
}

// CreateResponse inserts a provider response.
func (m *Memory) CreateResponse(_ context.Context, r *types.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&r.ID)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.stamp()
	}
	m.responses[r.ID] = *r
	return nil
}

// GetItemResponse returns the response for one run item.
func (m *Memory) GetItemResponse(_ context.Context, runItemID string) (*types.Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.responses {
		if r.RunItemID == runItemID {
			out := r
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// SumResponseCost totals response costs across a run's items.
func (m *Memory) SumResponseCost(_ context.Context, runID string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	itemIDs := map[string]bool{}
	for _, it := range m.items {
		if it.RunID == runID {
			itemIDs[it.ID] = true
		}
	}
	total := 0.0
	for _, r := range m.responses {
		if itemIDs[r.RunItemID] {
			total += r.CostCents
		}
	}
	return total, nil
}

// CreateExport inserts an export.
func (m *Memory) CreateExport(_ context.Context, e *types.Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.stamp()
	}
	e.UpdatedAt = e.CreatedAt
	if e.Status == "" {
		e.Status = types.ExportPending
	}
	m.exports[e.ID] = *e
	return nil
}

// GetExport returns an export by id.
func (m *Memory) GetExport(_ context.Context, id string) (*types.Export, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// UpdateExport persists export status and file reference.
func (m *Memory) UpdateExport(_ context.Context, e *types.Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.exports[e.ID]
	if !ok {
		return ErrNotFound
	}
	e.CreatedAt = cur.CreatedAt
	e.UpdatedAt = m.stamp()
	m.exports[e.ID] = *e
	return nil
}

// CreateDelivery inserts a delivery.
func (m *Memory) CreateDelivery(_ context.Context, d *types.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&d.ID)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.stamp()
	}
	d.UpdatedAt = d.CreatedAt
	if d.Status == "" {
		d.Status = types.DeliveryPending
	}
	m.deliveries[d.ID] = *d
	return nil
}

// GetDelivery returns a delivery by id.
func (m *Memory) GetDelivery(_ context.Context, id string) (*types.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

// UpdateDelivery persists delivery status, attempts and response state.
func (m *Memory) UpdateDelivery(_ context.Context, d *types.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.deliveries[d.ID]
	if !ok {
		return ErrNotFound
	}
	d.CreatedAt = cur.CreatedAt
	d.UpdatedAt = m.stamp()
	m.deliveries[d.ID] = *d
	return nil
}

// DeliveryStatusCounts aggregates delivery counts per status for one export.
func (m *Memory) DeliveryStatusCounts(_ context.Context, exportID string) (map[types.DeliveryStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[types.DeliveryStatus]int{}
	for _, d := range m.deliveries {
		if d.ExportID == exportID {
			out[d.Status]++
		}
	}
	return out, nil
}

// ListFailedDeliveries returns up to limit failed deliveries, most recent first.
func (m *Memory) ListFailedDeliveries(_ context.Context, exportID string, limit int) ([]types.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []types.Delivery{}
	for _, d := range m.deliveries {
		if d.ExportID == exportID && d.Status == types.DeliveryFailed {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListResultRows joins run items with question, topic, persona and response
// for export composition, ordered by item creation time.
func (m *Memory) ListResultRows(_ context.Context, runID string) ([]ResultRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := []types.RunItem{}
	for _, it := range m.items {
		if it.RunID == runID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	responsesByItem := map[string]types.Response{}
	for _, r := range m.responses {
		responsesByItem[r.RunItemID] = r
	}

	rows := make([]ResultRow, 0, len(items))
	for _, it := range items {
		row := ResultRow{Item: it}
		if q, ok := m.questions[it.QuestionID]; ok {
			row.Question = q
			if t, ok := m.topics[q.TopicID]; ok {
				row.Topic = t
			}
			if p, ok := m.personas[q.PersonaID]; ok {
				row.Persona = p
			}
		}
		if r, ok := responsesByItem[it.ID]; ok {
			resp := r
			row.Response = &resp
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Ping always succeeds for the in-memory store.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}

var _ Store = (*Memory)(nil)
