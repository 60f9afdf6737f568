package types

import "time"

// Campaign groups the topics and runs for one evaluated product.
type Campaign struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	ProductName string    `db:"product_name" json:"product_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Topic is a question grouping under a campaign.
type Topic struct {
	ID          string    `db:"id" json:"id"`
	CampaignID  string    `db:"campaign_id" json:"campaign_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Persona describes who is asking a question.
type Persona struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Role      string    `db:"role" json:"role"`
	Domain    string    `db:"domain" json:"domain"`
	Locale    string    `db:"locale" json:"locale"`
	Tone      string    `db:"tone" json:"tone"`
	Extras    JSONMap   `db:"extras" json:"extras,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Question is one imported question tied to a topic and persona.
// Metadata carries the import-supplied external_id (uniqueness key inside
// the topic) and optional provider_overrides merged at materialization.
type Question struct {
	ID        string    `db:"id" json:"id"`
	TopicID   string    `db:"topic_id" json:"topic_id"`
	PersonaID string    `db:"persona_id" json:"persona_id"`
	Text      string    `db:"text" json:"text"`
	Metadata  JSONMap   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ExternalID returns metadata.external_id, or "" when absent.
func (q *Question) ExternalID() string {
	s, _ := q.Metadata["external_id"].(string)
	return s
}

// ProviderOverrides returns metadata.provider_overrides, or nil.
func (q *Question) ProviderOverrides() map[string]any {
	m, _ := q.Metadata["provider_overrides"].(map[string]any)
	return m
}

// Run is one admitted execution of a campaign's questions against the
// providers named in Spec.
type Run struct {
	ID         string     `db:"id" json:"id"`
	CampaignID string     `db:"campaign_id" json:"campaign_id"`
	Label      string     `db:"label" json:"label"`
	Spec       RunSpec    `db:"provider_settings" json:"provider_settings"`
	Status     RunStatus  `db:"status" json:"status"`
	CostCents  float64    `db:"cost_cents" json:"cost_cents"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	StartedAt  *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// RunItem is one unit of work: a single provider call for a single
// question. Fingerprint is globally unique across all items ever created;
// a duplicate fingerprint at materialization is a silent skip.
type RunItem struct {
	ID           string     `db:"id" json:"id"`
	RunID        string     `db:"run_id" json:"run_id"`
	QuestionID   string     `db:"question_id" json:"question_id"`
	Fingerprint  string     `db:"fingerprint" json:"fingerprint"`
	Status       ItemStatus `db:"status" json:"status"`
	AttemptCount int        `db:"attempt_count" json:"attempt_count"`
	LastError    string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Response is the validated provider reply for one succeeded item.
// Request holds the verbatim wire request; Body holds the
// validated-or-fallback structured reply.
type Response struct {
	ID            string     `db:"id" json:"id"`
	RunItemID     string     `db:"run_item_id" json:"run_item_id"`
	Provider      string     `db:"provider" json:"provider"`
	Model         string     `db:"model" json:"model"`
	PromptVersion string     `db:"prompt_version" json:"prompt_version"`
	Request       JSONRaw    `db:"request" json:"request"`
	Body          JSONRaw    `db:"response" json:"response"`
	Text          string     `db:"text" json:"text"`
	Citations     StringList `db:"citations" json:"citations"`
	TokenUsage    TokenUsage `db:"token_usage" json:"token_usage"`
	LatencyMS     int64      `db:"latency_ms" json:"latency_ms"`
	CostCents     float64    `db:"cost_cents" json:"cost_cents"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Export is one requested materialization of a run's results, either to a
// file or to per-record partner deliveries when a mapper is named.
type Export struct {
	ID            string       `db:"id" json:"id"`
	RunID         string       `db:"run_id" json:"run_id"`
	Format        ExportFormat `db:"format" json:"format"`
	MapperName    string       `db:"mapper_name" json:"mapper_name,omitempty"`
	MapperVersion string       `db:"mapper_version" json:"mapper_version"`
	Config        JSONMap      `db:"config" json:"config,omitempty"`
	Status        ExportStatus `db:"status" json:"status"`
	FileRef       string       `db:"file_ref" json:"file_ref,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// WebhookURL returns config.webhook_url, or "" when absent.
func (e *Export) WebhookURL() string {
	s, _ := e.Config["webhook_url"].(string)
	return s
}

// Headers returns config.headers as a string map, or nil. Non-string
// values are dropped.
func (e *Export) Headers() map[string]string {
	m, _ := e.Config["headers"].(map[string]any)
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Delivery is one outbound partner POST for one mapped record.
// Payload is the mapper output, fixed at export composition time.
type Delivery struct {
	ID            string         `db:"id" json:"id"`
	ExportID      string         `db:"export_id" json:"export_id"`
	RunID         string         `db:"run_id" json:"run_id"`
	MapperName    string         `db:"mapper_name" json:"mapper_name"`
	MapperVersion string         `db:"mapper_version" json:"mapper_version"`
	Payload       JSONMap        `db:"payload" json:"payload"`
	Status        DeliveryStatus `db:"status" json:"status"`
	Attempts      int            `db:"attempts" json:"attempts"`
	LastError     string         `db:"last_error" json:"last_error,omitempty"`
	ResponseBody  string         `db:"response_body" json:"response_body,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}
