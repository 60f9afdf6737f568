package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pgUniqueViolation is the Postgres error code for unique constraint hits.
const pgUniqueViolation = "23505"

// Postgres is the production Store backed by PostgreSQL via sqlx over the
// pgx stdlib driver.
type Postgres struct {
	db     *sqlx.DB
	logger *log.Logger
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, url string, maxOpenConns int, logger *log.Logger) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	return &Postgres{db: db, logger: logger}, nil
}

// Migrate applies all pending schema migrations.
func (p *Postgres) Migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(p.db.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	p.logger.Info("migrations_applied", nil)
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func prepareInsert(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now().UTC()
	}
}

// CreateCampaign inserts a campaign.
func (p *Postgres) CreateCampaign(ctx context.Context, c *types.Campaign) error {
	prepareInsert(&c.ID, &c.CreatedAt)
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO campaigns (id, name, product_name, created_at)
		VALUES (:id, :name, :product_name, :created_at)`, c)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetCampaign returns a campaign by id.
func (p *Postgres) GetCampaign(ctx context.Context, id string) (*types.Campaign, error) {
	var c types.Campaign
	err := p.db.GetContext(ctx, &c, `SELECT * FROM campaigns WHERE id = $1`, id)
	return oneOf(&c, "campaign", err)
}

// FindCampaignByName returns the first campaign with the given name.
func (p *Postgres) FindCampaignByName(ctx context.Context, name string) (*types.Campaign, error) {
	var c types.Campaign
	err := p.db.GetContext(ctx, &c,
		`SELECT * FROM campaigns WHERE name = $1 ORDER BY created_at LIMIT 1`, name)
	return oneOf(&c, "campaign", err)
}

// CreateTopic inserts a topic.
func (p *Postgres) CreateTopic(ctx context.Context, t *types.Topic) error {
	prepareInsert(&t.ID, &t.CreatedAt)
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO topics (id, campaign_id, title, description, created_at)
		VALUES (:id, :campaign_id, :title, :description, :created_at)`, t)
	if err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	return nil
}

// GetTopic returns a topic by id.
func (p *Postgres) GetTopic(ctx context.Context, id string) (*types.Topic, error) {
	var t types.Topic
	err := p.db.GetContext(ctx, &t, `SELECT * FROM topics WHERE id = $1`, id)
	return oneOf(&t, "topic", err)
}

// FindTopic returns the topic with the given campaign and title.
func (p *Postgres) FindTopic(ctx context.Context, campaignID, title string) (*types.Topic, error) {
	var t types.Topic
	err := p.db.GetContext(ctx, &t,
		`SELECT * FROM topics WHERE campaign_id = $1 AND title = $2 LIMIT 1`, campaignID, title)
	return oneOf(&t, "topic", err)
}

// CreatePersona inserts a persona.
func (p *Postgres) CreatePersona(ctx context.Context, pe *types.Persona) error {
	prepareInsert(&pe.ID, &pe.CreatedAt)
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO personas (id, name, role, domain, locale, tone, extras, created_at)
		VALUES (:id, :name, :role, :domain, :locale, :tone, :extras, :created_at)`, pe)
	if err != nil {
		return fmt.Errorf("insert persona: %w", err)
	}
	return nil
}

// GetPersona returns a persona by id.
func (p *Postgres) GetPersona(ctx context.Context, id string) (*types.Persona, error) {
	var pe types.Persona
	err := p.db.GetContext(ctx, &pe, `SELECT * FROM personas WHERE id = $1`, id)
	return oneOf(&pe, "persona", err)
}

// FindPersonaByName returns the first persona with the given name.
func (p *Postgres) FindPersonaByName(ctx context.Context, name string) (*types.Persona, error) {
	var pe types.Persona
	err := p.db.GetContext(ctx, &pe,
		`SELECT * FROM personas WHERE name = $1 ORDER BY created_at LIMIT 1`, name)
	return oneOf(&pe, "persona", err)
}

// ListPersonas returns personas in creation order.
func (p *Postgres) ListPersonas(ctx context.Context, limit, offset int) ([]types.Persona, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []types.Persona{}
	err := p.db.SelectContext(ctx, &out,
		`SELECT * FROM personas ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	return out, nil
}

// CreateQuestion inserts a question.
func (p *Postgres) CreateQuestion(ctx context.Context, q *types.Question) error {
	prepareInsert(&q.ID, &q.CreatedAt)
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO questions (id, topic_id, persona_id, text, metadata, created_at)
		VALUES (:id, :topic_id, :persona_id, :text, :metadata, :created_at)`, q)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// GetQuestion returns a question by id.
func (p *Postgres) GetQuestion(ctx context.Context, id string) (*types.Question, error) {
	var q types.Question
	err := p.db.GetContext(ctx, &q, `SELECT * FROM questions WHERE id = $1`, id)
	return oneOf(&q, "question", err)
}

// FindQuestionByExternalID locates a question inside a topic by its
// metadata external_id, the import idempotency key.
func (p *Postgres) FindQuestionByExternalID(ctx context.Context, topicID, externalID string) (*types.Question, error) {
	var q types.Question
	err := p.db.GetContext(ctx, &q,
		`SELECT * FROM questions WHERE topic_id = $1 AND metadata ->> 'external_id' = $2`,
		topicID, externalID)
	return oneOf(&q, "question", err)
}

// ListCampaignQuestions returns every question reachable from the campaign
// via its topics, in creation order.
func (p *Postgres) ListCampaignQuestions(ctx context.Context, campaignID string) ([]types.Question, error) {
	out := []types.Question{}
	err := p.db.SelectContext(ctx, &out, `
		SELECT q.* FROM questions q
		JOIN topics t ON t.id = q.topic_id
		WHERE t.campaign_id = $1
		ORDER BY q.created_at`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign questions: %w", err)
	}
	return out, nil
}

// CreateRun inserts a run.
func (p *Postgres) CreateRun(ctx context.Context, r *types.Run) error {
	prepareInsert(&r.ID, &r.CreatedAt)
	if r.Status == "" {
		r.Status = types.RunPending
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, campaign_id, label, provider_settings, status, cost_cents, created_at)
		VALUES (:id, :campaign_id, :label, :provider_settings, :status, :cost_cents, :created_at)`, r)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun returns a run by id.
func (p *Postgres) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var r types.Run
	err := p.db.GetContext(ctx, &r, `SELECT * FROM runs WHERE id = $1`, id)
	return oneOf(&r, "run", err)
}

// UpdateRunRollup writes the aggregated status, cost and lifecycle
// timestamps. started_at is set only once; finished_at follows the
// computed value so a resumed run clears it.
func (p *Postgres) UpdateRunRollup(ctx context.Context, id string, status types.RunStatus, costCents float64, startedAt, finishedAt *time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE runs SET
			status = $2,
			cost_cents = $3,
			started_at = COALESCE(started_at, $4),
			finished_at = $5
		WHERE id = $1`,
		id, status, costCents, startedAt, finishedAt)
	if err != nil {
		return fmt.Errorf("update run rollup: %w", err)
	}
	return mustAffect(res, "run")
}

// CreateRunItem inserts a pending item. A fingerprint collision surfaces
// as ErrDuplicateFingerprint for the materializer to skip.
func (p *Postgres) CreateRunItem(ctx context.Context, it *types.RunItem) error {
	prepareInsert(&it.ID, &it.CreatedAt)
	it.UpdatedAt = it.CreatedAt
	if it.Status == "" {
		it.Status = types.ItemPending
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO run_items (id, run_id, question_id, fingerprint, status, attempt_count, last_error, created_at, updated_at)
		VALUES (:id, :run_id, :question_id, :fingerprint, :status, :attempt_count, :last_error, :created_at, :updated_at)`, it)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateFingerprint
		}
		return fmt.Errorf("insert run item: %w", err)
	}
	return nil
}

// GetRunItem returns a run item by id.
func (p *Postgres) GetRunItem(ctx context.Context, id string) (*types.RunItem, error) {
	var it types.RunItem
	err := p.db.GetContext(ctx, &it, `SELECT * FROM run_items WHERE id = $1`, id)
	return oneOf(&it, "run item", err)
}

// UpdateRunItem persists item status, attempts and error state.
func (p *Postgres) UpdateRunItem(ctx context.Context, it *types.RunItem) error {
	it.UpdatedAt = time.Now().UTC()
	res, err := p.db.NamedExecContext(ctx, `
		UPDATE run_items SET
			status = :status,
			attempt_count = :attempt_count,
			last_error = :last_error,
			updated_at = :updated_at
		WHERE id = :id`, it)
	if err != nil {
		return fmt.Errorf("update run item: %w", err)
	}
	return mustAffect(res, "run item")
}

// ListRunItems returns a run's items filtered and paged, in creation order.
func (p *Postgres) ListRunItems(ctx context.Context, runID string, f ItemFilter) ([]types.RunItem, error) {
	query := `SELECT * FROM run_items WHERE run_id = $1`
	args := []any{runID}
	if f.Status != "" {
		query += ` AND status = $2`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, f.Offset)
	}

	out := []types.RunItem{}
	if err := p.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	return out, nil
}

// CountRunItems counts a run's items, optionally restricted to one status.
func (p *Postgres) CountRunItems(ctx context.Context, runID string, status types.ItemStatus) (int, error) {
	query := `SELECT COUNT(*) FROM run_items WHERE run_id = $1`
	args := []any{runID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	var n int
	if err := p.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count run items: %w", err)
	}
	return n, nil
}

// ItemStatusCounts aggregates item counts per status for one run.
func (p *Postgres) ItemStatusCounts(ctx context.Context, runID string) (types.StatusCounts, error) {
	rows := []struct {
		Status types.ItemStatus `db:"status"`
		Count  int              `db:"count"`
	}{}
	err := p.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM run_items WHERE run_id = $1 GROUP BY status`, runID)
	if err != nil {
		return types.StatusCounts{}, fmt.Errorf("item status counts: %w", err)
	}

	var c types.StatusCounts
	for _, r := range rows {
		switch r.Status {
		case types.ItemPending:
			c.Pending = r.Count
		case types.ItemRunning:
			c.Running = r.Count
		case types.ItemSucceeded:
			c.Succeeded = r.Count
		case types.ItemFailed:
			c.Failed = r.Count
		case types.ItemSkipped:
			c.Skipped = r.Count
		}
	}
	return c, nil
}

// SampleItemErrors returns up to limit failed items' errors, most recent first.
func (p *Postgres) SampleItemErrors(ctx context.Context, runID string, limit int) ([]ItemError, error) {
	out := []ItemError{}
	err := p.db.SelectContext(ctx, &out, `
		SELECT id AS run_item_id, last_error AS message FROM run_items
		WHERE run_id = $1 AND status = 'failed'
		ORDER BY updated_at DESC LIMIT $2`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("sample item errors: %w", err)
	}
	return out, nil
}

// CreateResponse inserts a provider response.
func (p *Postgres) CreateResponse(ctx context.Context, r *types.Response) error {
	prepareInsert(&r.ID, &r.CreatedAt)
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO responses (id, run_item_id, provider, model, prompt_version, request, response, text, citations, token_usage, latency_ms, cost_cents, created_at)
		VALUES (:id, :run_item_id, :provider, :model, :prompt_version, :request, :response, :text, :citations, :token_usage, :latency_ms, :cost_cents, :created_at)`, r)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

// GetItemResponse returns the response for one run item.
func (p *Postgres) GetItemResponse(ctx context.Context, runItemID string) (*types.Response, error) {
	var r types.Response
	err := p.db.GetContext(ctx, &r,
		`SELECT * FROM responses WHERE run_item_id = $1 ORDER BY created_at DESC LIMIT 1`, runItemID)
	return oneOf(&r, "response", err)
}

// SumResponseCost totals response costs across a run's items.
func (p *Postgres) SumResponseCost(ctx context.Context, runID string) (float64, error) {
	var total float64
	err := p.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(r.cost_cents), 0) FROM responses r
		JOIN run_items i ON i.id = r.run_item_id
		WHERE i.run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("sum response cost: %w", err)
	}
	return total, nil
}

// CreateExport inserts an export.
func (p *Postgres) CreateExport(ctx context.Context, e *types.Export) error {
	prepareInsert(&e.ID, &e.CreatedAt)
	e.UpdatedAt = e.CreatedAt
	if e.Status == "" {
		e.Status = types.ExportPending
	}
	if e.MapperVersion == "" {
		e.MapperVersion = "v1"
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO exports (id, run_id, format, mapper_name, mapper_version, config, status, file_ref, created_at, updated_at)
		VALUES (:id, :run_id, :format, :mapper_name, :mapper_version, :config, :status, :file_ref, :created_at, :updated_at)`, e)
	if err != nil {
		return fmt.Errorf("insert export: %w", err)
	}
	return nil
}

// GetExport returns an export by id.
func (p *Postgres) GetExport(ctx context.Context, id string) (*types.Export, error) {
	var e types.Export
	err := p.db.GetContext(ctx, &e, `SELECT * FROM exports WHERE id = $1`, id)
	return oneOf(&e, "export", err)
}

// UpdateExport persists export status and file reference.
func (p *Postgres) UpdateExport(ctx context.Context, e *types.Export) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := p.db.NamedExecContext(ctx, `
		UPDATE exports SET status = :status, file_ref = :file_ref, updated_at = :updated_at
		WHERE id = :id`, e)
	if err != nil {
		return fmt.Errorf("update export: %w", err)
	}
	return mustAffect(res, "export")
}

// CreateDelivery inserts a delivery.
func (p *Postgres) CreateDelivery(ctx context.Context, d *types.Delivery) error {
	prepareInsert(&d.ID, &d.CreatedAt)
	d.UpdatedAt = d.CreatedAt
	if d.Status == "" {
		d.Status = types.DeliveryPending
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO deliveries (id, export_id, run_id, mapper_name, mapper_version, payload, status, attempts, last_error, response_body, created_at, updated_at)
		VALUES (:id, :export_id, :run_id, :mapper_name, :mapper_version, :payload, :status, :attempts, :last_error, :response_body, :created_at, :updated_at)`, d)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// GetDelivery returns a delivery by id.
func (p *Postgres) GetDelivery(ctx context.Context, id string) (*types.Delivery, error) {
	var d types.Delivery
	err := p.db.GetContext(ctx, &d, `SELECT * FROM deliveries WHERE id = $1`, id)
	return oneOf(&d, "delivery", err)
}

// UpdateDelivery persists delivery status, attempts and response state.
func (p *Postgres) UpdateDelivery(ctx context.Context, d *types.Delivery) error {
	d.UpdatedAt = time.Now().UTC()
	res, err := p.db.NamedExecContext(ctx, `
		UPDATE deliveries SET
			status = :status,
			attempts = :attempts,
			last_error = :last_error,
			response_body = :response_body,
			updated_at = :updated_at
		WHERE id = :id`, d)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	return mustAffect(res, "delivery")
}

// DeliveryStatusCounts aggregates delivery counts per status for one export.
func (p *Postgres) DeliveryStatusCounts(ctx context.Context, exportID string) (map[types.DeliveryStatus]int, error) {
	rows := []struct {
		Status types.DeliveryStatus `db:"status"`
		Count  int                  `db:"count"`
	}{}
	err := p.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM deliveries WHERE export_id = $1 GROUP BY status`, exportID)
	if err != nil {
		return nil, fmt.Errorf("delivery status counts: %w", err)
	}
	out := map[types.DeliveryStatus]int{}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// ListFailedDeliveries returns up to limit failed deliveries, most recent first.
func (p *Postgres) ListFailedDeliveries(ctx context.Context, exportID string, limit int) ([]types.Delivery, error) {
	out := []types.Delivery{}
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM deliveries
		WHERE export_id = $1 AND status = 'failed'
		ORDER BY updated_at DESC LIMIT $2`, exportID, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed deliveries: %w", err)
	}
	return out, nil
}

// resultRowScan is the flat projection of the export join. sqlx maps the
// aliased columns; ListResultRows folds them back into nested structs.
type resultRowScan struct {
	Item     types.RunItem  `db:"item"`
	Question types.Question `db:"question"`
	Topic    types.Topic    `db:"topic"`
	Persona  types.Persona  `db:"persona"`

	RespID            *string            `db:"resp_id"`
	RespProvider      *string            `db:"resp_provider"`
	RespModel         *string            `db:"resp_model"`
	RespPromptVersion *string            `db:"resp_prompt_version"`
	RespRequest       types.JSONRaw      `db:"resp_request"`
	RespBody          types.JSONRaw      `db:"resp_response"`
	RespText          *string            `db:"resp_text"`
	RespCitations     types.StringList   `db:"resp_citations"`
	RespTokenUsage    *types.TokenUsage  `db:"resp_token_usage"`
	RespLatencyMS     *int64             `db:"resp_latency_ms"`
	RespCostCents     *float64           `db:"resp_cost_cents"`
	RespCreatedAt     *time.Time         `db:"resp_created_at"`
}

// ListResultRows joins run items with question, topic, persona and
// response for export composition, ordered by item creation time.
func (p *Postgres) ListResultRows(ctx context.Context, runID string) ([]ResultRow, error) {
	scans := []resultRowScan{}
	err := p.db.SelectContext(ctx, &scans, `
		SELECT
			i.id            AS "item.id",
			i.run_id        AS "item.run_id",
			i.question_id   AS "item.question_id",
			i.fingerprint   AS "item.fingerprint",
			i.status        AS "item.status",
			i.attempt_count AS "item.attempt_count",
			i.last_error    AS "item.last_error",
			i.created_at    AS "item.created_at",
			i.updated_at    AS "item.updated_at",
			q.id         AS "question.id",
			q.topic_id   AS "question.topic_id",
			q.persona_id AS "question.persona_id",
			q.text       AS "question.text",
			q.metadata   AS "question.metadata",
			q.created_at AS "question.created_at",
			t.id          AS "topic.id",
			t.campaign_id AS "topic.campaign_id",
			t.title       AS "topic.title",
			t.description AS "topic.description",
			t.created_at  AS "topic.created_at",
			pe.id         AS "persona.id",
			pe.name       AS "persona.name",
			pe.role       AS "persona.role",
			pe.domain     AS "persona.domain",
			pe.locale     AS "persona.locale",
			pe.tone       AS "persona.tone",
			pe.extras     AS "persona.extras",
			pe.created_at AS "persona.created_at",
			r.id             AS resp_id,
			r.provider       AS resp_provider,
			r.model          AS resp_model,
			r.prompt_version AS resp_prompt_version,
			r.request        AS resp_request,
			r.response       AS resp_response,
			r.text           AS resp_text,
			r.citations      AS resp_citations,
			r.token_usage    AS resp_token_usage,
			r.latency_ms     AS resp_latency_ms,
			r.cost_cents     AS resp_cost_cents,
			r.created_at     AS resp_created_at
		FROM run_items i
		JOIN questions q ON q.id = i.question_id
		JOIN topics t ON t.id = q.topic_id
		JOIN personas pe ON pe.id = q.persona_id
		LEFT JOIN responses r ON r.run_item_id = i.id
		WHERE i.run_id = $1
		ORDER BY i.created_at, i.id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list result rows: %w", err)
	}

	rows := make([]ResultRow, 0, len(scans))
	for _, s := range scans {
		row := ResultRow{
			Item:     s.Item,
			Question: s.Question,
			Topic:    s.Topic,
			Persona:  s.Persona,
		}
		if s.RespID != nil {
			resp := types.Response{
				ID:            *s.RespID,
				RunItemID:     s.Item.ID,
				Provider:      deref(s.RespProvider),
				Model:         deref(s.RespModel),
				PromptVersion: deref(s.RespPromptVersion),
				Request:       s.RespRequest,
				Body:          s.RespBody,
				Text:          deref(s.RespText),
				Citations:     s.RespCitations,
				LatencyMS:     derefZero(s.RespLatencyMS),
				CostCents:     derefZero(s.RespCostCents),
			}
			if s.RespTokenUsage != nil {
				resp.TokenUsage = *s.RespTokenUsage
			}
			if s.RespCreatedAt != nil {
				resp.CreatedAt = *s.RespCreatedAt
			}
			row.Response = &resp
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefZero[T int64 | float64](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

// Ping verifies the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func oneOf[T any](v *T, kind string, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	return v, nil
}

func mustAffect(res sql.Result, kind string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", kind, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
