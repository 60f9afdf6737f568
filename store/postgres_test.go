package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/types"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Postgres{db: sqlx.NewDb(db, "pgx"), logger: log.NewLogger("store-test")}, mock
}

func TestPostgres_CreateRunItem_UniqueViolation(t *testing.T) {
	p, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO run_items").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "uq_run_items_fingerprint"})

	item := &types.RunItem{RunID: "run-1", QuestionID: "q-1", Fingerprint: "abc"}
	err := p.CreateRunItem(context.Background(), item)
	if !errors.Is(err, ErrDuplicateFingerprint) {
		t.Errorf("error = %v, want ErrDuplicateFingerprint", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgres_CreateRunItem_FillsDefaults(t *testing.T) {
	p, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO run_items").
		WillReturnResult(sqlmock.NewResult(0, 1))

	item := &types.RunItem{RunID: "run-1", QuestionID: "q-1", Fingerprint: "abc"}
	if err := p.CreateRunItem(context.Background(), item); err != nil {
		t.Fatalf("CreateRunItem failed: %v", err)
	}
	if item.ID == "" {
		t.Error("expected generated ID")
	}
	if item.Status != types.ItemPending {
		t.Errorf("Status = %q, want pending", item.Status)
	}
	if !item.UpdatedAt.Equal(item.CreatedAt) {
		t.Errorf("UpdatedAt = %v, want equal to CreatedAt %v", item.UpdatedAt, item.CreatedAt)
	}
}

func TestPostgres_UpdateRunRollup_NotFound(t *testing.T) {
	p, mock := newMockStore(t)

	mock.ExpectExec("UPDATE runs SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.UpdateRunRollup(context.Background(), "missing", types.RunCompleted, 0, nil, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPostgres_GetRun_NotFound(t *testing.T) {
	p, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM runs WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := p.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPostgres_ItemStatusCounts(t *testing.T) {
	p, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 2).
		AddRow("succeeded", 5).
		AddRow("failed", 1)
	mock.ExpectQuery("SELECT status, COUNT\\(\\*\\) AS count FROM run_items").
		WithArgs("run-1").
		WillReturnRows(rows)

	counts, err := p.ItemStatusCounts(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ItemStatusCounts failed: %v", err)
	}
	want := types.StatusCounts{Pending: 2, Succeeded: 5, Failed: 1}
	if counts != want {
		t.Errorf("counts = %+v, want %+v", counts, want)
	}
}

func TestPostgres_SumResponseCost(t *testing.T) {
	p, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(r.cost_cents\\), 0\\)").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1.2345))

	total, err := p.SumResponseCost(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("SumResponseCost failed: %v", err)
	}
	if total != 1.2345 {
		t.Errorf("total = %v, want 1.2345", total)
	}
}

func TestPostgres_GetRun_ScansSpec(t *testing.T) {
	p, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "campaign_id", "label", "provider_settings", "status",
		"cost_cents", "created_at", "started_at", "finished_at",
	}).AddRow(
		"run-1", "camp-1", "baseline",
		[]byte(`{"providers":[{"name":"openai","model":"gpt-4o-mini"}],"prompt_version":"v1"}`),
		"running", 2.5, now, now, nil,
	)
	mock.ExpectQuery("SELECT \\* FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := p.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != types.RunRunning {
		t.Errorf("Status = %q, want running", run.Status)
	}
	if len(run.Spec.Providers) != 1 || run.Spec.Providers[0].Model() != "gpt-4o-mini" {
		t.Errorf("Spec providers = %v, want one openai spec with model gpt-4o-mini", run.Spec.Providers)
	}
	if run.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", run.FinishedAt)
	}
}
