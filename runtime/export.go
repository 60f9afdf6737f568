package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/assay/export"
	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/mapper"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/queue"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

// ExporterConfig configures the export worker.
type ExporterConfig struct {
	Store store.Store
	// Artifacts persists rendered files.
	Artifacts export.ArtifactStore
	// Mappers resolves the export's payload mapper.
	Mappers *mapper.Registry
	// Queue receives one delivery task per created Delivery.
	Queue Enqueuer
	// Collector records outcomes. If nil, no metrics are recorded.
	Collector *metrics.Collector
	Logger    *log.Logger
}

// Exporter processes export tasks: compose the run's records, render
// and store the file artifact, and — when the export names a mapper —
// create and enqueue one Delivery per succeeded item.
type Exporter struct {
	config ExporterConfig
}

// NewExporter creates an export worker.
func NewExporter(cfg ExporterConfig) *Exporter {
	return &Exporter{config: cfg}
}

// Run processes one export task. Failures after the export is loaded
// mark it failed rather than redelivering: a broken export is terminal
// and a new one can be requested.
func (e *Exporter) Run(ctx context.Context, task queue.Task) error {
	st := e.config.Store

	exp, err := st.GetExport(ctx, task.SubjectID)
	if errors.Is(err, store.ErrNotFound) {
		e.config.Logger.Warn("export_missing", map[string]any{
			"task_id":   task.ID,
			"export_id": task.SubjectID,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load export %s: %w", task.SubjectID, err)
	}

	// pending is the normal entry; processing means a crashed worker
	// left it mid-flight and the redelivered task picks it back up.
	if exp.Status != types.ExportPending && exp.Status != types.ExportProcessing {
		e.config.Logger.Info("export_skipped", map[string]any{
			"export_id": exp.ID,
			"status":    exp.Status,
		})
		return nil
	}

	exp.Status = types.ExportProcessing
	if err := st.UpdateExport(ctx, exp); err != nil {
		return fmt.Errorf("claim export %s: %w", exp.ID, err)
	}

	if err := e.process(ctx, exp); err != nil {
		exp.Status = types.ExportFailed
		if uerr := st.UpdateExport(ctx, exp); uerr != nil {
			return fmt.Errorf("commit failed export %s: %w", exp.ID, uerr)
		}
		e.config.Collector.IncExportOutcome("failed")
		e.config.Logger.Error("export_failed", map[string]any{
			"export_id": exp.ID,
			"run_id":    exp.RunID,
			"error":     err.Error(),
		})
		return nil
	}

	exp.Status = types.ExportCompleted
	if err := st.UpdateExport(ctx, exp); err != nil {
		return fmt.Errorf("commit completed export %s: %w", exp.ID, err)
	}
	e.config.Collector.IncExportOutcome("completed")
	return nil
}

func (e *Exporter) process(ctx context.Context, exp *types.Export) error {
	st := e.config.Store

	run, err := st.GetRun(ctx, exp.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	campaign, err := st.GetCampaign(ctx, run.CampaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	rows, err := st.ListResultRows(ctx, exp.RunID)
	if err != nil {
		return fmt.Errorf("list result rows: %w", err)
	}
	records := export.Compose(campaign.Name, rows)

	enc, err := export.ForFormat(exp.Format, exp.Config)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, records); err != nil {
		return fmt.Errorf("encode %s: %w", exp.Format, err)
	}
	name := fmt.Sprintf("run_%s_%s.%s", exp.RunID, exp.ID, exp.Format)
	ref, err := e.config.Artifacts.Put(ctx, name, &buf)
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	exp.FileRef = ref

	created, err := e.createDeliveries(ctx, exp, records)
	if err != nil {
		return err
	}

	e.config.Logger.Info("export_completed", map[string]any{
		"export_id":  exp.ID,
		"run_id":     exp.RunID,
		"format":     exp.Format,
		"file_ref":   ref,
		"records":    len(records),
		"deliveries": created,
	})
	return nil
}

// createDeliveries maps each succeeded record and enqueues its POST.
// Skipped entirely when the export names no mapper, and when deliveries
// already exist from an earlier pass of a reprocessed export.
func (e *Exporter) createDeliveries(ctx context.Context, exp *types.Export, records []export.Record) (int, error) {
	if exp.MapperName == "" {
		return 0, nil
	}
	m, err := e.config.Mappers.Get(exp.MapperName, exp.MapperVersion)
	if err != nil {
		return 0, err
	}

	existing, err := e.config.Store.DeliveryStatusCounts(ctx, exp.ID)
	if err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	for _, n := range existing {
		if n > 0 {
			return 0, nil
		}
	}

	created := 0
	for i := range records {
		rec := &records[i]
		if rec.Status != types.ItemSucceeded {
			continue
		}
		delivery := &types.Delivery{
			ExportID:      exp.ID,
			RunID:         exp.RunID,
			MapperName:    exp.MapperName,
			MapperVersion: exp.MapperVersion,
			Payload:       m.Map(*rec),
			Status:        types.DeliveryPending,
		}
		if err := e.config.Store.CreateDelivery(ctx, delivery); err != nil {
			return created, fmt.Errorf("create delivery for item %s: %w", rec.RunItemID, err)
		}
		task := queue.NewTask(queue.TypeDeliver, delivery.ID)
		if err := e.config.Queue.Enqueue(ctx, queue.DeliveryQueue, task); err != nil {
			return created, fmt.Errorf("enqueue delivery %s: %w", delivery.ID, err)
		}
		created++
	}
	return created, nil
}
