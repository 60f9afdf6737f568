package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pithecene-io/assay/mapper"
	"github.com/pithecene-io/assay/queue"
	"github.com/pithecene-io/assay/types"
)

// CreateExportRequest is the body for POST /exports. A mapper reference
// turns the export into a partner delivery fan-out: the export worker
// creates one Delivery per succeeded item.
type CreateExportRequest struct {
	RunID         string         `json:"run_id" validate:"required"`
	Format        string         `json:"format" validate:"required"`
	MapperName    string         `json:"mapper_name"`
	MapperVersion string         `json:"mapper_version"`
	Config        map[string]any `json:"config"`
}

func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	var req CreateExportRequest
	if !s.decode(w, r, &req) {
		return
	}

	if !types.ValidExportFormat(req.Format) {
		errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", "format must be csv, xlsx or jsonl")
		return
	}
	if _, err := s.config.Store.GetRun(r.Context(), req.RunID); s.notFoundOr(w, err, "run") {
		return
	}

	version := req.MapperVersion
	if req.MapperName != "" {
		if version == "" {
			version = mapper.DefaultVersion
		}
		if !s.config.Mappers.Has(req.MapperName, version) {
			errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf(
				"unknown mapper %s@%s; known mappers: %s",
				req.MapperName, version, strings.Join(s.config.Mappers.Names(), ", ")))
			return
		}
		if url, _ := req.Config["webhook_url"].(string); url == "" {
			errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", "config.webhook_url is required when a mapper is named")
			return
		}
	}

	exp := &types.Export{
		RunID:         req.RunID,
		Format:        types.ExportFormat(req.Format),
		MapperName:    req.MapperName,
		MapperVersion: version,
		Config:        req.Config,
		Status:        types.ExportPending,
	}
	if err := s.config.Store.CreateExport(r.Context(), exp); err != nil {
		s.internalError(w, err)
		return
	}

	task := queue.NewTask(queue.TypeExportRun, exp.ID)
	if err := s.config.Queue.Enqueue(r.Context(), queue.ExportQueue, task); err != nil {
		s.internalError(w, err)
		return
	}

	s.config.Logger.Info("export_created", map[string]any{
		"export_id": exp.ID,
		"run_id":    exp.RunID,
		"format":    exp.Format,
		"mapper":    exp.MapperName,
	})
	writeJSON(w, http.StatusCreated, exp)
}

// sampleFailureLimit caps the failed deliveries on an export view.
const sampleFailureLimit = 5

// ExportResponse is the export view with delivery statistics.
type ExportResponse struct {
	*types.Export
	DeliveryStats  map[types.DeliveryStatus]int `json:"delivery_stats"`
	SampleFailures []types.Delivery             `json:"sample_failures"`
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exp, err := s.config.Store.GetExport(ctx, chi.URLParam(r, "exportID"))
	if s.notFoundOr(w, err, "export") {
		return
	}

	stats, err := s.config.Store.DeliveryStatusCounts(ctx, exp.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	failures, err := s.config.Store.ListFailedDeliveries(ctx, exp.ID, sampleFailureLimit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if stats == nil {
		stats = map[types.DeliveryStatus]int{}
	}
	if failures == nil {
		failures = []types.Delivery{}
	}

	writeJSON(w, http.StatusOK, ExportResponse{
		Export:         exp,
		DeliveryStats:  stats,
		SampleFailures: failures,
	})
}

func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	delivery, err := s.config.Store.GetDelivery(r.Context(), chi.URLParam(r, "deliveryID"))
	if s.notFoundOr(w, err, "delivery") {
		return
	}
	writeJSON(w, http.StatusOK, delivery)
}
