package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pithecene-io/assay/export"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

// CreateRunRequest is the body for POST /runs.
type CreateRunRequest struct {
	CampaignID    string                `json:"campaign_id" validate:"required"`
	Label         string                `json:"label" validate:"max=255"`
	Providers     []types.SettingsMap   `json:"providers" validate:"required,min=1"`
	PromptVersion string                `json:"prompt_version"`
}

// RunResponse is the run view returned by create and get.
type RunResponse struct {
	*types.Run
	Counts types.StatusCounts `json:"counts"`
	Errors []store.ItemError  `json:"errors"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if !s.decode(w, r, &req) {
		return
	}

	if _, err := s.config.Store.GetCampaign(r.Context(), req.CampaignID); s.notFoundOr(w, err, "campaign") {
		return
	}

	// Admission gate: a spec naming a disabled provider never reaches
	// materialization.
	for _, spec := range req.Providers {
		name := spec.Name()
		if name == "" || spec.Model() == "" {
			errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", "every provider spec requires name and model")
			return
		}
		if !s.config.Registry.IsEnabled(name) {
			errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf(
				"provider %q is not enabled; enabled providers: %s",
				name, strings.Join(s.config.Registry.Enabled(), ", ")))
			return
		}
	}

	run := &types.Run{
		CampaignID: req.CampaignID,
		Label:      req.Label,
		Spec: types.RunSpec{
			Providers:     req.Providers,
			PromptVersion: req.PromptVersion,
		},
		Status: types.RunPending,
	}
	if err := s.config.Store.CreateRun(r.Context(), run); err != nil {
		s.internalError(w, err)
		return
	}

	s.config.Logger.Info("run_created", map[string]any{
		"run_id":      run.ID,
		"campaign_id": run.CampaignID,
		"providers":   run.Spec.ProviderNames(),
	})
	writeJSON(w, http.StatusCreated, RunResponse{Run: run, Errors: []store.ItemError{}})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.config.Store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if s.notFoundOr(w, err, "run") {
		return
	}

	result, err := s.config.Runs.Start(r.Context(), run)
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":         run.ID,
		"status":         "started",
		"items_created":  result.ItemsCreated,
		"items_enqueued": result.ItemsEnqueued,
	})
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.config.Store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if s.notFoundOr(w, err, "run") {
		return
	}

	resumed, err := s.config.Runs.Resume(r.Context(), run)
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":        run.ID,
		"status":        "resumed",
		"items_resumed": resumed,
	})
}

// sampleErrorLimit caps the failed-item errors on a run view.
const sampleErrorLimit = 10

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := s.config.Store.GetRun(ctx, chi.URLParam(r, "runID"))
	if s.notFoundOr(w, err, "run") {
		return
	}

	counts, err := s.config.Store.ItemStatusCounts(ctx, run.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	sampleErrors, err := s.config.Store.SampleItemErrors(ctx, run.ID, sampleErrorLimit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if sampleErrors == nil {
		sampleErrors = []store.ItemError{}
	}

	writeJSON(w, http.StatusOK, RunResponse{Run: run, Counts: counts, Errors: sampleErrors})
}

// RunItemsResponse is the paginated item listing.
type RunItemsResponse struct {
	Items   []types.RunItem `json:"items"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"has_more"`
}

func (s *Server) handleGetRunItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := s.config.Store.GetRun(ctx, chi.URLParam(r, "runID"))
	if s.notFoundOr(w, err, "run") {
		return
	}

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 1000 {
		errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be between 1 and 1000")
		return
	}
	if offset < 0 {
		errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", "offset must be >= 0")
		return
	}
	status := types.ItemStatus(r.URL.Query().Get("status"))

	items, err := s.config.Store.ListRunItems(ctx, run.ID, store.ItemFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.internalError(w, err)
		return
	}
	total, err := s.config.Store.CountRunItems(ctx, run.ID, status)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if items == nil {
		items = []types.RunItem{}
	}

	writeJSON(w, http.StatusOK, RunItemsResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	})
}

// handleDownloadResults composes and encodes the run's records inline
// and streams the file back, without persisting an Export row.
func (s *Server) handleDownloadResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	format := r.URL.Query().Get("format")
	if !types.ValidExportFormat(format) {
		errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", "format must be csv, xlsx or jsonl")
		return
	}

	run, err := s.config.Store.GetRun(ctx, chi.URLParam(r, "runID"))
	if s.notFoundOr(w, err, "run") {
		return
	}
	campaign, err := s.config.Store.GetCampaign(ctx, run.CampaignID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	rows, err := s.config.Store.ListResultRows(ctx, run.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	records := export.Compose(campaign.Name, rows)

	enc, err := export.ForFormat(types.ExportFormat(format), nil)
	if err != nil {
		s.internalError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, records); err != nil {
		s.internalError(w, err)
		return
	}

	name := fmt.Sprintf("run_%s.%s", run.ID, format)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
