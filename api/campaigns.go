package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pithecene-io/assay/types"
)

// CreateCampaignRequest is the body for POST /campaigns.
type CreateCampaignRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	ProductName string `json:"product_name" validate:"required,max=255"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if !s.decode(w, r, &req) {
		return
	}

	campaign := &types.Campaign{Name: req.Name, ProductName: req.ProductName}
	if err := s.config.Store.CreateCampaign(r.Context(), campaign); err != nil {
		s.internalError(w, err)
		return
	}

	s.config.Logger.Info("campaign_created", map[string]any{
		"campaign_id": campaign.ID,
		"name":        campaign.Name,
	})
	writeJSON(w, http.StatusCreated, campaign)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := s.config.Store.GetCampaign(r.Context(), chi.URLParam(r, "campaignID"))
	if s.notFoundOr(w, err, "campaign") {
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// CreateTopicRequest is the body for POST /campaigns/{id}/topics.
type CreateTopicRequest struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description"`
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if _, err := s.config.Store.GetCampaign(r.Context(), campaignID); s.notFoundOr(w, err, "campaign") {
		return
	}

	var req CreateTopicRequest
	if !s.decode(w, r, &req) {
		return
	}

	topic := &types.Topic{
		CampaignID:  campaignID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := s.config.Store.CreateTopic(r.Context(), topic); err != nil {
		s.internalError(w, err)
		return
	}

	s.config.Logger.Info("topic_created", map[string]any{
		"topic_id":    topic.ID,
		"campaign_id": campaignID,
	})
	writeJSON(w, http.StatusCreated, topic)
}

// CreatePersonaRequest is the body for POST /personas.
type CreatePersonaRequest struct {
	Name   string         `json:"name" validate:"required,max=255"`
	Role   string         `json:"role"`
	Domain string         `json:"domain"`
	Locale string         `json:"locale"`
	Tone   string         `json:"tone"`
	Extras map[string]any `json:"extras"`
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonaRequest
	if !s.decode(w, r, &req) {
		return
	}

	persona := &types.Persona{
		Name:   req.Name,
		Role:   req.Role,
		Domain: req.Domain,
		Locale: req.Locale,
		Tone:   req.Tone,
		Extras: req.Extras,
	}
	if err := s.config.Store.CreatePersona(r.Context(), persona); err != nil {
		s.internalError(w, err)
		return
	}

	s.config.Logger.Info("persona_created", map[string]any{
		"persona_id": persona.ID,
		"name":       persona.Name,
	})
	writeJSON(w, http.StatusCreated, persona)
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
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

	personas, err := s.config.Store.ListPersonas(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, personas)
}

// queryInt parses an integer query parameter, returning def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
