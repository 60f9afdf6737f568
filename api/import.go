package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

// ImportItem is one (campaign, topic, persona, question) tuple in a bulk
// import.
type ImportItem struct {
	Campaign string `json:"campaign" validate:"required"`
	Topic    struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"topic"`
	Persona struct {
		Name   string         `json:"name"`
		Role   string         `json:"role"`
		Domain string         `json:"domain"`
		Locale string         `json:"locale"`
		Tone   string         `json:"tone"`
		Extras map[string]any `json:"extras"`
	} `json:"persona"`
	Question struct {
		ID       string         `json:"id"`
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata"`
	} `json:"question"`
	ProviderOverrides map[string]any `json:"provider_overrides"`
}

// ImportRequest is the body for POST /question-sets/import.
type ImportRequest struct {
	Items []ImportItem `json:"items" validate:"required,min=1,dive"`
}

// ImportResponse reports the import outcome. Re-posting the same batch
// imports nothing and skips everything.
type ImportResponse struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

func (s *Server) handleImportQuestions(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !s.decode(w, r, &req) {
		return
	}

	imp := importer{
		store:     s.config.Store,
		campaigns: map[string]*types.Campaign{},
		topics:    map[string]*types.Topic{},
		personas:  map[string]*types.Persona{},
	}

	resp := ImportResponse{Errors: []string{}}
	for idx := range req.Items {
		imported, err := imp.importItem(r.Context(), idx, &req.Items[idx])
		switch {
		case err != nil:
			resp.Errors = append(resp.Errors, fmt.Sprintf("item %d: %v", idx, err))
		case imported:
			resp.Imported++
		default:
			resp.Skipped++
		}
	}

	s.config.Logger.Info("questions_imported", map[string]any{
		"imported": resp.Imported,
		"skipped":  resp.Skipped,
		"errors":   len(resp.Errors),
	})
	writeJSON(w, http.StatusOK, resp)
}

// importer upserts parent entities once per batch. The caches are keyed
// by natural name so repeated tuples inside one request reuse the same
// rows instead of racing their own inserts.
type importer struct {
	store     store.Store
	campaigns map[string]*types.Campaign
	topics    map[string]*types.Topic
	personas  map[string]*types.Persona
}

// importItem upserts the item's parents and inserts the question.
// Returns false with a nil error when the question already existed.
func (im *importer) importItem(ctx context.Context, idx int, item *ImportItem) (bool, error) {
	campaign, err := im.upsertCampaign(ctx, item.Campaign)
	if err != nil {
		return false, err
	}

	title := item.Topic.Title
	if title == "" {
		title = fmt.Sprintf("Topic %d", idx)
	}
	topic, err := im.upsertTopic(ctx, campaign.ID, title, item.Topic.Description)
	if err != nil {
		return false, err
	}

	persona, err := im.upsertPersona(ctx, item)
	if err != nil {
		return false, err
	}

	externalID := item.Question.ID
	if externalID == "" {
		externalID = fmt.Sprintf("Q_%d", idx)
	}

	// Idempotency: (topic, external_id) names a question exactly once.
	_, err = im.store.FindQuestionByExternalID(ctx, topic.ID, externalID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	metadata := types.JSONMap{"external_id": externalID}
	for k, v := range item.Question.Metadata {
		metadata[k] = v
	}
	if len(item.ProviderOverrides) > 0 {
		metadata["provider_overrides"] = item.ProviderOverrides
	}

	question := &types.Question{
		TopicID:   topic.ID,
		PersonaID: persona.ID,
		Text:      item.Question.Text,
		Metadata:  metadata,
	}
	if err := im.store.CreateQuestion(ctx, question); err != nil {
		return false, err
	}
	return true, nil
}

func (im *importer) upsertCampaign(ctx context.Context, name string) (*types.Campaign, error) {
	if c, ok := im.campaigns[name]; ok {
		return c, nil
	}
	c, err := im.store.FindCampaignByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		c = &types.Campaign{Name: name, ProductName: name}
		err = im.store.CreateCampaign(ctx, c)
	}
	if err != nil {
		return nil, err
	}
	im.campaigns[name] = c
	return c, nil
}

func (im *importer) upsertTopic(ctx context.Context, campaignID, title, description string) (*types.Topic, error) {
	key := campaignID + "\x00" + title
	if t, ok := im.topics[key]; ok {
		return t, nil
	}
	t, err := im.store.FindTopic(ctx, campaignID, title)
	if errors.Is(err, store.ErrNotFound) {
		t = &types.Topic{CampaignID: campaignID, Title: title, Description: description}
		err = im.store.CreateTopic(ctx, t)
	}
	if err != nil {
		return nil, err
	}
	im.topics[key] = t
	return t, nil
}

func (im *importer) upsertPersona(ctx context.Context, item *ImportItem) (*types.Persona, error) {
	name := item.Persona.Name
	if name == "" {
		name = "default"
	}
	if p, ok := im.personas[name]; ok {
		return p, nil
	}
	p, err := im.store.FindPersonaByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		p = &types.Persona{
			Name:   name,
			Role:   item.Persona.Role,
			Domain: item.Persona.Domain,
			Locale: item.Persona.Locale,
			Tone:   item.Persona.Tone,
			Extras: item.Persona.Extras,
		}
		err = im.store.CreatePersona(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	im.personas[name] = p
	return p, nil
}
