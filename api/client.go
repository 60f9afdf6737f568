package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pithecene-io/assay/iox"
)

// Client is a minimal Go client for the assay API, used by the status
// and watch CLI commands.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// GetRun fetches one run with its status counts and sample errors.
func (c *Client) GetRun(ctx context.Context, runID string) (*RunResponse, error) {
	var out RunResponse
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(runID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExport fetches one export with its delivery statistics.
func (c *Client) GetExport(ctx context.Context, exportID string) (*ExportResponse, error) {
	var out ExportResponse
	if err := c.get(ctx, "/api/v1/exports/"+url.PathEscape(exportID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the /healthz endpoint.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get(ctx, "/healthz", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var body errorBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
			return fmt.Errorf("GET %s: %s (%s)", path, body.Error.Message, body.Error.Code)
		}
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
