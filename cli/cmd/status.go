package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/api"
	"github.com/pithecene-io/assay/cli/render"
	"github.com/pithecene-io/assay/config"
)

// API client flags shared by status and watch.
var (
	apiURLFlag = &cli.StringFlag{
		Name:  "api-url",
		Usage: "API base URL (overrides config)",
	}
	apiKeyFlag = &cli.StringFlag{
		Name:    "api-key",
		Usage:   "API key (overrides config)",
		EnvVars: []string{"ASSAY_API_KEY"},
	}
)

// StatusResponse is the flattened run view the status command renders.
type StatusResponse struct {
	ID        string  `json:"id"`
	Campaign  string  `json:"campaign_id"`
	Label     string  `json:"label,omitempty"`
	Status    string  `json:"status"`
	Pending   int     `json:"pending"`
	Running   int     `json:"running"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	CostCents float64 `json:"cost_cents"`
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show one run's status and item counts",
		ArgsUsage: "<run-id>",
		Flags:     append(ReadOnlyFlags(), apiURLFlag, apiKeyFlag),
		Action:    statusAction,
	}
}

func statusAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: assay status <run-id>", 2)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	client, err := apiClient(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	run, err := client.GetRun(c.Context, c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	return r.Render(StatusResponse{
		ID:        run.ID,
		Campaign:  run.CampaignID,
		Label:     run.Label,
		Status:    string(run.Status),
		Pending:   run.Counts.Pending,
		Running:   run.Counts.Running,
		Succeeded: run.Counts.Succeeded,
		Failed:    run.Counts.Failed,
		Skipped:   run.Counts.Skipped,
		CostCents: run.CostCents,
	})
}

// apiClient builds an HTTP client for the configured API endpoint.
// Flags override config values.
func apiClient(c *cli.Context) (*api.Client, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	baseURL := cfg.API.BaseURL
	if v := c.String("api-url"); v != "" {
		baseURL = v
	}
	apiKey := firstKey(cfg)
	if v := c.String("api-key"); v != "" {
		apiKey = v
	}
	return api.NewClient(baseURL, apiKey), nil
}

func firstKey(cfg *config.Config) string {
	if len(cfg.API.Keys) == 0 {
		return ""
	}
	return cfg.API.Keys[0]
}
