package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/cli/tui"
)

var intervalFlag = &cli.DurationFlag{
	Name:  "interval",
	Usage: "Poll interval",
	Value: 2 * time.Second,
}

// WatchCommand returns the watch command: a live, read-only view of one
// run's progress.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Watch a run's progress in an interactive view",
		ArgsUsage: "<run-id>",
		Flags:     []cli.Flag{ConfigFlag, apiURLFlag, apiKeyFlag, intervalFlag},
		Action:    watchAction,
	}
}

func watchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: assay watch <run-id>", 2)
	}

	client, err := apiClient(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	return tui.Watch(client, c.Args().First(), c.Duration("interval"))
}
