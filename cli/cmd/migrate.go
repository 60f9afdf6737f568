package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/store"
)

// MigrateCommand returns the migrate command.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply pending database migrations",
		Flags:  []cli.Flag{ConfigFlag},
		Action: migrateAction,
	}
}

func migrateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger := log.NewLogger("migrate")
	defer logger.Sync()

	st, err := store.NewPostgres(c.Context, cfg.Database.URL, cfg.Database.MaxOpenConns, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger.Info("migrations applied", nil)
	return nil
}
