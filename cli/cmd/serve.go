package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/assay/api"
	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/mapper"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/queue"
	"github.com/pithecene-io/assay/runtime"
	"github.com/pithecene-io/assay/store"
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP API server",
		Flags:  []cli.Flag{ConfigFlag},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger := log.NewLogger("serve")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgres(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, log.NewLogger("store"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer st.Close()

	client, err := openRedis(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer client.Close()

	q := queue.New(client, queue.Config{
		Consumer:          consumerName(),
		VisibilityTimeout: cfg.Worker.VisibilityTimeout.Duration,
	}, log.NewLogger("queue"))

	registry, err := buildRegistry(cfg, log.NewLogger("provider"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	collector := metrics.NewCollector()
	runs := runtime.NewRunService(runtime.RunServiceConfig{
		Store:     st,
		Queue:     q,
		Collector: collector,
		Logger:    log.NewLogger("runs"),
	})

	server := api.NewServer(api.ServerConfig{
		Store:     st,
		Registry:  registry,
		Runs:      runs,
		Queue:     q,
		Mappers:   mapper.Default(),
		Collector: collector,
		Logger:    log.NewLogger("api"),
		APIKeys:   cfg.API.Keys,
	})

	httpSrv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", map[string]any{"addr": cfg.API.Addr})
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
