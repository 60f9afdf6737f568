package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/config"
	"github.com/pithecene-io/assay/export"
	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/mapper"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/provider"
	"github.com/pithecene-io/assay/queue"
	"github.com/pithecene-io/assay/ratelimit"
	"github.com/pithecene-io/assay/runtime"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/webhook"
)

// WorkCommand returns the work command.
func WorkCommand() *cli.Command {
	return &cli.Command{
		Name:   "work",
		Usage:  "Run the execution, export and delivery workers",
		Flags:  []cli.Flag{ConfigFlag},
		Action: workAction,
	}
}

func workAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	logger := log.NewLogger("work")
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

	mappers := mapper.Default()

	// One bucket per enabled provider plus one per mapper for outbound
	// deliveries.
	buckets := providerBuckets(cfg)
	for _, name := range mappers.Names() {
		buckets[runtime.DeliveryBucket(name)] = ratelimit.Bucket{
			QPS:   cfg.Delivery.QPS,
			Burst: cfg.Delivery.Burst,
		}
	}
	limiter := ratelimit.New(client, buckets, log.NewLogger("ratelimit"))

	artifacts, err := artifactStore(ctx, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	collector := metrics.NewCollector()

	executor := runtime.NewItemExecutor(runtime.ExecutorConfig{
		Store:     st,
		Registry:  registry,
		Limiter:   limiter,
		Queue:     q,
		Collector: collector,
		Logger:    log.NewLogger("executor"),
		Defaults: provider.Defaults{
			Temperature: cfg.Defaults.Temperature,
			TopP:        cfg.Defaults.TopP,
			MaxTokens:   cfg.Defaults.MaxTokens,
		},
	})

	exporter := runtime.NewExporter(runtime.ExporterConfig{
		Store:     st,
		Artifacts: artifacts,
		Mappers:   mappers,
		Queue:     q,
		Collector: collector,
		Logger:    log.NewLogger("exporter"),
	})

	deliverer := runtime.NewDeliverer(runtime.DeliveryConfig{
		Store:   st,
		Mappers: mappers,
		Webhook: webhook.New(webhook.Config{
			Timeout: cfg.Delivery.Timeout.Duration,
			Headers: cfg.Delivery.Headers,
		}),
		Limiter:     limiter,
		Queue:       q,
		Collector:   collector,
		Logger:      log.NewLogger("deliverer"),
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BackoffBase: cfg.Delivery.BackoffBase,
	})

	pool := runtime.NewPool(runtime.PoolConfig{
		Queue: q,
		Routes: map[string]runtime.HandlerFunc{
			queue.TypeExecuteItem: executor.Execute,
			queue.TypeExportRun:   exporter.Run,
			queue.TypeDeliver:     deliverer.Deliver,
		},
		Concurrency: map[string]int{
			queue.ExecutionQueue: cfg.Worker.ExecutionConcurrency,
			queue.ExportQueue:    1,
			queue.DeliveryQueue:  cfg.Worker.DeliveryConcurrency,
		},
		Collector: collector,
		Logger:    log.NewLogger("pool"),
	})

	logger.Info("workers starting", map[string]any{
		"execution_concurrency": cfg.Worker.ExecutionConcurrency,
		"delivery_concurrency":  cfg.Worker.DeliveryConcurrency,
		"export_backend":        cfg.Export.Backend,
	})
	return pool.Run(ctx)
}

// artifactStore builds the export artifact backend named in config.
func artifactStore(ctx context.Context, cfg *config.Config) (export.ArtifactStore, error) {
	switch cfg.Export.Backend {
	case "s3":
		bucket, prefix := export.ParseS3Path(cfg.Export.Path)
		return export.NewS3Store(ctx, export.S3Options{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Export.Region,
			Endpoint:     cfg.Export.Endpoint,
			UsePathStyle: cfg.Export.S3PathStyle,
		})
	case "fs", "":
		return export.NewFSStore(cfg.Export.Path), nil
	default:
		return nil, fmt.Errorf("unknown export backend %q", cfg.Export.Backend)
	}
}
