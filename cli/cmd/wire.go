package cmd

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/config"
	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/provider"
	"github.com/pithecene-io/assay/ratelimit"
)

// loadConfig reads --config, falling back to built-in defaults when the
// flag is unset and no assay.yaml exists.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefault("assay.yaml")
}

// openRedis dials the coordination store shared by the rate limiter and
// the task queues.
func openRedis(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// buildRegistry constructs one adapter per enabled provider. Enabled
// names without an adapter are a config error, not a silent skip.
func buildRegistry(cfg *config.Config, logger *log.Logger) (*provider.Registry, error) {
	var providers []provider.Provider
	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]
		opts := provider.Options{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Prices:  providerPrices(cfg, name),
			Logger:  logger,
		}
		switch name {
		case "openai":
			providers = append(providers, provider.NewOpenAI(opts))
		case "gemini":
			providers = append(providers, provider.NewGemini(opts))
		case "perplexity":
			providers = append(providers, provider.NewPerplexity(opts))
		default:
			return nil, fmt.Errorf("unknown provider %q enabled in config", name)
		}
	}
	return provider.NewRegistry(providers...), nil
}

// providerPrices converts the configured price table into the adapter's
// format.
func providerPrices(cfg *config.Config, name string) provider.Prices {
	models := cfg.Pricing[name]
	if len(models) == 0 {
		return nil
	}
	prices := make(provider.Prices, len(models))
	for model, p := range models {
		prices[model] = provider.Price{InputPer1K: p.Input, OutputPer1K: p.Output}
	}
	return prices
}

// providerBuckets maps each enabled provider onto its token bucket.
func providerBuckets(cfg *config.Config) map[string]ratelimit.Bucket {
	buckets := make(map[string]ratelimit.Bucket)
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		buckets[name] = ratelimit.Bucket{QPS: pc.QPS, Burst: pc.Burst}
	}
	return buckets
}

// consumerName identifies this process inside the queue consumer group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "assay"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
