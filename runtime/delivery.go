package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/mapper"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/queue"
	"github.com/pithecene-io/assay/ratelimit"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
	"github.com/pithecene-io/assay/webhook"
)

const (
	// DefaultDeliveryAttempts caps deliveries of one payload.
	DefaultDeliveryAttempts = 5
	// DefaultDeliveryBackoffBase is the exponential base for delivery
	// retry countdowns.
	DefaultDeliveryBackoffBase = 2.0
	// DefaultDeliveryAcquireTimeout bounds the per-mapper bucket wait.
	DefaultDeliveryAcquireTimeout = 30 * time.Second
)

// DeliveryConfig configures the delivery worker.
type DeliveryConfig struct {
	Store store.Store
	// Mappers resolves mapper_name@mapper_version before each POST.
	Mappers *mapper.Registry
	// Webhook posts payloads; its base headers are the system defaults.
	Webhook *webhook.Client
	// Limiter throttles outbound POSTs per mapper.
	Limiter *ratelimit.Limiter
	// Queue schedules retries.
	Queue Enqueuer
	// Collector records outcomes. If nil, no metrics are recorded.
	Collector *metrics.Collector
	Logger    *log.Logger
	// MaxAttempts caps delivery attempts (default 5).
	MaxAttempts int
	// BackoffBase is the retry countdown base (default 2).
	BackoffBase float64
	// AcquireTimeout is the rate-limit deadline (default 30s).
	AcquireTimeout time.Duration
}

// Deliverer POSTs one mapped payload per task to the partner endpoint,
// classifying each outcome by HTTP status class: 2xx terminal success,
// 4xx terminal failure, everything else retried with jittered backoff
// until the attempt budget runs out.
type Deliverer struct {
	config DeliveryConfig
}

// NewDeliverer creates a delivery worker. Zero config values take the
// package defaults.
func NewDeliverer(cfg DeliveryConfig) *Deliverer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultDeliveryAttempts
	}
	if cfg.BackoffBase <= 1 {
		cfg.BackoffBase = DefaultDeliveryBackoffBase
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultDeliveryAcquireTimeout
	}
	return &Deliverer{config: cfg}
}

// Deliver processes one delivery task. Like ItemExecutor.Execute, an
// error return means redeliver; every partner-visible outcome lands in
// the Delivery row instead.
func (d *Deliverer) Deliver(ctx context.Context, task queue.Task) error {
	st := d.config.Store

	delivery, err := st.GetDelivery(ctx, task.SubjectID)
	if errors.Is(err, store.ErrNotFound) {
		d.config.Logger.Warn("delivery_missing", map[string]any{
			"task_id":     task.ID,
			"delivery_id": task.SubjectID,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load delivery %s: %w", task.SubjectID, err)
	}

	if delivery.Status != types.DeliveryPending {
		d.config.Logger.Info("delivery_skipped", map[string]any{
			"delivery_id": delivery.ID,
			"status":      delivery.Status,
		})
		d.config.Collector.IncDeliveryOutcome("skipped")
		return nil
	}

	// The attempt is counted before anything can fail, including the
	// rate-limit acquire.
	delivery.Attempts++
	if err := st.UpdateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("count delivery attempt %s: %w", delivery.ID, err)
	}

	exp, err := st.GetExport(ctx, delivery.ExportID)
	if err != nil {
		return d.retryOrFail(ctx, delivery, task, fmt.Errorf("load export: %w", err))
	}
	if _, err := d.config.Mappers.Get(delivery.MapperName, delivery.MapperVersion); err != nil {
		return d.failDelivery(ctx, delivery, err)
	}
	url := exp.WebhookURL()
	if url == "" {
		return d.failDelivery(ctx, delivery, errors.New("export config has no webhook_url"))
	}

	bucket := DeliveryBucket(delivery.MapperName)
	if err := d.config.Limiter.Acquire(ctx, bucket, 1, d.config.AcquireTimeout); err != nil {
		if errors.Is(err, ratelimit.ErrAcquireTimeout) {
			d.config.Collector.IncRateLimitTimeout(bucket)
		}
		return d.retryOrFail(ctx, delivery, task, fmt.Errorf("rate limit: %w", err))
	}

	start := time.Now()
	res, err := d.config.Webhook.Post(ctx, url, delivery.Payload, exp.Headers())
	d.config.Collector.ObserveDeliveryLatency(time.Since(start))

	var statusErr *webhook.StatusError
	switch {
	case err == nil:
		delivery.Status = types.DeliverySucceeded
		delivery.LastError = ""
		delivery.ResponseBody = res.Body
		if err := st.UpdateDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("commit succeeded delivery %s: %w", delivery.ID, err)
		}
		d.config.Collector.IncDeliveryOutcome("succeeded")
		d.config.Logger.Info("delivery_succeeded", map[string]any{
			"delivery_id": delivery.ID,
			"export_id":   delivery.ExportID,
			"attempts":    delivery.Attempts,
			"status_code": res.StatusCode,
		})
		return nil

	case errors.As(err, &statusErr) && statusErr.Terminal():
		delivery.ResponseBody = statusErr.Body
		return d.failDelivery(ctx, delivery, statusErr)

	default:
		// 5xx, timeout or network failure.
		return d.retryOrFail(ctx, delivery, task, err)
	}
}

// retryOrFail records a transient failure: re-enter pending and
// schedule the next attempt, or give up once the budget is spent.
func (d *Deliverer) retryOrFail(ctx context.Context, delivery *types.Delivery, task queue.Task, cause error) error {
	if delivery.Attempts >= d.config.MaxAttempts {
		return d.failDelivery(ctx, delivery, cause)
	}

	delivery.Status = types.DeliveryPending
	delivery.LastError = cause.Error()
	if err := d.config.Store.UpdateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("commit delivery retry %s: %w", delivery.ID, err)
	}

	delay := Backoff(delivery.Attempts, d.config.BackoffBase)
	if err := d.config.Queue.EnqueueIn(ctx, queue.DeliveryQueue, task.Retry(), delay); err != nil {
		return fmt.Errorf("schedule delivery retry %s: %w", delivery.ID, err)
	}

	d.config.Collector.IncDeliveryOutcome("retried")
	d.config.Logger.Warn("delivery_retry", map[string]any{
		"delivery_id": delivery.ID,
		"attempt":     delivery.Attempts,
		"delay":       delay.String(),
		"error":       cause.Error(),
	})
	return nil
}

// failDelivery commits a terminal failure.
func (d *Deliverer) failDelivery(ctx context.Context, delivery *types.Delivery, cause error) error {
	delivery.Status = types.DeliveryFailed
	delivery.LastError = cause.Error()
	if err := d.config.Store.UpdateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("commit failed delivery %s: %w", delivery.ID, err)
	}
	d.config.Collector.IncDeliveryOutcome("failed")
	d.config.Logger.Warn("delivery_failed", map[string]any{
		"delivery_id": delivery.ID,
		"export_id":   delivery.ExportID,
		"attempts":    delivery.Attempts,
		"error":       cause.Error(),
	})
	return nil
}

// Backoff computes the delivery retry countdown: base^attempt with
// ±20% uniform jitter, clamped to [1s, 60s]. Jitter keeps synchronized
// failures from retrying in lockstep.
func Backoff(attempt int, base float64) time.Duration {
	if base <= 1 {
		base = DefaultDeliveryBackoffBase
	}
	raw := math.Pow(base, float64(attempt))
	jittered := raw + (rand.Float64()*2-1)*0.2*raw
	if jittered < 1 {
		jittered = 1
	}
	if jittered > 60 {
		jittered = 60
	}
	return time.Duration(jittered * float64(time.Second))
}

// DeliveryBucket names the rate-limit bucket throttling one mapper's
// outbound POSTs. The work command registers these buckets.
func DeliveryBucket(mapperName string) string {
	return "mapper:" + mapperName
}
