package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/provider"
	"github.com/pithecene-io/assay/queue"
	"github.com/pithecene-io/assay/ratelimit"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

const (
	// DefaultAcquireTimeout bounds the rate-limit wait per provider call.
	DefaultAcquireTimeout = 60 * time.Second
	// DefaultMaxAttempts caps executions of one item, first try included.
	DefaultMaxAttempts = 3
)

// errNoMatchingSpec means no provider spec in the run reproduces the
// item's fingerprint. Only possible when a run's provider_settings were
// mutated after materialization, so it is a permanent failure.
var errNoMatchingSpec = errors.New("run item matches no provider spec in the run")

// Enqueuer is the queue surface the pipeline workers need. *queue.Redis
// satisfies it; tests substitute a recording fake.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, t queue.Task) error
	EnqueueIn(ctx context.Context, queue string, t queue.Task, delay time.Duration) error
}

// ExecutorConfig configures the run-item execution worker.
type ExecutorConfig struct {
	// Store is the system of record.
	Store store.Store
	// Registry gates which provider adapters are invocable.
	Registry *provider.Registry
	// Limiter is the shared per-provider token bucket.
	Limiter *ratelimit.Limiter
	// Queue schedules retries.
	Queue Enqueuer
	// Collector records outcomes. If nil, no metrics are recorded.
	Collector *metrics.Collector
	Logger    *log.Logger
	// Defaults fill the sampling knobs a run spec omits.
	Defaults provider.Defaults
	// AcquireTimeout is the rate-limit deadline (default 60s).
	AcquireTimeout time.Duration
	// MaxAttempts caps how often one item is executed (default 3).
	MaxAttempts int
}

// ItemExecutor drives one RunItem through its state machine: claim it,
// resolve the provider spec, gate on the rate limiter, invoke the
// adapter, persist the response and roll the run up.
//
// Execute returns an error only when the task should stay unacked and
// be redelivered (the item could not be loaded or its transition could
// not be committed). Every provider-level outcome, success or failure,
// lands in the item's status instead.
type ItemExecutor struct {
	config ExecutorConfig
}

// NewItemExecutor creates an execution worker. Zero config values take
// the package defaults.
func NewItemExecutor(cfg ExecutorConfig) *ItemExecutor {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &ItemExecutor{config: cfg}
}

// Execute processes one execution task.
func (e *ItemExecutor) Execute(ctx context.Context, task queue.Task) error {
	st := e.config.Store

	item, err := st.GetRunItem(ctx, task.SubjectID)
	if errors.Is(err, store.ErrNotFound) {
		e.config.Logger.Warn("run_item_missing", map[string]any{
			"task_id":     task.ID,
			"run_item_id": task.SubjectID,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load run item %s: %w", task.SubjectID, err)
	}

	if !startable(item.Status, task) {
		e.config.Logger.Info("run_item_skipped", map[string]any{
			"run_item_id": item.ID,
			"status":      item.Status,
			"attempt":     task.Attempt,
		})
		e.config.Collector.IncItemOutcome("skipped")
		return nil
	}

	item.Status = types.ItemRunning
	item.AttemptCount++
	if err := st.UpdateRunItem(ctx, item); err != nil {
		return fmt.Errorf("claim run item %s: %w", item.ID, err)
	}
	e.config.Logger.Info("run_item_started", map[string]any{
		"run_item_id": item.ID,
		"run_id":      item.RunID,
		"attempt":     item.AttemptCount,
	})

	// From here on, every failure is recorded on the item itself so the
	// queue always sees a completed task.
	result, version, providerName, err := e.invoke(ctx, item)
	if err != nil {
		return e.failItem(ctx, item, task, err)
	}

	resp := &types.Response{
		RunItemID:     item.ID,
		Provider:      providerName,
		Model:         result.Model,
		PromptVersion: version,
		Request:       result.RequestBody,
		Body:          result.Reply,
		Text:          result.Text,
		Citations:     result.Citations,
		TokenUsage:    result.Usage,
		LatencyMS:     result.LatencyMS,
		CostCents:     result.CostCents,
	}
	if err := st.CreateResponse(ctx, resp); err != nil {
		return e.failItem(ctx, item, task, fmt.Errorf("persist response: %w", err))
	}

	item.Status = types.ItemSucceeded
	item.LastError = ""
	if err := st.UpdateRunItem(ctx, item); err != nil {
		return fmt.Errorf("commit succeeded item %s: %w", item.ID, err)
	}

	e.config.Collector.IncItemOutcome("succeeded")
	e.config.Logger.Info("run_item_succeeded", map[string]any{
		"run_item_id": item.ID,
		"run_id":      item.RunID,
		"provider":    providerName,
		"cost_cents":  result.CostCents,
		"latency_ms":  result.LatencyMS,
	})
	e.rollup(ctx, item.RunID)
	return nil
}

// invoke resolves the item's provider spec and performs the rate-limited
// provider call. Returns the result, the resolved prompt version and the
// provider name.
func (e *ItemExecutor) invoke(ctx context.Context, item *types.RunItem) (*provider.Result, string, string, error) {
	st := e.config.Store

	run, err := st.GetRun(ctx, item.RunID)
	if err != nil {
		return nil, "", "", fmt.Errorf("load run: %w", err)
	}
	question, err := st.GetQuestion(ctx, item.QuestionID)
	if err != nil {
		return nil, "", "", fmt.Errorf("load question: %w", err)
	}
	topic, err := st.GetTopic(ctx, question.TopicID)
	if err != nil {
		return nil, "", "", fmt.Errorf("load topic: %w", err)
	}
	persona, err := st.GetPersona(ctx, question.PersonaID)
	if err != nil {
		return nil, "", "", fmt.Errorf("load persona: %w", err)
	}

	version := promptVersion(run)
	spec, ok := resolveSpec(version, question, item, run.Spec.Providers)
	if !ok {
		return nil, version, "", errNoMatchingSpec
	}

	prov, err := e.config.Registry.Get(spec.Name())
	if err != nil {
		return nil, version, spec.Name(), err
	}

	if err := e.config.Limiter.Acquire(ctx, prov.Name(), 1, e.config.AcquireTimeout); err != nil {
		if errors.Is(err, ratelimit.ErrAcquireTimeout) {
			e.config.Collector.IncRateLimitTimeout(prov.Name())
		}
		return nil, version, prov.Name(), fmt.Errorf("rate limit: %w", err)
	}

	merged := spec.Merge(question.ProviderOverrides())
	settings := provider.ResolveSettings(merged, e.config.Defaults)
	req := prov.PreparePrompt(question.Text, persona, topic, version)

	result, err := prov.Invoke(ctx, req, settings)
	if err != nil {
		return nil, version, prov.Name(), err
	}
	e.config.Collector.ObserveProviderLatency(prov.Name(), time.Duration(result.LatencyMS)*time.Millisecond)
	return result, version, prov.Name(), nil
}

// failItem commits the failure and, for retriable causes with attempts
// left, schedules the next attempt with a 2^attempts-second countdown.
func (e *ItemExecutor) failItem(ctx context.Context, item *types.RunItem, task queue.Task, cause error) error {
	item.Status = types.ItemFailed
	item.LastError = cause.Error()
	if err := e.config.Store.UpdateRunItem(ctx, item); err != nil {
		return fmt.Errorf("commit failed item %s: %w", item.ID, err)
	}

	retriable := !terminalExecError(cause) && item.AttemptCount < e.config.MaxAttempts
	if retriable {
		delay := time.Duration(1<<uint(item.AttemptCount)) * time.Second
		if err := e.config.Queue.EnqueueIn(ctx, queue.ExecutionQueue, task.Retry(), delay); err != nil {
			return fmt.Errorf("schedule retry for item %s: %w", item.ID, err)
		}
		e.config.Collector.IncItemOutcome("retried")
	} else {
		e.config.Collector.IncItemOutcome("failed")
	}

	e.config.Logger.Warn("run_item_failed", map[string]any{
		"run_item_id": item.ID,
		"run_id":      item.RunID,
		"attempt":     item.AttemptCount,
		"retriable":   retriable,
		"error":       cause.Error(),
	})
	e.rollup(ctx, item.RunID)
	return nil
}

// rollup refreshes the parent run. Best effort: a failed refresh is
// logged and the next item transition repairs it.
func (e *ItemExecutor) rollup(ctx context.Context, runID string) {
	if _, err := RollupRun(ctx, e.config.Store, runID); err != nil {
		e.config.Logger.Error("run_rollup_failed", map[string]any{
			"run_id": runID,
			"error":  err.Error(),
		})
	}
}

// startable is the item state-machine gate. A fresh task may only start
// a pending item; a retry task may restart a failed one. Anything else
// is a duplicate or reclaimed delivery and gets acked untouched.
func startable(status types.ItemStatus, task queue.Task) bool {
	switch status {
	case types.ItemPending:
		return true
	case types.ItemFailed:
		return task.IsRetry()
	default:
		return false
	}
}

// resolveSpec finds the provider spec whose fingerprint produced the
// item. Materialization and resolution share itemFingerprint, so the
// match is exact unless the run spec was mutated after the fact.
func resolveSpec(promptVersion string, q *types.Question, item *types.RunItem, specs []types.SettingsMap) (types.SettingsMap, bool) {
	for _, spec := range specs {
		if itemFingerprint(promptVersion, q, spec) == item.Fingerprint {
			return spec, true
		}
	}
	return nil, false
}

// terminalExecError reports whether the cause can never succeed on
// retry: a disabled provider, a permanent provider rejection, or an
// item whose spec no longer exists.
func terminalExecError(err error) bool {
	if errors.Is(err, provider.ErrProviderDisabled) || errors.Is(err, errNoMatchingSpec) {
		return true
	}
	var ie *provider.InvokeError
	if errors.As(err, &ie) {
		return !ie.Transient
	}
	return false
}
