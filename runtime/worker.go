package runtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/metrics"
	"github.com/pithecene-io/assay/queue"
)

const (
	// DefaultDequeueWait bounds each blocking dequeue poll.
	DefaultDequeueWait = 5 * time.Second
	// DefaultHandlerTimeout bounds one task attempt end to end. It must
	// cover the slowest legitimate attempt: a full rate-limit wait plus
	// the provider exchange with its internal retries.
	DefaultHandlerTimeout = 5 * time.Minute
	// DefaultDepthInterval is how often queue depths are gauged.
	DefaultDepthInterval = 15 * time.Second
)

// HandlerFunc processes one dequeued task. A nil return acks the task;
// an error leaves it unacked so the queue redelivers it after the
// visibility timeout.
type HandlerFunc func(ctx context.Context, task queue.Task) error

// Consumer is the queue surface the pool consumes from.
type Consumer interface {
	EnsureGroups(ctx context.Context, queues ...string) error
	Dequeue(ctx context.Context, queue string, wait time.Duration) (*queue.Message, error)
	Ack(ctx context.Context, queue, streamID string) error
	Depth(ctx context.Context, queue string) (ready, delayed int64, err error)
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Queue Consumer
	// Routes maps task type to its handler.
	Routes map[string]HandlerFunc
	// Concurrency maps queue name to consumer goroutine count. Only
	// queues present here are consumed.
	Concurrency map[string]int
	// Collector records queue depth. If nil, no metrics are recorded.
	Collector *metrics.Collector
	Logger    *log.Logger
	// DequeueWait is the per-poll block duration.
	DequeueWait time.Duration
	// HandlerTimeout bounds one task attempt.
	HandlerTimeout time.Duration
	// DepthInterval is the gauge refresh period.
	DepthInterval time.Duration
}

// Pool consumes the task queues and dispatches to handlers. Handlers
// run detached from pool cancellation: shutdown stops dequeuing, lets
// in-flight attempts finish their exchange and commit their state
// transition, then returns. An attempt can outlive the queue's
// visibility timeout; the redelivered copy is screened by the
// handler's status gate.
type Pool struct {
	config PoolConfig
	queues []string
}

// NewPool creates a worker pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.DequeueWait <= 0 {
		cfg.DequeueWait = DefaultDequeueWait
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = DefaultDepthInterval
	}
	queues := make([]string, 0, len(cfg.Concurrency))
	for name := range cfg.Concurrency {
		queues = append(queues, name)
	}
	sort.Strings(queues)
	return &Pool{config: cfg, queues: queues}
}

// Run consumes until ctx is canceled. It returns nil on a clean
// shutdown.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.config.Queue.EnsureGroups(ctx, p.queues...); err != nil {
		return fmt.Errorf("ensure consumer groups: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range p.queues {
		for i := 0; i < p.config.Concurrency[name]; i++ {
			g.Go(func() error {
				p.consume(gctx, name)
				return nil
			})
		}
	}
	g.Go(func() error {
		p.observeDepth(gctx)
		return nil
	})

	p.config.Logger.Info("worker_pool_started", map[string]any{
		"queues":      p.queues,
		"concurrency": p.config.Concurrency,
	})
	return g.Wait()
}

func (p *Pool) consume(ctx context.Context, queueName string) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := p.config.Queue.Dequeue(ctx, queueName, p.config.DequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.config.Logger.Warn("dequeue_failed", map[string]any{
				"queue": queueName,
				"error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}
		p.handle(ctx, msg)
	}
}

// handle runs one task under its own deadline, detached from pool
// cancellation so shutdown cannot abort a half-committed transition.
func (p *Pool) handle(ctx context.Context, msg *queue.Message) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.HandlerTimeout)
	defer cancel()

	handler, ok := p.config.Routes[msg.Task.Type]
	if !ok {
		// Ack anyway: an unroutable task would otherwise be
		// redelivered forever.
		p.config.Logger.Error("task_unrouted", map[string]any{
			"queue":   msg.Queue,
			"type":    msg.Task.Type,
			"task_id": msg.Task.ID,
		})
		p.ack(hctx, msg)
		return
	}

	if err := handler(hctx, msg.Task); err != nil {
		p.config.Logger.Error("task_failed", map[string]any{
			"queue":   msg.Queue,
			"type":    msg.Task.Type,
			"task_id": msg.Task.ID,
			"subject": msg.Task.SubjectID,
			"attempt": msg.Task.Attempt,
			"error":   err.Error(),
		})
		return
	}
	p.ack(hctx, msg)
}

func (p *Pool) ack(ctx context.Context, msg *queue.Message) {
	if err := p.config.Queue.Ack(ctx, msg.Queue, msg.StreamID); err != nil {
		p.config.Logger.Warn("task_ack_failed", map[string]any{
			"queue":     msg.Queue,
			"stream_id": msg.StreamID,
			"error":     err.Error(),
		})
	}
}

func (p *Pool) observeDepth(ctx context.Context) {
	ticker := time.NewTicker(p.config.DepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range p.queues {
				ready, delayed, err := p.config.Queue.Depth(ctx, name)
				if err != nil {
					continue
				}
				p.config.Collector.SetQueueDepth(name, ready+delayed)
			}
		}
	}
}
