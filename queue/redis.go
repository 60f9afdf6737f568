// Package queue provides durable task queues on Redis streams.
//
// Each queue is one stream read through a consumer group, so a task
// handed to a crashed worker becomes claimable again after the
// visibility timeout. Retry countdowns live in a sorted set per queue;
// due members are promoted onto the stream ahead of each read.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pithecene-io/assay/log"
)

const (
	// keyPrefix namespaces all queue keys in Redis.
	keyPrefix = "assay:queue:"
	// DefaultGroup is the consumer group shared by all workers.
	DefaultGroup = "assay-workers"
	// DefaultVisibilityTimeout is how long an unacked task stays with a
	// consumer before another may claim it.
	DefaultVisibilityTimeout = 60 * time.Second
	// reclaimInterval is how often a consumer scans for stale tasks.
	reclaimInterval = 30 * time.Second
	// promoteBatch bounds how many due delayed tasks one read promotes.
	promoteBatch = 100
)

// taskField is the stream entry field holding the encoded envelope.
const taskField = "task"

// Config tunes queue behavior. Zero values take the package defaults.
type Config struct {
	// Group is the consumer group name.
	Group string
	// Consumer identifies this worker instance inside the group.
	Consumer string
	// VisibilityTimeout is the min idle time before reclaim.
	VisibilityTimeout time.Duration
}

// Message is one dequeued task plus the stream bookkeeping needed to ack it.
type Message struct {
	Queue    string
	StreamID string
	Task     Task
}

// Redis is the stream-backed queue client.
type Redis struct {
	client redis.UniversalClient
	cfg    Config
	logger *log.Logger

	mu          sync.Mutex
	lastReclaim map[string]time.Time
}

// New wraps an existing Redis client. The caller owns the client's
// lifecycle; Close here is a no-op on it.
func New(client redis.UniversalClient, cfg Config, logger *log.Logger) *Redis {
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Consumer == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "worker"
		}
		cfg.Consumer = host + "-" + uuid.NewString()[:8]
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return &Redis{
		client:      client,
		cfg:         cfg,
		logger:      logger,
		lastReclaim: make(map[string]time.Time),
	}
}

func streamKey(queue string) string  { return keyPrefix + queue }
func delayedKey(queue string) string { return keyPrefix + queue + ":delayed" }

// EnsureGroups creates the consumer group on each queue's stream,
// creating the stream if needed. Safe to call repeatedly.
func (q *Redis) EnsureGroups(ctx context.Context, queues ...string) error {
	for _, name := range queues {
		err := q.client.XGroupCreateMkStream(ctx, streamKey(name), q.cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group for %s: %w", name, err)
		}
	}
	return nil
}

// Enqueue appends the task to the queue's stream.
func (q *Redis) Enqueue(ctx context.Context, queue string, t Task) error {
	body, err := t.Encode()
	if err != nil {
		return err
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(queue),
		Values: map[string]any{taskField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", t.ID, queue, err)
	}
	q.logger.Debug("task_enqueued", map[string]any{
		"queue":   queue,
		"task_id": t.ID,
		"type":    t.Type,
		"attempt": t.Attempt,
	})
	return nil
}

// EnqueueIn schedules the task to become ready after delay. A
// non-positive delay enqueues immediately.
func (q *Redis) EnqueueIn(ctx context.Context, queue string, t Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, queue, t)
	}
	body, err := t.Encode()
	if err != nil {
		return err
	}
	readyAt := time.Now().Add(delay)
	err = q.client.ZAdd(ctx, delayedKey(queue), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: body,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue delayed %s on %s: %w", t.ID, queue, err)
	}
	q.logger.Debug("task_delayed", map[string]any{
		"queue":    queue,
		"task_id":  t.ID,
		"attempt":  t.Attempt,
		"ready_in": delay.String(),
	})
	return nil
}

// Dequeue returns the next ready task, or nil when the queue is empty.
// wait > 0 blocks up to that long for a new task. Stale tasks from dead
// consumers are reclaimed ahead of new reads.
func (q *Redis) Dequeue(ctx context.Context, queue string, wait time.Duration) (*Message, error) {
	if msg, err := q.reclaimStale(ctx, queue); err != nil {
		return nil, err
	} else if msg != nil {
		return msg, nil
	}
	if err := q.promoteDue(ctx, queue); err != nil {
		return nil, err
	}

	block := wait
	if block <= 0 {
		block = -1 // non-blocking read
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{streamKey(queue), ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", queue, err)
	}
	return q.toMessage(queue, streams)
}

// Ack marks the task done and removes it from the stream.
func (q *Redis) Ack(ctx context.Context, queue, streamID string) error {
	if err := q.client.XAck(ctx, streamKey(queue), q.cfg.Group, streamID).Err(); err != nil {
		return fmt.Errorf("ack %s on %s: %w", streamID, queue, err)
	}
	// Acked entries carry no replay value; trim them eagerly.
	if err := q.client.XDel(ctx, streamKey(queue), streamID).Err(); err != nil {
		return fmt.Errorf("trim %s on %s: %w", streamID, queue, err)
	}
	return nil
}

// Depth reports how many tasks are ready on the stream and how many are
// still counting down in the delayed set.
func (q *Redis) Depth(ctx context.Context, queue string) (ready, delayed int64, err error) {
	ready, err = q.client.XLen(ctx, streamKey(queue)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("stream len %s: %w", queue, err)
	}
	delayed, err = q.client.ZCard(ctx, delayedKey(queue)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("delayed card %s: %w", queue, err)
	}
	return ready, delayed, nil
}

// promoteDue moves delayed tasks whose countdown elapsed onto the
// stream. ZRem acts as the claim: only the remover enqueues, so two
// promoting consumers never double-deliver one member.
func (q *Redis) promoteDue(ctx context.Context, queue string) error {
	now := time.Now().UnixMilli()
	members, err := q.client.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed %s: %w", queue, err)
	}
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, delayedKey(queue), member).Result()
		if err != nil {
			return fmt.Errorf("claim delayed %s: %w", queue, err)
		}
		if removed == 0 {
			continue // another consumer promoted it
		}
		err = q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey(queue),
			Values: map[string]any{taskField: []byte(member)},
		}).Err()
		if err != nil {
			return fmt.Errorf("promote delayed %s: %w", queue, err)
		}
	}
	return nil
}

// reclaimStale claims at most one task that sat unacked past the
// visibility timeout, throttled per queue so idle consumers do not
// hammer XAUTOCLAIM.
func (q *Redis) reclaimStale(ctx context.Context, queue string) (*Message, error) {
	q.mu.Lock()
	last := q.lastReclaim[queue]
	if time.Since(last) < reclaimInterval {
		q.mu.Unlock()
		return nil, nil
	}
	q.lastReclaim[queue] = time.Now()
	q.mu.Unlock()

	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamKey(queue),
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.VisibilityTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reclaim %s: %w", queue, err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	msg, err := decodeEntry(queue, claimed[0])
	if err != nil {
		return nil, err
	}
	q.logger.Warn("task_reclaimed", map[string]any{
		"queue":     queue,
		"task_id":   msg.Task.ID,
		"stream_id": msg.StreamID,
	})
	return msg, nil
}

func (q *Redis) toMessage(queue string, streams []redis.XStream) (*Message, error) {
	for _, s := range streams {
		for _, entry := range s.Messages {
			return decodeEntry(queue, entry)
		}
	}
	return nil, nil
}

func decodeEntry(queue string, entry redis.XMessage) (*Message, error) {
	raw, ok := entry.Values[taskField]
	if !ok {
		return nil, fmt.Errorf("entry %s on %s has no task field", entry.ID, queue)
	}
	body, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("entry %s on %s has non-string task field %T", entry.ID, queue, raw)
	}
	t, err := DecodeTask([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("entry %s on %s: %w", entry.ID, queue, err)
	}
	return &Message{Queue: queue, StreamID: entry.ID, Task: t}, nil
}
