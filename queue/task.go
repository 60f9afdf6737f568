package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Task type discriminators. Workers route on Type to the matching handler.
const (
	// TypeExecuteItem runs one pending RunItem against its provider.
	TypeExecuteItem = "execute_run_item"
	// TypeExportRun renders an export's file artifact.
	TypeExportRun = "export_run"
	// TypeDeliver POSTs one mapped payload to a partner webhook.
	TypeDeliver = "deliver_to_partner"
)

// Well-known queue names. Each queue is one Redis stream with its own
// consumer group and delayed set.
const (
	ExecutionQueue = "executions"
	ExportQueue    = "exports"
	DeliveryQueue  = "deliveries"
)

// Task is the envelope placed on a queue. The payload is the subject's
// identifier only; workers reload authoritative state from the relational
// store, so a redelivered task never carries stale data.
type Task struct {
	// ID uniquely identifies this enqueue.
	ID string `msgpack:"id"`
	// Type selects the worker handler.
	Type string `msgpack:"type"`
	// SubjectID is the RunItem, Export or Delivery this task concerns.
	SubjectID string `msgpack:"subject_id"`
	// Attempt is the retry ordinal. 0 for the first enqueue; retries
	// re-enqueue with Attempt+1.
	Attempt int `msgpack:"attempt"`
	// EnqueuedAt records when the task entered the queue.
	EnqueuedAt time.Time `msgpack:"enqueued_at"`
}

// NewTask builds a first-attempt task for one subject.
func NewTask(taskType, subjectID string) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		SubjectID:  subjectID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Retry returns a copy of t marked as the next attempt.
func (t Task) Retry() Task {
	t.Attempt++
	t.EnqueuedAt = time.Now().UTC()
	return t
}

// IsRetry reports whether this task is a re-enqueue of earlier work.
func (t Task) IsRetry() bool { return t.Attempt > 0 }

// Encode serializes the task envelope.
func (t Task) Encode() ([]byte, error) {
	b, err := msgpack.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return b, nil
}

// DecodeTask deserializes a task envelope.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := msgpack.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decode task envelope: %w", err)
	}
	return t, nil
}
