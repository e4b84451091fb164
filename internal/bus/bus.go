// Package bus is the durable FIFO message bus WebhookReceiver publishes to
// and SyncWorker consumes from, with at-least-once delivery and a
// dead-letter stream for entries that exceed their retry budget
// (spec.md §2, §4.1, §4.2).
package bus

import (
	"context"
	"time"
)

// Message is one unit of work travelling through the bus. ID is the bus's
// own delivery identifier (distinct from the domain EventID carried inside
// Payload), used for Ack/Nack and for replay bookkeeping.
type Message struct {
	ID           string
	Payload      []byte
	EnqueuedAt   time.Time
	DeliveryAttempt int64
}

// Bus is the publish/consume boundary. Consume blocks until a message is
// available or ctx is cancelled; handlers must call Ack on success or Nack
// (optionally requesting DLQ) on failure — an unacknowledged message
// becomes eligible for reclaim by another consumer once its visibility
// window lapses.
type Bus interface {
	Publish(ctx context.Context, stream string, payload []byte) (string, error)
	Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, stream, group string, msg Message) error
	// Nack marks msg as failed. When toDLQ is true the message is moved to
	// the stream's dead-letter stream instead of being reclaimed.
	Nack(ctx context.Context, stream, group string, msg Message, toDLQ bool) error
	// ReclaimStale takes ownership of messages idle longer than minIdle in
	// group, returning them for reprocessing by this consumer.
	ReclaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error)
	// EnsureGroup creates the consumer group (and stream) if absent.
	EnsureGroup(ctx context.Context, stream, group string) error
	// Depth reports the number of entries in stream; acked entries still
	// count until the stream is trimmed.
	Depth(ctx context.Context, stream string) (int64, error)
	// DLQStream returns the dead-letter stream name for stream.
	DLQStream(stream string) string
	// ReplayDLQ moves up to limit entries from stream's DLQ back onto the
	// live stream, preserving their original payload (the opctl requeue
	// runbook; spec.md §8 scenario 6).
	ReplayDLQ(ctx context.Context, stream string, limit int64) (int, error)
	// ListDLQ lists up to limit DLQ entries without removing them.
	ListDLQ(ctx context.Context, stream string, limit int64) ([]Message, error)
	// PurgeDLQ deletes every entry currently in stream's DLQ.
	PurgeDLQ(ctx context.Context, stream string) (int64, error)
}
