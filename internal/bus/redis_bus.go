package bus

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on Redis Streams: XADD for publish, XREADGROUP
// for consume, XACK on success, XAUTOCLAIM for reclaiming stale pending
// entries, and a plain companion stream ("<stream>:dlq") for dead letters.
type RedisBus struct {
	client          *redis.Client
	maxDeliveries   int64
	maxStreamAge    time.Duration
}

func NewRedisBus(client *redis.Client, maxDeliveries int64, maxStreamAge time.Duration) *RedisBus {
	return &RedisBus{client: client, maxDeliveries: maxDeliveries, maxStreamAge: maxStreamAge}
}

func (b *RedisBus) DLQStream(stream string) string {
	return stream + ":dlq"
}

func (b *RedisBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func (b *RedisBus) Publish(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 0,
		Approx: true,
		Values: map[string]any{"payload": payload, "enqueued_at": time.Now().UTC().Format(time.RFC3339Nano)},
	}).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (b *RedisBus) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out []Message
	for _, s := range res {
		for _, entry := range s.Messages {
			out = append(out, toMessage(entry))
		}
	}
	return out, nil
}

func (b *RedisBus) Ack(ctx context.Context, stream, group string, msg Message) error {
	return b.client.XAck(ctx, stream, group, msg.ID).Err()
}

func (b *RedisBus) Nack(ctx context.Context, stream, group string, msg Message, toDLQ bool) error {
	if !toDLQ {
		// Leave it pending; it becomes eligible for ReclaimStale once its
		// idle time crosses the visibility window.
		return nil
	}
	if _, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.DLQStream(stream),
		Values: map[string]any{
			"payload":          msg.Payload,
			"original_id":      msg.ID,
			"delivery_attempt": msg.DeliveryAttempt,
			"dlq_at":           time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err(); err != nil {
		return err
	}
	return b.client.XAck(ctx, stream, group, msg.ID).Err()
}

func (b *RedisBus) ReclaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	entries, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		msg := toMessage(entry)
		// XAUTOCLAIM does not report delivery counts; read this entry's count
		// from the pending-entries list so callers can enforce a retry budget.
		pending, pErr := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream, Group: group, Start: entry.ID, End: entry.ID, Count: 1,
		}).Result()
		if pErr == nil && len(pending) == 1 {
			msg.DeliveryAttempt = pending[0].RetryCount
		}
		out = append(out, msg)
	}
	return out, nil
}

func (b *RedisBus) Depth(ctx context.Context, stream string) (int64, error) {
	return b.client.XLen(ctx, stream).Result()
}

func (b *RedisBus) ReplayDLQ(ctx context.Context, stream string, limit int64) (int, error) {
	dlq := b.DLQStream(stream)
	entries, err := b.client.XRange(ctx, dlq, "-", "+").Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for i, entry := range entries {
		if int64(i) >= limit {
			break
		}
		payload, _ := entry.Values["payload"].(string)
		if _, err := b.Publish(ctx, stream, []byte(payload)); err != nil {
			return moved, err
		}
		if err := b.client.XDel(ctx, dlq, entry.ID).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (b *RedisBus) ListDLQ(ctx context.Context, stream string, limit int64) ([]Message, error) {
	entries, err := b.client.XRangeN(ctx, b.DLQStream(stream), "-", "+", limit).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toMessage(entry))
	}
	return out, nil
}

func (b *RedisBus) PurgeDLQ(ctx context.Context, stream string) (int64, error) {
	dlq := b.DLQStream(stream)
	n, err := b.client.XLen(ctx, dlq).Result()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := b.client.Del(ctx, dlq).Err(); err != nil {
		return 0, err
	}
	return n, nil
}

func toMessage(entry redis.XMessage) Message {
	payload, _ := entry.Values["payload"].(string)
	return Message{
		ID:      entry.ID,
		Payload: []byte(payload),
	}
}
