package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ikasa/internal/session"
)

// EventStream carries session events between bot replicas over a redis stream.
// Every replica reads through its own consumer group so each one sees every
// event; entries are acked per group and trimmed by length, never deleted.
type EventStream struct {
	redis    *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
	maxLen   int64
	sealer   session.Sealer
}

type Message struct {
	ID    string
	Event session.Event
	// Err is set when the entry could not be decoded; it still needs an ack.
	Err error
}

func NewEventStream(rdb *redis.Client, stream, group, consumer string, block time.Duration) *EventStream {
	return &EventStream{
		redis:    rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    block,
		maxLen:   100000,
	}
}

// SealWith seals event tokens on publish and opens them on read. Every
// replica on the stream must share the keys.
func (q *EventStream) SealWith(s session.Sealer) *EventStream {
	q.sealer = s
	return q
}

func (q *EventStream) EnsureGroup(ctx context.Context) error {
	if q == nil {
		return fmt.Errorf("event stream is nil")
	}
	err := q.redis.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create stream group: %w", err)
	}
	return nil
}

func (q *EventStream) PublishSessionEvent(ctx context.Context, ev session.Event) (string, error) {
	if !ev.Kind.Valid() {
		return "", fmt.Errorf("publish: unknown event kind %q", ev.Kind)
	}
	if strings.TrimSpace(ev.ID) == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if q.sealer != nil {
		sealed, err := ev.SealTokens(q.sealer)
		if err != nil {
			return "", fmt.Errorf("publish: %w", err)
		}
		ev = sealed
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"kind": string(ev.Kind), "payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return id, nil
}

func (q *EventStream) Read(ctx context.Context, count int64) ([]Message, error) {
	res, err := q.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    q.block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	out := make([]Message, 0)
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, q.decode(m))
		}
	}
	return out, nil
}

func (q *EventStream) decode(m redis.XMessage) Message {
	raw, ok := m.Values["payload"]
	if !ok {
		return Message{ID: m.ID, Err: fmt.Errorf("entry %s has no payload", m.ID)}
	}
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return Message{ID: m.ID, Err: fmt.Errorf("entry %s payload has type %T", m.ID, raw)}
	}
	var ev session.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Message{ID: m.ID, Err: fmt.Errorf("decode entry %s: %w", m.ID, err)}
	}
	if q.sealer != nil {
		opened, err := ev.OpenTokens(q.sealer)
		if err != nil {
			return Message{ID: m.ID, Err: fmt.Errorf("entry %s: %w", m.ID, err)}
		}
		ev = opened
	}
	return Message{ID: m.ID, Event: ev}
}

func (q *EventStream) Ack(ctx context.Context, messageID string) error {
	if err := q.redis.XAck(ctx, q.stream, q.group, messageID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func (q *EventStream) Consumer() string {
	return q.consumer
}
