package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"ikasa/internal/metrics"
	"ikasa/internal/queue"
	"ikasa/internal/session"
)

type recordingApplier struct {
	events chan session.Event
	err    error
}

func (a *recordingApplier) Apply(ctx context.Context, ev session.Event) ([]int64, error) {
	a.events <- ev
	return []int64{1}, a.err
}

type fakeSource struct {
	acked []string
}

func (s *fakeSource) EnsureGroup(ctx context.Context) error { return nil }
func (s *fakeSource) Read(ctx context.Context, count int64) ([]queue.Message, error) {
	return nil, nil
}
func (s *fakeSource) Ack(ctx context.Context, id string) error {
	s.acked = append(s.acked, id)
	return nil
}

func TestHandleAcksEveryEntry(t *testing.T) {
	src := &fakeSource{}
	app := &recordingApplier{events: make(chan session.Event, 4), err: errors.New("boom")}
	w := New(Config{Source: src, Applier: app, Metrics: metrics.Global()})

	w.Handle(context.Background(), queue.Message{ID: "1-0", Err: errors.New("bad json")})
	w.Handle(context.Background(), queue.Message{ID: "2-0", Event: session.Event{Kind: session.EventSignedOut, UserID: "a"}})

	if len(app.events) != 1 {
		t.Fatalf("malformed entries must not be applied")
	}
	if len(src.acked) != 2 || src.acked[0] != "1-0" || src.acked[1] != "2-0" {
		t.Fatalf("expected both entries acked, got %v", src.acked)
	}
}

func TestWorkerConsumesStream(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	stream := queue.NewEventStream(rdb, "ikasa:session-events", "replica-1", "c1", 20*time.Millisecond)
	app := &recordingApplier{events: make(chan session.Event, 1)}
	w := New(Config{Source: stream, Applier: app})

	ctx, cancel := context.WithCancel(context.Background())
	if err := stream.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, 2) }()

	if _, err := stream.PublishSessionEvent(ctx, session.Event{Kind: session.EventUserDeleted, UserID: "acct-9"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-app.events:
		if ev.Kind != session.EventUserDeleted || ev.UserID != "acct-9" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event was not consumed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned %v", err)
	}
}
