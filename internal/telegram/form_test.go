package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"ikasa/internal/guard"
	"ikasa/internal/session"
)

func TestFormStoreRoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	forms := newFormStore(rdb, time.Minute)
	ctx := context.Background()

	empty, err := forms.Get(ctx, 7)
	if err != nil || empty.Awaiting != AwaitNone {
		t.Fatalf("expected empty form, got %+v err=%v", empty, err)
	}

	want := formState{Awaiting: AwaitPassword, Mode: modeSignUp, Email: "a@b.co", Draft: session.Profile{Name: "Ana"}, Route: guard.RouteAuth}
	if err := forms.Set(ctx, 7, want); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := forms.Get(ctx, 7)
	if err != nil || got != want {
		t.Fatalf("got %+v err=%v, want %+v", got, err, want)
	}

	mr.FastForward(2 * time.Minute)
	got, err = forms.Get(ctx, 7)
	if err != nil || got != (formState{}) {
		t.Fatalf("expired form should be empty, got %+v err=%v", got, err)
	}

	_ = forms.Set(ctx, 7, want)
	if err := forms.Clear(ctx, 7); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := forms.Get(ctx, 7); got.Awaiting != AwaitNone {
		t.Fatalf("cleared form should be empty")
	}
}
