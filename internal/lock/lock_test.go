package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/lock"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository/memory"
)

func TestAcquireAndContention(t *testing.T) {
	kv := memory.NewKV()
	guard := lock.NewGuard(kv, 5*time.Minute, zerolog.Nop())
	ctx := context.Background()

	lease, ok, err := guard.Acquire(ctx, "send", 42)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed, ok=%v err=%v", ok, err)
	}

	// Second acquire on the same key is a benign refusal, not an error.
	_, ok, err = guard.Acquire(ctx, "send", 42)
	if err != nil {
		t.Fatalf("contended acquire returned error: %v", err)
	}
	if ok {
		t.Fatal("contended acquire should not succeed")
	}

	// A different message id is independent.
	_, ok, _ = guard.Acquire(ctx, "send", 43)
	if !ok {
		t.Fatal("acquire on a different key should succeed")
	}

	guard.Release(ctx, lease)
	_, ok, _ = guard.Acquire(ctx, "send", 42)
	if !ok {
		t.Fatal("acquire after release should succeed")
	}
}

func TestAcquireFailsClosedOnStoreError(t *testing.T) {
	kv := memory.NewKV()
	kv.Err = errors.New("connection refused")
	guard := lock.NewGuard(kv, time.Minute, zerolog.Nop())

	_, ok, err := guard.Acquire(context.Background(), "send", 1)
	if err != nil {
		t.Fatalf("store outage must not surface as an error: %v", err)
	}
	if ok {
		t.Fatal("store outage must fail closed")
	}
}

func TestExpiredLockIsStolen(t *testing.T) {
	kv := memory.NewKV()
	base := time.Now()
	kv.SetNow(func() time.Time { return base })

	guard := lock.NewGuard(kv, time.Minute, zerolog.Nop())
	ctx := context.Background()

	if _, ok, _ := guard.Acquire(ctx, "send", 7); !ok {
		t.Fatal("initial acquire should succeed")
	}

	// Past the TTL the key is up for grabs again.
	kv.SetNow(func() time.Time { return base.Add(2 * time.Minute) })
	if _, ok, _ := guard.Acquire(ctx, "send", 7); !ok {
		t.Fatal("acquire after TTL expiry should succeed")
	}
}
