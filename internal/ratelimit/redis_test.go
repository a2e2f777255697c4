package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T, cfg Config) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLimiter(rdb, cfg)
}

func TestRedisLimiter_HitAndExhaust(t *testing.T) {
	l := newTestRedisLimiter(t, Config{Limit: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		info, err := l.Hit(ctx, "k")
		if err != nil {
			t.Fatalf("Hit() error = %v", err)
		}
		if info.Limited {
			t.Fatalf("hit %d limited, want admitted", i+1)
		}
	}

	info, err := l.Hit(ctx, "k")
	if err != nil {
		t.Fatalf("Hit() error = %v", err)
	}
	if !info.Limited {
		t.Error("hit past the limit admitted, want limited")
	}
	if info.Limit != 3 {
		t.Errorf("Limit = %d, want 3", info.Limit)
	}
}

func TestRedisLimiter_CheckDoesNotConsume(t *testing.T) {
	l := newTestRedisLimiter(t, Config{Limit: 2, Window: time.Minute})
	ctx := context.Background()

	before, err := l.Check(ctx, "k")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	after, err := l.Check(ctx, "k")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if before.Remaining != after.Remaining {
		t.Errorf("Remaining changed across checks: %d then %d", before.Remaining, after.Remaining)
	}
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	l := newTestRedisLimiter(t, Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	l.Hit(ctx, "alice")
	if info, _ := l.Hit(ctx, "alice"); !info.Limited {
		t.Fatal("alice's second hit admitted, want limited")
	}
	if info, err := l.Hit(ctx, "bob"); err != nil || info.Limited {
		t.Errorf("bob limited by alice's traffic (info=%+v err=%v)", info, err)
	}
}

func TestRedisLimiter_Reset(t *testing.T) {
	l := newTestRedisLimiter(t, Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	l.Hit(ctx, "k")
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if info, _ := l.Hit(ctx, "k"); info.Limited {
		t.Error("hit after Reset limited, want full allowance")
	}
}

func TestRedisLimiter_ResetAll(t *testing.T) {
	l := newTestRedisLimiter(t, Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	l.Hit(ctx, "a")
	l.Hit(ctx, "b")
	if err := l.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll() error = %v", err)
	}
	if info, _ := l.Hit(ctx, "a"); info.Limited {
		t.Error("a limited after ResetAll")
	}
	if info, _ := l.Hit(ctx, "b"); info.Limited {
		t.Error("b limited after ResetAll")
	}
}

func TestRedisLimiter_TransportErrorSurfaces(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	l := NewRedisLimiter(rdb, Config{Limit: 1, Window: time.Minute})

	mr.Close()
	if _, err := l.Hit(context.Background(), "k"); err == nil {
		t.Error("Hit() error = nil with Redis down, want transport error for fail-closed handling")
	}
}
