package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestQueryCacheRoundTrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c, err := NewQueryCache(rdb, "")
	if err != nil {
		t.Fatalf("NewQueryCache() error = %v", err)
	}
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "abc"); err != nil || ok {
		t.Fatalf("Get() on empty cache = %v, %v", ok, err)
	}

	if err := c.Set(ctx, "abc", []byte(`{"data":1}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !mr.Exists("querycache:abc") {
		t.Fatal("expected prefixed key in redis")
	}

	got, ok, err := c.Get(ctx, "abc")
	if err != nil || !ok || string(got) != `{"data":1}` {
		t.Fatalf("Get() = %q, %v, %v", got, ok, err)
	}

	mr.FastForward(time.Minute)
	if _, ok, _ := c.Get(ctx, "abc"); ok {
		t.Fatal("Get() after ttl should miss")
	}
}

func TestQueryCacheZeroTTL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c, _ := NewQueryCache(rdb, "q")
	if err := c.Set(context.Background(), "abc", []byte("x"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if mr.Exists("q:abc") {
		t.Fatal("zero ttl should not store")
	}
}

func TestNewQueryCacheRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewQueryCache(nil, "q"); err == nil {
		t.Fatal("NewQueryCache(nil) error = nil, want error")
	}
}
