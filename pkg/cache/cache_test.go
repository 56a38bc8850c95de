package cache_test

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/memes/pimachine/pkg/cache"
)

const (
	TEST_CACHE_LOOP_LIMIT = 10
)

// Verify that values written to c can be recalled, and that unset keys are an
// empty string without error.
func testRoundTrip(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()
	for i := uint64(0); i < TEST_CACHE_LOOP_LIMIT; i++ {
		expected := ""
		key := strconv.FormatUint(i*9, 16)
		actual, err := c.GetValue(ctx, key)
		if err != nil {
			t.Errorf("GetValue returned an error: %v", err)
		}
		if actual != expected {
			t.Errorf("Index %d: Expected %s received %s", i, expected, actual)
		}
		expected = fmt.Sprintf("%09d", i)
		if err = c.SetValue(ctx, key, expected); err != nil {
			t.Errorf("Index: %d: SetValue returned an error: %v", i, err)
		}
		actual, err = c.GetValue(ctx, key)
		if err != nil {
			t.Errorf("GetValue returned an error: %v", err)
		}
		if actual != expected {
			t.Errorf("Index %d: Expected %s received %s", i, expected, actual)
		}
	}
}

// The noopCache should do nothing useful. This test confirms that values can
// appear to be added successfully, but an attempt to recall the value will
// result in an empty string.
func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	cache := cache.NewNoopCache()
	if cache == nil {
		t.Error("Noop cache is nil")
	}
	for i := uint64(0); i < TEST_CACHE_LOOP_LIMIT; i++ {
		expected := ""
		key := strconv.FormatUint(i, 16)
		if err := cache.SetValue(ctx, key, "1234"); err != nil {
			t.Errorf("Index: %d: SetValue returned an error: %v", i, err)
		}
		actual, err := cache.GetValue(ctx, key)
		if err != nil {
			t.Errorf("GetValue returned an error: %v", err)
		}
		if actual != expected {
			t.Errorf("Index %d: Expected %s received %s", i, expected, actual)
		}
	}
}

func TestMemoryCache(t *testing.T) {
	c := cache.NewMemoryCache()
	if c == nil {
		t.Error("Memory cache is nil")
	}
	testRoundTrip(t, c)
	if c.Len() != TEST_CACHE_LOOP_LIMIT {
		t.Errorf("Expected %d entries received %d", TEST_CACHE_LOOP_LIMIT, c.Len())
	}
}

func TestMemoryCache_Expiration(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.WithMemoryExpiration(time.Millisecond), cache.WithMemoryCleanupInterval(time.Hour))
	if err := c.SetValue(ctx, "0", "141592653"); err != nil {
		t.Errorf("SetValue returned an error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	actual, err := c.GetValue(ctx, "0")
	if err != nil {
		t.Errorf("GetValue returned an error: %v", err)
	}
	if actual != "" {
		t.Errorf("Expected expired entry, received %s", actual)
	}
}

// The RedisCache will use a Redis-like in-memory instance to cache values. The
// test should confirm that a value can be added to the cache and recalled
// successfully.
func TestRedisCache(t *testing.T) {
	mock, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Error running miniredis: %v", err)
	}
	defer mock.Close()
	c := cache.NewRedisCache(context.Background(), mock.Addr())
	if c == nil {
		t.Error("Redis cache is nil")
	}
	testRoundTrip(t, c)
}

func TestRedisCache_Options(t *testing.T) {
	mock, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Error running miniredis: %v", err)
	}
	defer mock.Close()
	ctx := context.Background()
	c := cache.NewRedisCache(ctx, mock.Addr(), cache.WithRedisKeyPrefix("pi:"), cache.WithRedisTTL(time.Hour), cache.WithRedisMaxIdle(2))
	// The key must not collide with those used by testRoundTrip.
	if err := c.SetValue(ctx, "ff", "653589793"); err != nil {
		t.Errorf("SetValue returned an error: %v", err)
	}
	actual, err := mock.Get("pi:ff")
	if err != nil {
		t.Errorf("miniredis Get returned an error: %v", err)
	}
	if actual != "653589793" {
		t.Errorf("Expected %s received %s", "653589793", actual)
	}
	if ttl := mock.TTL("pi:ff"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("Expected a TTL of up to %s, received %s", time.Hour, ttl)
	}
	testRoundTrip(t, c)
}

func TestRedisCache_Unavailable(t *testing.T) {
	mock, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Error running miniredis: %v", err)
	}
	addr := mock.Addr()
	mock.Close()
	c := cache.NewRedisCache(context.Background(), addr)
	if _, err := c.GetValue(context.Background(), "0"); err == nil {
		t.Error("Expected an error from an unavailable Redis")
	}
}
