package cacheinfra

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-wedding-cache/pkg/testsupport"
)

func newTestService(t *testing.T) (*sturdycService, *testsupport.Clock) {
	t.Helper()
	clock := testsupport.NewClock(time.Time{})
	cfg := DefaultConfig()
	cfg.NumShards = 4
	cfg.Capacity = 1000
	svc, err := NewSturdycService(cfg, Options{Clock: clock})
	if err != nil {
		t.Fatalf("NewSturdycService: %v", err)
	}
	return svc, clock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity 10000, got %d", cfg.Capacity)
	}
	if cfg.DefaultTTL != 5*time.Minute {
		t.Errorf("expected DefaultTTL 5m, got %v", cfg.DefaultTTL)
	}
	if cfg.MaxTTL < cfg.DefaultTTL {
		t.Errorf("MaxTTL %v below DefaultTTL %v", cfg.MaxTTL, cfg.DefaultTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero capacity", mutate: func(c *Config) { c.Capacity = 0 }, wantErr: true},
		{name: "zero shards", mutate: func(c *Config) { c.NumShards = 0 }, wantErr: true},
		{name: "eviction over 100", mutate: func(c *Config) { c.EvictionPercentage = 101 }, wantErr: true},
		{name: "max ttl below default", mutate: func(c *Config) { c.MaxTTL = time.Second }, wantErr: true},
		{name: "zero default ttl", mutate: func(c *Config) { c.DefaultTTL = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSturdycService_InvalidConfig(t *testing.T) {
	if _, err := NewSturdycService(Config{}, Options{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestSetThenGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := svc.Get(ctx, "k", time.Minute)
	if !ok || got != "v" {
		t.Fatalf("Get = %v, %v; want v, true", got, ok)
	}
}

func TestSet_EmptyKey(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Set(context.Background(), "", "v", time.Minute); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestGet_ExpiredEntryIsRemoved(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_ = svc.Set(ctx, "k", "v", time.Millisecond)
	clock.Advance(2 * time.Millisecond)

	if _, ok := svc.Get(ctx, "k", time.Millisecond); ok {
		t.Fatal("expected miss after ttl elapsed")
	}
	stats := svc.Stats()
	for _, key := range stats.Keys {
		if key == "k" {
			t.Fatal("expired key should be gone from stats")
		}
	}
	if stats.Expired != 1 {
		t.Errorf("expected 1 expiry, got %d", stats.Expired)
	}
}

func TestGet_ExpiryKeepsNewerWrite(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_ = svc.Set(ctx, "k", "old", time.Minute)
	clock.Advance(2 * time.Minute)
	stale, ok := svc.client.Get("k")
	if !ok || !svc.isExpired(stale, 0) {
		t.Fatal("expected an expired entry")
	}

	// a writer lands between the expiry check and the delete
	_ = svc.Set(ctx, "k", "new", time.Minute)
	svc.deleteIfSame("k", stale)

	if v, ok := svc.Get(ctx, "k", 0); !ok || v != "new" {
		t.Fatalf("newer write should survive, got %v, %v", v, ok)
	}

	current, _ := svc.client.Get("k")
	clock.Advance(2 * time.Minute)
	svc.deleteIfSame("k", current)
	if _, ok := svc.client.Get("k"); ok {
		t.Fatal("unchanged expired entry should be removed")
	}
}

func TestGet_PerCallWindow(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_ = svc.Set(ctx, "user_data_42", "profile", 5*time.Minute)

	clock.Advance(4 * time.Minute)
	if _, ok := svc.Get(ctx, "user_data_42", 5*time.Minute); !ok {
		t.Fatal("expected hit at 4 minutes with 5 minute ttl")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := svc.Get(ctx, "user_data_42", 5*time.Minute); ok {
		t.Fatal("expected miss at 6 minutes with 5 minute ttl")
	}
}

func TestGet_StricterReaderSeesMiss(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_ = svc.Set(ctx, "k", 1, time.Hour)
	clock.Advance(2 * time.Minute)

	if _, ok := svc.Get(ctx, "k", time.Minute); ok {
		t.Fatal("one minute reader should miss a two minute old entry")
	}
}

func TestGet_ZeroTTLUsesStoredWindow(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_ = svc.Set(ctx, "k", 1, 10*time.Second)
	clock.Advance(5 * time.Second)
	if _, ok := svc.Get(ctx, "k", 0); !ok {
		t.Fatal("expected hit inside stored window")
	}
	clock.Advance(6 * time.Second)
	if _, ok := svc.Get(ctx, "k", 0); ok {
		t.Fatal("expected miss outside stored window")
	}
}

func TestCachedFetch_CallsFetcherOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "venue", nil
	}

	for i := 0; i < 3; i++ {
		got, err := svc.CachedFetch(ctx, "provider::p1", time.Minute, fetch)
		if err != nil {
			t.Fatalf("CachedFetch: %v", err)
		}
		if got != "venue" {
			t.Fatalf("got %v", got)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls.Load())
	}
}

func TestCachedFetch_RefetchesAfterExpiry(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(ctx context.Context) (int32, error) {
		return calls.Add(1), nil
	}

	first, _ := svc.CachedFetch(ctx, "k", time.Minute, fetch)
	clock.Advance(2 * time.Minute)
	second, _ := svc.CachedFetch(ctx, "k", time.Minute, fetch)

	if first.(int32) != 1 || second.(int32) != 2 {
		t.Fatalf("expected fresh fetch after expiry, got %v then %v", first, second)
	}
}

func TestCachedFetch_ErrorsAreNotCached(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	boom := errors.New("network down")
	var calls atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", boom
		}
		return "ok", nil
	}

	if _, err := svc.CachedFetch(ctx, "k", time.Minute, fetch); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if _, ok := svc.Get(ctx, "k", time.Minute); ok {
		t.Fatal("failed fetch must not populate the cache")
	}
	got, err := svc.CachedFetch(ctx, "k", time.Minute, fetch)
	if err != nil || got != "ok" {
		t.Fatalf("second fetch = %v, %v", got, err)
	}
}

func TestCachedFetch_InvalidFetchFn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]any{
		"nil":       nil,
		"not func":  42,
		"no ctx":    func() (string, error) { return "", nil },
		"no error":  func(ctx context.Context) (string, string) { return "", "" },
		"typed nil": (func(context.Context) (string, error))(nil),
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.CachedFetch(ctx, "k", time.Minute, fn); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDeleteAndDeleteByPrefix(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, k := range []string{"tasks::list::a", "tasks::list::b", "expenses::list::a"} {
		_ = svc.Set(ctx, k, k, time.Minute)
	}

	if err := svc.Delete(ctx, "missing"); err != nil {
		t.Fatalf("deleting a missing key should not fail: %v", err)
	}
	if err := svc.DeleteByPrefix(ctx, "tasks::"); err != nil {
		t.Fatalf("DeleteByPrefix: %v", err)
	}

	stats := svc.Stats()
	if stats.Size != 1 || stats.Keys[0] != "expenses::list::a" {
		t.Fatalf("unexpected keys after prefix delete: %v", stats.Keys)
	}
}

func TestClear(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_ = svc.Set(ctx, "a", 1, time.Minute)
	_ = svc.Set(ctx, "b", 2, time.Minute)
	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if size := svc.Stats().Size; size != 0 {
		t.Fatalf("expected empty cache, got %d", size)
	}
}

func TestStats_Counters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_ = svc.Set(ctx, "a", 1, time.Minute)
	svc.Get(ctx, "a", time.Minute)
	svc.Get(ctx, "b", time.Minute)

	stats := svc.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("hits=%d misses=%d", stats.Hits, stats.Misses)
	}
}
