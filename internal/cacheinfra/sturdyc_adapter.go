package cacheinfra

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc backed TTL cache.
type Config struct {
	// Capacity bounds the number of entries. When it is reached sturdyc
	// evicts EvictionPercentage of the least recently used entries.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	NumShards int

	// DefaultTTL is used by Set when the caller passes a non positive ttl.
	DefaultTTL time.Duration

	// MaxTTL is the storage horizon handed to sturdyc. Per call TTLs longer
	// than this still expire at MaxTTL.
	MaxTTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often sturdyc sweeps entries older than MaxTTL.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          64,
		DefaultTTL:         5 * time.Minute,
		MaxTTL:             24 * time.Hour,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, MaxTTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.DefaultTTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxTTL, validation.Required, validation.Min(c.DefaultTTL)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid cache config").
			WithTextCode("CACHE_CONFIG_INVALID")
	}
	return nil
}

// Clock is the time source used for storedAt stamps and expiry checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options carries the collaborators that are not plain configuration.
type Options struct {
	Clock  Clock
	Logger *slog.Logger
}

// Stats is a point in time view of the cache contents and counters.
type Stats struct {
	Size    int
	Keys    []string
	Hits    uint64
	Misses  uint64
	Expired uint64
}

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
	// seq identifies one write of the key.
	seq uint64
}

// sturdycService keeps (value, storedAt) pairs in a sturdyc client and
// enforces the caller supplied TTL on every read.
type sturdycService struct {
	client *sturdyc.Client[entry]
	cfg    Config
	clock  Clock
	logger *slog.Logger

	hits    atomic.Uint64
	misses  atomic.Uint64
	expired atomic.Uint64
	writes  atomic.Uint64
}

// NewSturdycService validates cfg and builds the sturdyc backed service.
func NewSturdycService(cfg Config, opts Options) (*sturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client := sturdyc.New[entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.MaxTTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &sturdycService{
		client: client,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
	}, nil
}

// Get returns the value for key when it is younger than ttl. A stale entry
// is removed before reporting the miss, unless another write replaced it in
// the meantime. A non positive ttl falls back to the ttl the entry was stored
// with.
func (s *sturdycService) Get(ctx context.Context, key string, ttl time.Duration) (any, bool) {
	e, ok := s.client.Get(key)
	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	if s.isExpired(e, ttl) {
		s.deleteIfSame(key, e)
		s.expired.Add(1)
		s.misses.Add(1)
		s.logger.Debug("cache entry expired", "key", key, "stored_at", e.storedAt)
		return nil, false
	}

	s.hits.Add(1)
	return e.value, true
}

// Set stores value with the current timestamp, overwriting any prior entry.
func (s *sturdycService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return goerrors.New("cache key cannot be empty", goerrors.CategoryBadInput).
			WithTextCode("CACHE_KEY_EMPTY")
	}
	s.client.Set(key, s.newEntry(value, s.resolveTTL(ttl)))
	return nil
}

// Delete removes a single entry. Missing keys are not an error.
func (s *sturdycService) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix.
func (s *sturdycService) DeleteByPrefix(ctx context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// Clear removes all entries.
func (s *sturdycService) Clear(ctx context.Context) error {
	for _, key := range s.client.ScanKeys() {
		s.client.Delete(key)
	}
	s.logger.Debug("cache cleared")
	return nil
}

// CachedFetch returns the cached value for key when fresh, otherwise it runs
// fetchFn, stores the result and returns it. Concurrent misses on the same key
// share a single call to fetchFn. Errors are returned and never cached.
//
// fetchFn must have the signature func(context.Context) (T, error).
func (s *sturdycService) CachedFetch(ctx context.Context, key string, ttl time.Duration, fetchFn any) (any, error) {
	if err := validateFetchFn(fetchFn); err != nil {
		return nil, err
	}

	if value, ok := s.Get(ctx, key, ttl); ok {
		return value, nil
	}

	window := s.resolveTTL(ttl)
	var fetchErr error
	e, err := s.client.GetOrFetch(ctx, key, func(ctx context.Context) (entry, error) {
		value, err := callFetchFunctionWithReflection(ctx, fetchFn)
		if err != nil {
			fetchErr = err
			return entry{}, err
		}
		return s.newEntry(value, window), nil
	})
	if err != nil {
		if fetchErr != nil {
			return nil, fetchErr
		}
		return nil, err
	}
	return e.value, nil
}

// Stats reports the keys currently held and the hit/miss/expiry counters.
func (s *sturdycService) Stats() Stats {
	keys := s.client.ScanKeys()
	sort.Strings(keys)
	return Stats{
		Size:    len(keys),
		Keys:    keys,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Expired: s.expired.Load(),
	}
}

func (s *sturdycService) newEntry(value any, ttl time.Duration) entry {
	return entry{value: value, storedAt: s.clock.Now(), ttl: ttl, seq: s.writes.Add(1)}
}

// deleteIfSame removes key only while it still holds the write seen in e.
func (s *sturdycService) deleteIfSame(key string, e entry) {
	current, ok := s.client.Get(key)
	if !ok || current.seq != e.seq || !current.storedAt.Equal(e.storedAt) {
		return
	}
	s.client.Delete(key)
}

func (s *sturdycService) resolveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.cfg.DefaultTTL
	}
	return ttl
}

func (s *sturdycService) isExpired(e entry, ttl time.Duration) bool {
	window := ttl
	if window <= 0 {
		window = e.ttl
	}
	return s.clock.Now().Sub(e.storedAt) >= window
}

// validateFetchFn checks that fetchFn has the signature func(context.Context) (T, error).
func validateFetchFn(fetchFn any) error {
	invalid := func(msg string) error {
		return goerrors.NewValidation("invalid fetch function",
			goerrors.FieldError{Field: "fetchFn", Message: msg}).
			WithTextCode("CACHE_FETCH_FN_INVALID")
	}

	if fetchFn == nil {
		return invalid("cannot be nil")
	}

	fnType := reflect.TypeOf(fetchFn)
	if fnType.Kind() != reflect.Func {
		return invalid("must be a function")
	}
	if reflect.ValueOf(fetchFn).IsNil() {
		return invalid("cannot be nil")
	}
	if fnType.NumIn() != 1 || fnType.NumOut() != 2 {
		return invalid("must have signature func(context.Context) (T, error)")
	}

	contextType := reflect.TypeOf((*context.Context)(nil)).Elem()
	if !fnType.In(0).Implements(contextType) {
		return invalid("first parameter must be context.Context")
	}

	errorType := reflect.TypeOf((*error)(nil)).Elem()
	if !fnType.Out(1).Implements(errorType) {
		return invalid("second return value must be error")
	}

	return nil
}

// callFetchFunctionWithReflection calls a validated func(context.Context) (T, error).
func callFetchFunctionWithReflection(ctx context.Context, fetchFn any) (any, error) {
	if fn, ok := fetchFn.(func(context.Context) (any, error)); ok {
		return fn(ctx)
	}

	results := reflect.ValueOf(fetchFn).Call([]reflect.Value{reflect.ValueOf(ctx)})

	var result any
	if v := results[0]; v.IsValid() && v.CanInterface() {
		result = v.Interface()
	}

	var err error
	if v := results[1]; v.IsValid() && !v.IsNil() {
		err = v.Interface().(error)
	}

	return result, err
}
