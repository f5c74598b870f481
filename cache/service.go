package cache

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-wedding-cache/internal/cacheinfra"
)

// ErrInvalidResultType is returned by the typed helpers when the cached value
// does not hold the requested type.
var ErrInvalidResultType = goerrors.New("cached value has unexpected type", goerrors.CategoryInternal).
	WithTextCode("CACHE_INVALID_RESULT_TYPE")

// KeySerializer builds a cache key from a method name + arbitrary args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// FetchFn is the function signature CacheService expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Stats is a point in time view of the cache contents and counters.
type Stats = cacheinfra.Stats

// CacheService is the TTL cache manager. Entries expire on read: a lookup
// whose entry is older than the requested ttl is a miss and removes the entry.
type CacheService interface {
	Get(ctx context.Context, key string, ttl time.Duration) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
	CachedFetch(ctx context.Context, key string, ttl time.Duration, fetchFn any) (any, error)
	Stats() Stats
}

// CachedFetch is a type-safe wrapper around CacheService.CachedFetch.
func CachedFetch[T any](ctx context.Context, service CacheService, key string, ttl time.Duration, fetchFn FetchFn[T]) (T, error) {
	var zero T
	result, err := service.CachedFetch(ctx, key, ttl, fetchFn)
	if err != nil {
		return zero, err
	}
	return asType[T](result)
}

// Get is a type-safe wrapper around CacheService.Get. A value of the wrong
// type is reported as a miss.
func Get[T any](ctx context.Context, service CacheService, key string, ttl time.Duration) (T, bool) {
	var zero T
	result, ok := service.Get(ctx, key, ttl)
	if !ok {
		return zero, false
	}
	typed, err := asType[T](result)
	if err != nil {
		return zero, false
	}
	return typed, true
}

func asType[T any](result any) (T, error) {
	var zero T
	// a nil interface result is the zero value of T (nil interface, nil pointer)
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, ErrInvalidResultType
	}
	return typed, nil
}
