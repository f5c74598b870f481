package querycache

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-wedding-cache/cache"
)

// Registry remembers which cache keys were read under which tags. It is
// shared by the resources of a container so tags can cross resources.
//
// Every tag has a generation bumped on invalidation, and Reset bumps a
// global epoch. A read that overlaps either does not keep its result.
type Registry struct {
	keys   *xsync.MapOf[string, []string]
	gens   *xsync.MapOf[string, uint64]
	epoch  atomic.Uint64
	logger *slog.Logger
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		keys:   xsync.NewMapOf[string, []string](),
		gens:   xsync.NewMapOf[string, uint64](),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Track registers key under tags, merging with tags it already has.
func (r *Registry) Track(key string, tags ...string) {
	r.keys.Compute(key, func(old []string, loaded bool) ([]string, bool) {
		merged := append(append([]string(nil), old...), tags...)
		return dedupeStrings(merged), false
	})
}

// InvalidateTag deletes every tracked key carrying tag from svc. The tag
// generation moves first so reads still in flight drop their result.
func (r *Registry) InvalidateTag(ctx context.Context, svc cache.CacheService, tag string) []string {
	r.gens.Compute(tag, func(old uint64, _ bool) (uint64, bool) {
		return old + 1, false
	})

	var matched []string
	r.keys.Range(func(key string, tags []string) bool {
		if slices.Contains(tags, tag) {
			matched = append(matched, key)
		}
		return true
	})
	for _, key := range matched {
		r.drop(ctx, svc, key, "tag", tag)
		r.keys.Delete(key)
	}
	sort.Strings(matched)
	return matched
}

// Keys lists tracked keys carrying tag, or every key when tag is empty.
func (r *Registry) Keys(tag string) []string {
	var out []string
	r.keys.Range(func(key string, tags []string) bool {
		if tag == "" || slices.Contains(tags, tag) {
			out = append(out, key)
		}
		return true
	})
	sort.Strings(out)
	return out
}

// Reset forgets every key without touching the cache. Reads in flight are
// treated as stale.
func (r *Registry) Reset() {
	r.epoch.Add(1)
	r.keys.Clear()
}

// stamp sums the epoch and the generations of tags. Counters only grow,
// so any invalidation in between changes the sum.
func (r *Registry) stamp(tags []string) uint64 {
	sum := r.epoch.Load()
	for _, tag := range tags {
		gen, _ := r.gens.Load(tag)
		sum += gen
	}
	return sum
}

func (r *Registry) drop(ctx context.Context, svc cache.CacheService, key string, args ...any) {
	if err := svc.Delete(ctx, key); err != nil {
		var rich *goerrors.Error
		if goerrors.As(err, &rich) {
			goerrors.LogBySeverity(r.logger.With(append([]any{"key", key}, args...)...), rich)
			return
		}
		r.logger.Error("cache key delete failed", append([]any{"key", key, "error", err}, args...)...)
	}
}

// Fetch is cache.CachedFetch with the key registered under the tags carried
// by ctx plus tags.
func Fetch[T any](ctx context.Context, svc cache.CacheService, registry *Registry, key string, ttl time.Duration, fetch cache.FetchFn[T], tags ...string) (T, error) {
	value, _, err := FetchCurrent(ctx, svc, registry, key, ttl, fetch, tags...)
	return value, err
}

// FetchCurrent is Fetch that also reports whether the value is still
// current. When one of the tags was invalidated, or the registry was reset,
// while the read was in flight, the key is dropped from the cache again and
// current is false. Callers should not keep such a value as fresh state.
func FetchCurrent[T any](ctx context.Context, svc cache.CacheService, registry *Registry, key string, ttl time.Duration, fetch cache.FetchFn[T], tags ...string) (T, bool, error) {
	all := dedupeStrings(append(cacheTagsFromContext(ctx), tags...))
	before := registry.stamp(all)
	registry.Track(key, all...)

	value, err := cache.CachedFetch(ctx, svc, key, ttl, fetch)
	if err != nil {
		return value, false, err
	}
	if registry.stamp(all) != before {
		registry.drop(ctx, svc, key, "reason", "invalidated during read")
		return value, false, nil
	}
	return value, true, nil
}
