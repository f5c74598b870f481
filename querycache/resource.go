package querycache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-wedding-cache/cache"
	"github.com/goliatone/go-wedding-cache/remote"
	"github.com/goliatone/go-wedding-cache/store"
)

// Reporter shows user facing messages, usually a toast.
type Reporter interface {
	Error(message string)
}

// Config wires a Resource.
type Config[T any] struct {
	// Name is the resource name, e.g. "WeddingTasks". Its snake_case form
	// prefixes every cache key and is the invalidation tag.
	Name string
	// Label is used in user facing messages. Defaults to Name.
	Label string

	Table      remote.Table[T]
	Collection *store.Collection[T]
	Cache      cache.CacheService
	Keys       cache.KeySerializer
	Registry   *Registry

	// TTL is the window accepted for cached reads.
	TTL time.Duration
	// StaleAfter bounds how long a valid collection is served without a
	// fetch. Zero serves it until invalidated.
	StaleAfter time.Duration

	// AssignID sets a generated id on items created without one.
	AssignID func(item T, id string) T

	Reporter Reporter
	Logger   *slog.Logger
}

// Resource is the read-through, optimistic-write binding of one entity.
type Resource[T any] struct {
	name       string
	label      string
	namespace  string
	table      remote.Table[T]
	collection *store.Collection[T]
	cache      cache.CacheService
	keys       cache.KeySerializer
	registry   *Registry
	ttl        time.Duration
	staleAfter time.Duration
	assignID   func(T, string) T
	reporter   Reporter
	logger     *slog.Logger

	mutations *tracker

	mu      sync.Mutex
	lastKey string
	// gen moves on every invalidation and reset. A load only publishes its
	// rows when gen did not move while it was fetching.
	gen uint64
}

func New[T any](cfg Config[T]) *Resource[T] {
	r := &Resource[T]{
		name:       cfg.Name,
		label:      cfg.Label,
		namespace:  Namespace(cfg.Name),
		table:      cfg.Table,
		collection: cfg.Collection,
		cache:      cfg.Cache,
		keys:       cfg.Keys,
		registry:   cfg.Registry,
		ttl:        cfg.TTL,
		staleAfter: cfg.StaleAfter,
		assignID:   cfg.AssignID,
		reporter:   cfg.Reporter,
		logger:     cfg.Logger,
		mutations:  newTracker(),
	}
	if r.label == "" {
		r.label = cfg.Name
	}
	if r.keys == nil {
		r.keys = cache.NewDefaultKeySerializer()
	}
	if r.registry == nil {
		r.registry = NewRegistry()
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

func (r *Resource[T]) Name() string                     { return r.name }
func (r *Resource[T]) Namespace() string                { return r.namespace }
func (r *Resource[T]) Collection() *store.Collection[T] { return r.collection }

// Key is the cache key of a list read with criteria.
func (r *Resource[T]) Key(criteria ...remote.Criteria) string {
	return r.keys.SerializeKey(r.namespace+cache.KeySeparator+"list", criteria)
}

// Load returns the collection for criteria, fetching when it is not valid.
// A fetch that overlaps a write or reset is returned to the caller but not
// kept: the collection stays invalid and the cache key is dropped.
func (r *Resource[T]) Load(ctx context.Context, criteria ...remote.Criteria) ([]T, error) {
	key := r.Key(criteria...)

	r.mu.Lock()
	sameQuery := r.lastKey == "" || r.lastKey == key
	gen := r.gen
	r.mu.Unlock()

	if sameQuery && r.collection.Fresh(r.staleAfter) {
		r.setLastKey(key)
		return r.collection.Items(), nil
	}

	items, current, err := FetchCurrent(ctx, r.cache, r.registry, key, r.ttl, func(ctx context.Context) ([]T, error) {
		return r.table.Select(ctx, criteria...)
	}, r.namespace)
	if err != nil {
		r.logError("load", "", err, "criteria", remote.Describe(criteria...))
		return nil, err
	}

	r.mu.Lock()
	if current && r.gen == gen {
		r.collection.SetCollection(items)
		r.lastKey = key
	} else {
		current = false
	}
	r.mu.Unlock()

	if !current {
		r.logger.Debug("discarded overlapping read", "resource", r.namespace, "key", key)
	}
	return append([]T(nil), items...), nil
}

// OneKey is the cache key of a single row read.
func (r *Resource[T]) OneKey(id string) string {
	return r.keys.SerializeKey(r.namespace+cache.KeySeparator+"one", id)
}

// FetchOne reads a single row by id through the cache, using ttl or the
// resource TTL when ttl is not positive. The collection is not touched.
func (r *Resource[T]) FetchOne(ctx context.Context, id string, ttl time.Duration) (T, error) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	item, err := Fetch(ctx, r.cache, r.registry, r.OneKey(id), ttl, func(ctx context.Context) (T, error) {
		return r.table.Single(ctx, remote.Eq("id", id))
	}, r.namespace)
	if err != nil {
		r.logError("fetch", id, err)
	}
	return item, err
}

// Create appends item locally, then inserts it remotely. Items without an
// id get a generated one through AssignID.
func (r *Resource[T]) Create(ctx context.Context, item T) (T, error) {
	id := r.collection.IDOf(item)
	if id == "" {
		if r.assignID == nil {
			return item, goerrors.NewValidation("missing id",
				goerrors.FieldError{Field: "id", Message: "required when no id generator is configured"})
		}
		id = uuid.NewString()
		item = r.assignID(item, id)
	}

	r.collection.AddItem(item)
	r.mutations.set(id, MutationOptimistic)

	created, err := r.table.Insert(ctx, item)
	if err := r.settle(ctx, "create", id, err); err != nil {
		return item, err
	}
	return created, nil
}

// Update merges fields locally, then patches the remote row.
func (r *Resource[T]) Update(ctx context.Context, id string, fields store.Fields) error {
	r.collection.UpdateItem(id, fields)
	r.mutations.set(id, MutationOptimistic)

	err := r.table.Update(ctx, id, remote.Patch(fields))
	return r.settle(ctx, "update", id, err)
}

// Delete removes the item locally, then remotely.
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	r.collection.RemoveItem(id)
	r.mutations.set(id, MutationOptimistic)

	err := r.table.Delete(ctx, id)
	return r.settle(ctx, "delete", id, err)
}

// MutationState reports the state of the latest write on id.
func (r *Resource[T]) MutationState(id string) MutationState {
	return r.mutations.get(id)
}

// Pending counts writes still waiting for the backend.
func (r *Resource[T]) Pending() int {
	return r.mutations.pending()
}

// Invalidate marks the collection stale and drops every cache key tagged
// with the resource namespace.
func (r *Resource[T]) Invalidate(ctx context.Context) {
	r.mu.Lock()
	r.gen++
	r.mu.Unlock()
	r.collection.Invalidate()
	dropped := r.registry.InvalidateTag(ctx, r.cache, r.namespace)
	r.logger.Debug("resource invalidated", "resource", r.namespace, "keys", len(dropped))
}

// Reset forgets query and mutation bookkeeping, used on sign out.
func (r *Resource[T]) Reset() {
	r.mutations.reset()
	r.mu.Lock()
	r.gen++
	r.lastKey = ""
	r.mu.Unlock()
}

func (r *Resource[T]) settle(ctx context.Context, op, id string, err error) error {
	r.Invalidate(ctx)
	if err != nil {
		r.mutations.set(id, MutationRolledBack)
		r.logError(op, id, err)
		r.report(op, err)
		return err
	}
	r.mutations.set(id, MutationConfirmed)
	return nil
}

func (r *Resource[T]) setLastKey(key string) {
	r.mu.Lock()
	r.lastKey = key
	r.mu.Unlock()
}

func (r *Resource[T]) report(op string, err error) {
	if r.reporter == nil {
		return
	}
	msg := fmt.Sprintf("Could not %s %s.", op, r.label)
	if remote.IsTransport(err) {
		msg = fmt.Sprintf("Could not %s %s: the server is unreachable.", op, r.label)
	}
	r.reporter.Error(msg)
}

func (r *Resource[T]) logError(op, id string, err error, args ...any) {
	if rich, ok := remote.AsRich(err); ok {
		goerrors.LogBySeverity(r.logger.With(append([]any{"resource", r.namespace, "op", op, "id", id}, args...)...), rich)
		return
	}
	r.logger.Error("resource "+op+" failed", append([]any{"resource", r.namespace, "id", id, "error", err}, args...)...)
}
