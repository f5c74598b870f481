package store

import (
	"sync"
	"time"
)

// Fields is a partial update keyed by serialized field name.
type Fields map[string]any

// CollectionState is the persisted form of a Collection.
type CollectionState[T any] struct {
	Items         []T        `msgpack:"items"`
	LastFetchedAt *time.Time `msgpack:"last_fetched_at"`
	CacheValid    bool       `msgpack:"cache_valid"`
}

// Collection is an ordered list of T with cache bookkeeping.
// cacheValid implies lastFetchedAt is set.
type Collection[T any] struct {
	mu            sync.RWMutex
	name          string
	idOf          func(T) string
	items         []T
	lastFetchedAt *time.Time
	cacheValid    bool

	onChange func()
	opts     options
}

func NewCollection[T any](name string, idOf func(T) string, opts ...Option) *Collection[T] {
	return &Collection[T]{
		name:  name,
		idOf:  idOf,
		items: []T{},
		opts:  buildOptions(opts),
	}
}

func (c *Collection[T]) Name() string { return c.name }

// IDOf returns the id of item.
func (c *Collection[T]) IDOf(item T) string { return c.idOf(item) }

// OnChange registers fn to run after every mutation, outside the lock.
func (c *Collection[T]) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Items returns a copy of the current items.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

func (c *Collection[T]) CacheValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cacheValid
}

func (c *Collection[T]) LastFetchedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastFetchedAt == nil {
		return time.Time{}, false
	}
	return *c.lastFetchedAt, true
}

// Fresh reports whether the collection is valid and, when maxAge is
// positive, fetched less than maxAge ago.
func (c *Collection[T]) Fresh(maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.cacheValid || c.lastFetchedAt == nil {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	return c.opts.clock.Now().Sub(*c.lastFetchedAt) < maxAge
}

// SetCollection replaces the items with a fresh server result.
func (c *Collection[T]) SetCollection(items []T) {
	now := c.opts.clock.Now()
	c.mutate(func() {
		c.items = append([]T(nil), items...)
		c.lastFetchedAt = &now
		c.cacheValid = true
	})
}

// AddItem appends item. Validity is left unchanged.
func (c *Collection[T]) AddItem(item T) {
	c.mutate(func() {
		c.items = append(c.items, item)
	})
}

// UpdateItem merges fields into the item with id. It is a no-op when the id
// is absent or the merge fails.
func (c *Collection[T]) UpdateItem(id string, fields Fields) bool {
	return c.Mutate(id, func(item T) T {
		merged, err := MergeFields(item, fields)
		if err != nil {
			c.opts.logger.Warn("field merge failed", "collection", c.name, "id", id, "error", err)
			return item
		}
		return merged
	})
}

// Mutate replaces the item with id by fn(item). No-op when absent.
func (c *Collection[T]) Mutate(id string, fn func(T) T) bool {
	found := false
	c.mutate(func() {
		if i := c.indexOf(id); i >= 0 {
			c.items[i] = fn(c.items[i])
			found = true
		}
	})
	return found
}

// RemoveItem drops every item with id. No-op when absent.
func (c *Collection[T]) RemoveItem(id string) bool {
	found := false
	c.mutate(func() {
		kept := c.items[:0]
		for _, item := range c.items {
			if c.idOf(item) == id {
				found = true
				continue
			}
			kept = append(kept, item)
		}
		c.items = kept
	})
	return found
}

// Invalidate marks the collection stale. Items are kept.
func (c *Collection[T]) Invalidate() {
	c.mutate(func() {
		c.cacheValid = false
	})
}

// Clear empties the collection and forgets the fetch time.
func (c *Collection[T]) Clear() {
	c.mutate(func() {
		c.items = []T{}
		c.lastFetchedAt = nil
		c.cacheValid = false
	})
}

func (c *Collection[T]) State() CollectionState[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state := CollectionState[T]{
		Items:      append([]T(nil), c.items...),
		CacheValid: c.cacheValid,
	}
	if c.lastFetchedAt != nil {
		t := *c.lastFetchedAt
		state.LastFetchedAt = &t
	}
	return state
}

// Restore loads a persisted state without firing OnChange.
func (c *Collection[T]) Restore(state CollectionState[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]T{}, state.Items...)
	c.lastFetchedAt = nil
	if state.LastFetchedAt != nil {
		t := *state.LastFetchedAt
		c.lastFetchedAt = &t
	}
	c.cacheValid = state.CacheValid && c.lastFetchedAt != nil
}

func (c *Collection[T]) mutate(fn func()) {
	c.mu.Lock()
	fn()
	hook := c.onChange
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (c *Collection[T]) indexOf(id string) int {
	for i, item := range c.items {
		if c.idOf(item) == id {
			return i
		}
	}
	return -1
}
