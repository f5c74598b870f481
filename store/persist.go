package store

import (
	"context"
	"fmt"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Storage keys of the domain stores.
const (
	KeyAuth     = "auth-storage"
	KeyPlanning = "wedding-planning-storage"
	KeyListings = "listings-storage"
)

// Migration upgrades the generic form of a snapshot by one version.
type Migration func(state map[string]any) (map[string]any, error)

type envelope struct {
	Version int                `msgpack:"v"`
	State   msgpack.RawMessage `msgpack:"state"`
}

// Persister reads and writes one versioned snapshot under a fixed key.
type Persister struct {
	storage    Storage
	key        string
	version    int
	migrations map[int]Migration
}

func NewPersister(storage Storage, key string, version int) *Persister {
	return &Persister{
		storage:    storage,
		key:        key,
		version:    version,
		migrations: map[int]Migration{},
	}
}

// WithMigration registers the step from version from to from+1.
func (p *Persister) WithMigration(from int, m Migration) *Persister {
	p.migrations[from] = m
	return p
}

func (p *Persister) Key() string  { return p.key }
func (p *Persister) Version() int { return p.version }

// Load decodes the stored snapshot into dest. It reports false when nothing
// is stored.
func (p *Persister) Load(ctx context.Context, dest any) (bool, error) {
	data, ok, err := p.storage.Get(ctx, p.key)
	if err != nil || !ok {
		return false, err
	}

	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return false, p.corrupt(err)
	}

	raw := []byte(env.State)
	switch {
	case env.Version > p.version:
		return false, goerrors.New(
			fmt.Sprintf("%s: stored version %d is newer than %d", p.key, env.Version, p.version),
			goerrors.CategoryConflict,
		).WithTextCode("STORE_VERSION_UNSUPPORTED")
	case env.Version < p.version:
		if raw, err = p.migrate(env.Version, raw); err != nil {
			return false, err
		}
	}

	if err := msgpack.Unmarshal(raw, dest); err != nil {
		return false, p.corrupt(err)
	}
	return true, nil
}

func (p *Persister) Save(ctx context.Context, state any) error {
	raw, err := msgpack.Marshal(state)
	if err != nil {
		return p.corrupt(err)
	}
	data, err := msgpack.Marshal(envelope{Version: p.version, State: raw})
	if err != nil {
		return p.corrupt(err)
	}
	return p.storage.Set(ctx, p.key, data)
}

func (p *Persister) Remove(ctx context.Context) error {
	return p.storage.Delete(ctx, p.key)
}

func (p *Persister) migrate(from int, raw []byte) ([]byte, error) {
	state := map[string]any{}
	if err := msgpack.Unmarshal(raw, &state); err != nil {
		return nil, p.corrupt(err)
	}
	for v := from; v < p.version; v++ {
		step, ok := p.migrations[v]
		if !ok {
			return nil, goerrors.New(
				fmt.Sprintf("%s: no migration from version %d", p.key, v),
				goerrors.CategoryInternal,
			).WithTextCode("STORE_MIGRATION_MISSING")
		}
		next, err := step(state)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("%s: migrate v%d", p.key, v)).
				WithTextCode("STORE_MIGRATION_FAILED")
		}
		state = next
	}
	return msgpack.Marshal(state)
}

func (p *Persister) corrupt(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, p.key+": snapshot codec").
		WithTextCode("STORE_SNAPSHOT_CORRUPT")
}

// Binding persists a domain snapshot S every time the domain changes.
type Binding[S any] struct {
	persister *Persister
	snapshot  func() S
	restore   func(S)
	opts      options

	mu sync.Mutex
}

func Bind[S any](p *Persister, snapshot func() S, restore func(S), opts ...Option) *Binding[S] {
	return &Binding[S]{
		persister: p,
		snapshot:  snapshot,
		restore:   restore,
		opts:      buildOptions(opts),
	}
}

// Changed saves the current snapshot. Failures are logged.
func (b *Binding[S]) Changed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.persister.Save(context.Background(), b.snapshot()); err != nil {
		b.logError("persist snapshot", err)
	}
}

// Rehydrate restores the stored snapshot. An unreadable snapshot is logged
// and discarded so the store starts empty.
func (b *Binding[S]) Rehydrate(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var state S
	ok, err := b.persister.Load(ctx, &state)
	if err != nil {
		b.logError("rehydrate snapshot", err)
		if rmErr := b.persister.Remove(ctx); rmErr != nil {
			b.logError("discard snapshot", rmErr)
		}
		return false, err
	}
	if ok {
		b.restore(state)
	}
	return ok, nil
}

// Remove deletes the stored snapshot.
func (b *Binding[S]) Remove(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.persister.Remove(ctx)
}

func (b *Binding[S]) logError(msg string, err error) {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		goerrors.LogBySeverity(b.opts.logger, rich)
		return
	}
	b.opts.logger.Error(msg, "key", b.persister.key, "error", err)
}
