package listings

import (
	"context"

	"github.com/goliatone/go-wedding-cache/store"
)

const schemaVersion = 1

type snapshot struct {
	Providers store.CollectionState[Provider] `msgpack:"providers"`
}

// Store is the persisted provider directory.
type Store struct {
	Providers *store.Collection[Provider]

	binding *store.Binding[snapshot]
}

func NewStore(storage store.Storage, opts ...store.Option) *Store {
	s := &Store{
		Providers: store.NewCollection("providers", ProviderID, opts...),
	}
	persister := store.NewPersister(storage, store.KeyListings, schemaVersion)
	s.binding = store.Bind(persister, s.snapshot, s.restore, opts...)
	s.Providers.OnChange(s.binding.Changed)
	return s
}

func (s *Store) Rehydrate(ctx context.Context) (bool, error) {
	return s.binding.Rehydrate(ctx)
}

func (s *Store) Clear(ctx context.Context) error {
	s.Providers.Clear()
	return s.binding.Remove(ctx)
}

func (s *Store) snapshot() snapshot {
	return snapshot{Providers: s.Providers.State()}
}

func (s *Store) restore(snap snapshot) {
	s.Providers.Restore(snap.Providers)
}
