// Package identity keeps the signed in user and session, persisted under
// the auth-storage key.
package identity

import (
	"context"

	"github.com/goliatone/go-wedding-cache/remote"
	"github.com/goliatone/go-wedding-cache/store"
)

const schemaVersion = 1

type snapshot struct {
	Session *remote.Session `msgpack:"session"`
}

// Store holds the persisted session.
type Store struct {
	session *store.Value[remote.Session]
	binding *store.Binding[snapshot]
}

func NewStore(storage store.Storage, opts ...store.Option) *Store {
	s := &Store{session: store.NewValue[remote.Session]()}
	persister := store.NewPersister(storage, store.KeyAuth, schemaVersion)
	s.binding = store.Bind(persister, s.snapshot, s.restore, opts...)
	s.session.OnChange(s.binding.Changed)
	return s
}

func (s *Store) Session() (remote.Session, bool) { return s.session.Get() }

func (s *Store) SetSession(session remote.Session) { s.session.Set(session) }

// Rehydrate loads the persisted session, if any.
func (s *Store) Rehydrate(ctx context.Context) (bool, error) {
	return s.binding.Rehydrate(ctx)
}

// Clear forgets the session and removes the persisted copy.
func (s *Store) Clear(ctx context.Context) error {
	s.session.Clear()
	return s.binding.Remove(ctx)
}

func (s *Store) snapshot() snapshot {
	return snapshot{Session: s.session.Ptr()}
}

func (s *Store) restore(snap snapshot) {
	s.session.Restore(snap.Session)
}
