package store

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-wedding-cache/pkg/testsupport"
)

type seating struct {
	Title  string  `msgpack:"title"`
	Guests []guest `msgpack:"guests"`
}

func textCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}

func TestPersister_SaveLoad(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	p := NewPersister(storage, "seating", 1)

	var empty seating
	ok, err := p.Load(ctx, &empty)
	if ok || err != nil {
		t.Fatalf("nothing stored yet, got %v, %v", ok, err)
	}

	in := seating{Title: "Head table", Guests: []guest{{ID: "g1", Name: "Ana", Table: 1}}}
	if err := p.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if keys := storage.Keys(); len(keys) != 1 || keys[0] != "seating" {
		t.Fatalf("unexpected keys %v", keys)
	}

	var out seating
	ok, err = p.Load(ctx, &out)
	if !ok || err != nil {
		t.Fatalf("Load: %v, %v", ok, err)
	}
	if out.Title != in.Title || len(out.Guests) != 1 || out.Guests[0].Name != "Ana" {
		t.Fatalf("round trip mismatch %+v", out)
	}

	if err := p.Remove(ctx); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(storage.Keys()) != 0 {
		t.Fatal("Remove should delete the key")
	}
}

func TestPersister_Migration(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	old := NewPersister(storage, "seating", 1)
	if err := old.Save(ctx, map[string]any{"name": "Garden"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	current := NewPersister(storage, "seating", 2).
		WithMigration(1, func(state map[string]any) (map[string]any, error) {
			state["title"] = state["name"]
			delete(state, "name")
			return state, nil
		})

	var out seating
	ok, err := current.Load(ctx, &out)
	if !ok || err != nil {
		t.Fatalf("Load: %v, %v", ok, err)
	}
	if out.Title != "Garden" {
		t.Fatalf("migration not applied, got %+v", out)
	}
}

func TestPersister_MissingMigration(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	_ = NewPersister(storage, "seating", 1).Save(ctx, seating{Title: "x"})

	var out seating
	_, err := NewPersister(storage, "seating", 3).
		WithMigration(1, func(s map[string]any) (map[string]any, error) { return s, nil }).
		Load(ctx, &out)
	if textCode(err) != "STORE_MIGRATION_MISSING" {
		t.Fatalf("expected a missing migration error, got %v", err)
	}
}

func TestPersister_FailingMigration(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	_ = NewPersister(storage, "seating", 1).Save(ctx, seating{Title: "x"})

	var out seating
	_, err := NewPersister(storage, "seating", 2).
		WithMigration(1, func(map[string]any) (map[string]any, error) { return nil, errors.New("boom") }).
		Load(ctx, &out)
	if textCode(err) != "STORE_MIGRATION_FAILED" {
		t.Fatalf("expected a failed migration error, got %v", err)
	}
}

func TestPersister_NewerVersion(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	_ = NewPersister(storage, "seating", 5).Save(ctx, seating{Title: "x"})

	var out seating
	_, err := NewPersister(storage, "seating", 1).Load(ctx, &out)
	if !goerrors.IsCategory(err, goerrors.CategoryConflict) {
		t.Fatalf("expected a conflict, got %v", err)
	}
	if textCode(err) != "STORE_VERSION_UNSUPPORTED" {
		t.Fatalf("unexpected text code %q", textCode(err))
	}
}

func TestPersister_Corrupt(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	_ = storage.Set(ctx, "seating", []byte{0xc1, 0x00})

	var out seating
	ok, err := NewPersister(storage, "seating", 1).Load(ctx, &out)
	if ok || textCode(err) != "STORE_SNAPSHOT_CORRUPT" {
		t.Fatalf("expected a corrupt snapshot error, got %v, %v", ok, err)
	}
}

func TestBinding_ChangedAndRehydrate(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	clock := testsupport.NewClock(time.Time{})

	guests := NewCollection("guests", guestID, WithClock(clock))
	b := Bind(NewPersister(storage, KeyPlanning, 1), guests.State, guests.Restore)
	guests.OnChange(b.Changed)

	guests.SetCollection([]guest{{ID: "g1", Name: "Ana"}})
	guests.AddItem(guest{ID: "g2", Name: "Ben"})

	restored := NewCollection("guests", guestID, WithClock(clock))
	rb := Bind(NewPersister(storage, KeyPlanning, 1), restored.State, restored.Restore)
	ok, err := rb.Rehydrate(ctx)
	if !ok || err != nil {
		t.Fatalf("Rehydrate: %v, %v", ok, err)
	}
	if restored.Len() != 2 || !restored.CacheValid() {
		t.Fatalf("unexpected restored state len=%d valid=%v", restored.Len(), restored.CacheValid())
	}
	at, _ := restored.LastFetchedAt()
	if !at.Equal(clock.Now()) {
		t.Fatalf("fetch time not restored: %v", at)
	}
}

func TestBinding_RehydrateEmpty(t *testing.T) {
	guests := NewCollection("guests", guestID)
	b := Bind(NewPersister(NewMemoryStorage(), KeyPlanning, 1), guests.State, guests.Restore)
	ok, err := b.Rehydrate(context.Background())
	if ok || err != nil {
		t.Fatalf("expected nothing to restore, got %v, %v", ok, err)
	}
}

func TestBinding_RehydrateDiscardsCorrupt(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	_ = storage.Set(ctx, KeyPlanning, []byte("not msgpack at all"))

	guests := NewCollection("guests", guestID)
	restored := false
	b := Bind(NewPersister(storage, KeyPlanning, 1), guests.State, func(s CollectionState[guest]) {
		restored = true
		guests.Restore(s)
	})

	ok, err := b.Rehydrate(ctx)
	if ok || err == nil {
		t.Fatalf("expected an error, got %v, %v", ok, err)
	}
	if restored {
		t.Fatal("restore must not run for an unreadable snapshot")
	}
	if _, found, _ := storage.Get(ctx, KeyPlanning); found {
		t.Fatal("the unreadable snapshot should be discarded")
	}
}

func TestMemoryStorage_CopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	data := []byte("abc")
	_ = s.Set(ctx, "k", data)
	data[0] = 'z'

	got, ok, err := s.Get(ctx, "k")
	if !ok || err != nil || string(got) != "abc" {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}
	got[1] = 'z'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatal("Get must return a copy")
	}

	_ = s.Delete(ctx, "k")
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("Delete should remove the key")
	}
}
