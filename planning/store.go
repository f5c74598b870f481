package planning

import (
	"context"

	"github.com/goliatone/go-wedding-cache/store"
)

// Version 1 snapshots stored a boolean "done" on tasks.
const schemaVersion = 2

type snapshot struct {
	Wedding  *Wedding                       `msgpack:"wedding"`
	Tasks    store.CollectionState[Task]    `msgpack:"tasks"`
	Expenses store.CollectionState[Expense] `msgpack:"expenses"`
}

// Store is the persisted planning state.
type Store struct {
	Wedding  *store.Value[Wedding]
	Tasks    *store.Collection[Task]
	Expenses *store.Collection[Expense]

	binding *store.Binding[snapshot]
}

func NewStore(storage store.Storage, opts ...store.Option) *Store {
	s := &Store{
		Wedding:  store.NewValue[Wedding](),
		Tasks:    store.NewCollection("tasks", TaskID, opts...),
		Expenses: store.NewCollection("expenses", ExpenseID, opts...),
	}
	persister := store.NewPersister(storage, store.KeyPlanning, schemaVersion).
		WithMigration(1, migrateDoneFlag)
	s.binding = store.Bind(persister, s.snapshot, s.restore, opts...)

	s.Wedding.OnChange(s.binding.Changed)
	s.Tasks.OnChange(s.binding.Changed)
	s.Expenses.OnChange(s.binding.Changed)
	return s
}

// UpdateTask merges fields into the task with id. Unknown ids are ignored.
func (s *Store) UpdateTask(id string, fields store.Fields) bool {
	return s.Tasks.UpdateItem(id, fields)
}

func (s *Store) Rehydrate(ctx context.Context) (bool, error) {
	return s.binding.Rehydrate(ctx)
}

// Clear resets every collection and removes the persisted snapshot.
func (s *Store) Clear(ctx context.Context) error {
	s.Wedding.Clear()
	s.Tasks.Clear()
	s.Expenses.Clear()
	return s.binding.Remove(ctx)
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		Wedding:  s.Wedding.Ptr(),
		Tasks:    s.Tasks.State(),
		Expenses: s.Expenses.State(),
	}
}

func (s *Store) restore(snap snapshot) {
	s.Wedding.Restore(snap.Wedding)
	s.Tasks.Restore(snap.Tasks)
	s.Expenses.Restore(snap.Expenses)
}

func migrateDoneFlag(state map[string]any) (map[string]any, error) {
	tasks, _ := state["tasks"].(map[string]any)
	items, _ := tasks["items"].([]any)
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		status := StatusTodo
		if done, _ := item["done"].(bool); done {
			status = StatusDone
		}
		item["status"] = string(status)
		delete(item, "done")
	}
	return state, nil
}
