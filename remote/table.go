package remote

import "context"

// Patch lists the columns to change on an update, keyed by column name.
type Patch map[string]any

// Table is a remote row collection of T.
type Table[T any] interface {
	Name() string
	Select(ctx context.Context, criteria ...Criteria) ([]T, error)
	// Single returns exactly one row or a NotFound error.
	Single(ctx context.Context, criteria ...Criteria) (T, error)
	Insert(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, id string, patch Patch) error
	// Delete is idempotent: a missing row is not an error.
	Delete(ctx context.Context, id string) error
}
