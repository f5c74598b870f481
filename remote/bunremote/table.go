package bunremote

import (
	"context"
	"reflect"
	"sort"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-wedding-cache/remote"
)

// Table serves remote.Table[T] through a go-repository-bun repository of
// the model *T. T must be a struct with a bun table tag and a string "id"
// primary key.
type Table[T any] struct {
	backend *Backend
	name    string
	repo    repository.Repository[*T]
}

var _ remote.Table[struct{}] = (*Table[struct{}])(nil)

// From builds the table for model T. The table name comes from the model.
func From[T any](b *Backend) *Table[T] {
	meta := b.db.Table(reflect.TypeFor[T]())
	return &Table[T]{
		backend: b,
		name:    meta.Name,
		repo:    repository.NewRepository[*T](b.db, handlers[T](meta)),
	}
}

// handlers adapts string uuid primary keys to the repository's uuid ids.
// Records that already carry an id keep it.
func handlers[T any](meta *schema.Table) repository.ModelHandlers[*T] {
	pk := meta.PKs[0]
	idOf := func(record *T) string {
		if record == nil {
			return ""
		}
		v := pk.Value(reflect.ValueOf(record).Elem())
		if v.Kind() != reflect.String {
			return ""
		}
		return v.String()
	}
	return repository.ModelHandlers[*T]{
		NewRecord: func() *T { return new(T) },
		GetID: func(record *T) uuid.UUID {
			id, err := uuid.Parse(idOf(record))
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record *T, id uuid.UUID) {
			if record == nil || idOf(record) != "" {
				return
			}
			_ = pk.ScanValue(reflect.ValueOf(record).Elem(), id.String())
		},
		GetIdentifier: func() string { return pk.Name },
	}
}

func (t *Table[T]) Name() string { return t.name }

func (t *Table[T]) Select(ctx context.Context, criteria ...remote.Criteria) ([]T, error) {
	return remote.Retry(ctx, t.backend.opts.Retry, t.backend.logger, func(ctx context.Context) ([]T, error) {
		records, _, err := t.repo.List(ctx, selectCriteria(criteria)...)
		if err != nil && !isNoRows(err) {
			return nil, classify(err, t.name+" select")
		}
		items := make([]T, 0, len(records))
		for _, rec := range records {
			if rec != nil {
				items = append(items, *rec)
			}
		}
		return items, nil
	})
}

func (t *Table[T]) Single(ctx context.Context, criteria ...remote.Criteria) (T, error) {
	return remote.Retry(ctx, t.backend.opts.Retry, t.backend.logger, func(ctx context.Context) (T, error) {
		var zero T
		rec, err := t.repo.Get(ctx, selectCriteria(criteria)...)
		if err != nil {
			if isNoRows(err) {
				return zero, remote.NotFound(t.name)
			}
			return zero, classify(err, t.name+" single")
		}
		if rec == nil {
			return zero, remote.NotFound(t.name)
		}
		return *rec, nil
	})
}

// Insert is not retried: a lost acknowledgement would turn into a conflict.
func (t *Table[T]) Insert(ctx context.Context, item T) (T, error) {
	created, err := t.repo.Create(ctx, &item)
	if err != nil {
		return item, classify(err, t.name+" insert")
	}
	if created == nil {
		return item, nil
	}
	return *created, nil
}

// Update patches the columns named in patch. A missing row is reported as
// not found before anything is written.
func (t *Table[T]) Update(ctx context.Context, id string, patch remote.Patch) error {
	if len(patch) == 0 {
		return nil
	}
	_, err := remote.Retry(ctx, t.backend.opts.Retry, t.backend.logger, func(ctx context.Context) (struct{}, error) {
		current, err := t.repo.GetByID(ctx, id)
		if err != nil {
			if isNoRows(err) {
				return struct{}{}, remote.NotFound(t.name)
			}
			return struct{}{}, classify(err, t.name+" update")
		}
		if current == nil {
			return struct{}{}, remote.NotFound(t.name)
		}
		if _, err := t.repo.Update(ctx, current, patchCriteria(id, patch)); err != nil {
			return struct{}{}, classify(err, t.name+" update")
		}
		return struct{}{}, nil
	})
	return err
}

func (t *Table[T]) Delete(ctx context.Context, id string) error {
	_, err := remote.Retry(ctx, t.backend.opts.Retry, t.backend.logger, func(ctx context.Context) (struct{}, error) {
		err := t.repo.DeleteMany(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
			return q.Where("? = ?", bun.Ident("id"), id)
		})
		return struct{}{}, classify(err, t.name+" delete")
	})
	return err
}

// selectCriteria turns compiled criteria into repository select criteria.
func selectCriteria(criteria []remote.Criteria) []repository.SelectCriteria {
	compiled := remote.Compile(criteria...)
	out := make([]repository.SelectCriteria, 0, len(compiled.Filters)+len(compiled.Orders)+1)
	for _, f := range compiled.Filters {
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("? = ?", bun.Ident(f.Column), f.Value)
		})
	}
	for _, o := range compiled.Orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("? "+dir, bun.Ident(o.Column))
		})
	}
	if compiled.Limit > 0 {
		out = append(out, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Limit(compiled.Limit)
		})
	}
	return out
}

// patchCriteria restricts an update to the patched columns of row id.
func patchCriteria(id string, patch remote.Patch) repository.UpdateCriteria {
	columns := make([]string, 0, len(patch))
	for column := range patch {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		for _, column := range columns {
			q = q.Set("? = ?", bun.Ident(column), patch[column])
		}
		return q.Where("? = ?", bun.Ident("id"), id)
	}
}
