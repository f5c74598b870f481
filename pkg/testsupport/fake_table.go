package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-wedding-cache/remote"
)

// Table operations tracked by FakeTable.
const (
	OpSelect = "select"
	OpSingle = "single"
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// FakeTable is an in memory remote.Table with call counting, failure
// injection and a gate to hold writes in flight.
type FakeTable[T any] struct {
	mu    sync.Mutex
	name  string
	idOf  func(T) string
	rows  []T
	fail  map[string]error
	calls map[string]int

	gate    chan struct{}
	entered chan string
}

var _ remote.Table[struct{}] = (*FakeTable[struct{}])(nil)

func NewFakeTable[T any](name string, idOf func(T) string, rows ...T) *FakeTable[T] {
	return &FakeTable[T]{
		name:  name,
		idOf:  idOf,
		rows:  append([]T(nil), rows...),
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *FakeTable[T]) Name() string { return f.name }

// Fail makes every call of op return err until cleared with a nil err.
func (f *FakeTable[T]) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Calls returns how many times op was invoked.
func (f *FakeTable[T]) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Rows returns a copy of the stored rows.
func (f *FakeTable[T]) Rows() []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]T(nil), f.rows...)
}

// Seed replaces the stored rows.
func (f *FakeTable[T]) Seed(rows ...T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append([]T(nil), rows...)
}

// Hold blocks insert, update and delete calls until Release. Each held call
// announces its op on the returned channel once it is blocked.
func (f *FakeTable[T]) Hold() <-chan string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan string, 16)
	return f.entered
}

// Release lets held calls continue.
func (f *FakeTable[T]) Release() {
	f.mu.Lock()
	gate := f.gate
	f.gate = nil
	f.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (f *FakeTable[T]) begin(ctx context.Context, op string, write bool) error {
	f.mu.Lock()
	f.calls[op]++
	err := f.fail[op]
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if write && gate != nil {
		entered <- op
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *FakeTable[T]) Select(ctx context.Context, criteria ...remote.Criteria) ([]T, error) {
	if err := f.begin(ctx, OpSelect, false); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return filterRows(f.rows, criteria)
}

func (f *FakeTable[T]) Single(ctx context.Context, criteria ...remote.Criteria) (T, error) {
	var zero T
	if err := f.begin(ctx, OpSingle, false); err != nil {
		return zero, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, err := filterRows(f.rows, criteria)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, remote.NotFound(f.name)
	}
	return rows[0], nil
}

func (f *FakeTable[T]) Insert(ctx context.Context, item T) (T, error) {
	if err := f.begin(ctx, OpInsert, true); err != nil {
		return item, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.idOf(item)
	for _, row := range f.rows {
		if f.idOf(row) == id {
			return item, remote.Reported(fmt.Errorf("duplicate id %q", id), goerrors.CategoryConflict, f.name+" insert")
		}
	}
	f.rows = append(f.rows, item)
	return item, nil
}

func (f *FakeTable[T]) Update(ctx context.Context, id string, patch remote.Patch) error {
	if err := f.begin(ctx, OpUpdate, true); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, row := range f.rows {
		if f.idOf(row) != id {
			continue
		}
		updated, err := applyPatch(row, patch)
		if err != nil {
			return err
		}
		f.rows[i] = updated
		return nil
	}
	return remote.NotFound(f.name)
}

func (f *FakeTable[T]) Delete(ctx context.Context, id string) error {
	if err := f.begin(ctx, OpDelete, true); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	for _, row := range f.rows {
		if f.idOf(row) != id {
			kept = append(kept, row)
		}
	}
	f.rows = kept
	return nil
}

func applyPatch[T any](row T, patch remote.Patch) (T, error) {
	m, err := toMap(row)
	if err != nil {
		return row, err
	}
	for k, v := range patch {
		m[k] = v
	}
	raw, err := msgpack.Marshal(m)
	if err != nil {
		return row, err
	}
	var out T
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return row, err
	}
	return out, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func filterRows[T any](rows []T, criteria []remote.Criteria) ([]T, error) {
	q := remote.Compile(criteria...)
	type keyed struct {
		row T
		m   map[string]any
	}
	matched := []keyed{}
	for _, row := range rows {
		m, err := toMap(row)
		if err != nil {
			return nil, err
		}
		ok := true
		for _, f := range q.Filters {
			if fmt.Sprint(m[f.Column]) != fmt.Sprint(f.Value) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, keyed{row: row, m: m})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		for _, o := range q.Orders {
			c := compareValues(matched[i].m[o.Column], matched[j].m[o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	out := make([]T, 0, len(matched))
	for _, k := range matched {
		out = append(out, k.row)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func compareValues(a, b any) int {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
