package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-wedding-cache/cache"
	"github.com/goliatone/go-wedding-cache/pkg/testsupport"
	"github.com/goliatone/go-wedding-cache/remote"
	"github.com/goliatone/go-wedding-cache/store"
)

type venue struct {
	ID   string `msgpack:"id"`
	Name string `msgpack:"name"`
	City string `msgpack:"city"`
	Rank int    `msgpack:"rank"`
}

func venueID(v venue) string { return v.ID }

type recordingReporter struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingReporter) Error(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type fixture struct {
	table    *testsupport.FakeTable[venue]
	cache    cache.CacheService
	registry *Registry
	reporter *recordingReporter
	resource *Resource[venue]
}

func newFixture(t *testing.T, rows ...venue) *fixture {
	t.Helper()

	cfg := cache.DefaultConfig()
	cfg.NumShards = 4
	cfg.Capacity = 100
	svc, err := cache.NewCacheService(cfg)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	f := &fixture{
		table:    testsupport.NewFakeTable("venues", venueID, rows...),
		cache:    svc,
		registry: NewRegistry(),
		reporter: &recordingReporter{},
	}
	f.resource = New(Config[venue]{
		Name:       "Venues",
		Label:      "venue",
		Table:      f.table,
		Collection: store.NewCollection("venues", venueID),
		Cache:      svc,
		Registry:   f.registry,
		TTL:        time.Minute,
		AssignID: func(v venue, id string) venue {
			v.ID = id
			return v
		},
		Reporter: f.reporter,
	})
	return f
}

func names(items []venue) []string {
	out := make([]string, len(items))
	for i, v := range items {
		out[i] = v.Name
	}
	return out
}

func TestLoad_ServesValidCollection(t *testing.T) {
	f := newFixture(t, venue{ID: "1", Name: "Château"}, venue{ID: "2", Name: "Grange"})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		items, err := f.resource.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(items))
		}
	}
	if calls := f.table.Calls(testsupport.OpSelect); calls != 1 {
		t.Fatalf("expected a single remote select, got %d", calls)
	}
	if !f.resource.Collection().CacheValid() {
		t.Fatal("collection should be valid after load")
	}
}

func TestLoad_DifferentCriteriaRefetch(t *testing.T) {
	f := newFixture(t,
		venue{ID: "1", Name: "Château", City: "Lyon"},
		venue{ID: "2", Name: "Grange", City: "Nantes"},
	)
	ctx := context.Background()

	lyon, err := f.resource.Load(ctx, remote.Eq("city", "Lyon"))
	if err != nil || len(lyon) != 1 || lyon[0].Name != "Château" {
		t.Fatalf("lyon load = %v, %v", names(lyon), err)
	}
	nantes, err := f.resource.Load(ctx, remote.Eq("city", "Nantes"))
	if err != nil || len(nantes) != 1 || nantes[0].Name != "Grange" {
		t.Fatalf("nantes load = %v, %v", names(nantes), err)
	}
	if calls := f.table.Calls(testsupport.OpSelect); calls != 2 {
		t.Fatalf("expected 2 selects, got %d", calls)
	}
}

func TestLoad_FailureKeepsStaleCollection(t *testing.T) {
	f := newFixture(t, venue{ID: "1", Name: "Château"})
	ctx := context.Background()

	if _, err := f.resource.Load(ctx); err != nil {
		t.Fatalf("initial load: %v", err)
	}
	f.resource.Invalidate(ctx)

	boom := remote.Transport(errors.New("dial tcp: timeout"), "venues select")
	f.table.Fail(testsupport.OpSelect, boom)

	if _, err := f.resource.Load(ctx); !remote.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	items := f.resource.Collection().Items()
	if len(items) != 1 || items[0].Name != "Château" {
		t.Fatalf("stale items should remain, got %v", names(items))
	}
	if f.resource.Collection().CacheValid() {
		t.Fatal("collection must stay invalid after a failed read")
	}
}

func TestCreate_OptimisticBeforeRemoteResolves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.resource.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	entered := f.table.Hold()
	done := make(chan error, 1)
	go func() {
		_, err := f.resource.Create(ctx, venue{ID: "v1", Name: "Moulin"})
		done <- err
	}()

	<-entered
	if _, ok := f.resource.Collection().Get("v1"); !ok {
		t.Fatal("item should be visible while the insert is in flight")
	}
	if state := f.resource.MutationState("v1"); state != MutationOptimistic {
		t.Fatalf("expected optimistic state, got %s", state)
	}
	if f.resource.Pending() != 1 {
		t.Fatalf("expected one pending write, got %d", f.resource.Pending())
	}

	f.table.Release()
	if err := <-done; err != nil {
		t.Fatalf("Create: %v", err)
	}
	if state := f.resource.MutationState("v1"); state != MutationConfirmed {
		t.Fatalf("expected confirmed state, got %s", state)
	}
	if f.resource.Collection().CacheValid() {
		t.Fatal("collection should be invalid after a write")
	}
}

func TestCreate_SuccessNextReadRefetches(t *testing.T) {
	f := newFixture(t, venue{ID: "1", Name: "Château"})
	ctx := context.Background()

	if _, err := f.resource.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := f.resource.Create(ctx, venue{ID: "2", Name: "Grange"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	items, err := f.resource.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected server truth with 2 items, got %v", names(items))
	}
	if calls := f.table.Calls(testsupport.OpSelect); calls != 2 {
		t.Fatalf("expected a refetch after the write, got %d selects", calls)
	}
}

func TestCreate_FailureRollsBackViaRefetch(t *testing.T) {
	f := newFixture(t, venue{ID: "1", Name: "Château"})
	ctx := context.Background()
	if _, err := f.resource.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	f.table.Fail(testsupport.OpInsert, remote.Reported(errors.New("duplicate"), goerrors.CategoryConflict, "venues insert"))

	if _, err := f.resource.Create(ctx, venue{ID: "2", Name: "Grange"}); err == nil {
		t.Fatal("expected create error")
	}
	if _, ok := f.resource.Collection().Get("2"); !ok {
		t.Fatal("optimistic item stays until the next read")
	}
	if state := f.resource.MutationState("2"); state != MutationRolledBack {
		t.Fatalf("expected rolled back state, got %s", state)
	}
	if f.reporter.count() != 1 {
		t.Fatalf("expected one user facing message, got %d", f.reporter.count())
	}

	items, err := f.resource.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(items) != 1 || items[0].ID != "1" {
		t.Fatalf("refetch should drop the failed item, got %v", names(items))
	}
}

func TestCreate_AssignsID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.resource.Create(ctx, venue{Name: "Moulin"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if rows := f.table.Rows(); len(rows) != 1 || rows[0].ID != created.ID {
		t.Fatalf("remote row should carry the generated id, got %+v", rows)
	}
}

func TestUpdate_MergesLocallyAndRemotely(t *testing.T) {
	f := newFixture(t, venue{ID: "1", Name: "Château", Rank: 1})
	ctx := context.Background()
	if _, err := f.resource.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := f.resource.Update(ctx, "1", store.Fields{"rank": 5}); err != nil {
		t.Fatalf("update: %v", err)
	}
	local, _ := f.resource.Collection().Get("1")
	if local.Rank != 5 || local.Name != "Château" {
		t.Fatalf("local merge wrong: %+v", local)
	}
	if rows := f.table.Rows(); rows[0].Rank != 5 {
		t.Fatalf("remote row not patched: %+v", rows[0])
	}
}

func TestDelete_FailureThenRefetchRestores(t *testing.T) {
	f := newFixture(t, venue{ID: "1", Name: "Château"}, venue{ID: "2", Name: "Grange"})
	ctx := context.Background()
	if _, err := f.resource.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	f.table.Fail(testsupport.OpDelete, remote.Transport(errors.New("connection reset"), "venues delete"))
	if err := f.resource.Delete(ctx, "2"); err == nil {
		t.Fatal("expected delete error")
	}
	if _, ok := f.resource.Collection().Get("2"); ok {
		t.Fatal("item should be gone optimistically")
	}

	items, err := f.resource.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("refetch should restore the item, got %v", names(items))
	}
	if state := f.resource.MutationState("2"); state != MutationRolledBack {
		t.Fatalf("expected rolled back, got %s", state)
	}
}

func TestWrite_DropsTaggedKeys(t *testing.T) {
	f := newFixture(t, venue{ID: "1", Name: "Château"})
	ctx := WithCacheTags(context.Background(), f.resource.Namespace())

	calls := 0
	summary := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}
	if _, err := Fetch(ctx, f.cache, f.registry, "venue_summary", time.Minute, summary); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := Fetch(ctx, f.cache, f.registry, "venue_summary", time.Minute, summary); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached summary, got %d calls", calls)
	}

	if err := f.resource.Update(context.Background(), "1", store.Fields{"name": "Château neuf"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got, _ := Fetch(ctx, f.cache, f.registry, "venue_summary", time.Minute, summary); got != 2 {
		t.Fatalf("tagged key should be refetched after a write, got %d", got)
	}
}

// stalledTable reads its rows on Select, then waits for release before
// answering, like a response still on the wire.
type stalledTable struct {
	*testsupport.FakeTable[venue]
	stall   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (s *stalledTable) Select(ctx context.Context, criteria ...remote.Criteria) ([]venue, error) {
	rows, err := s.FakeTable.Select(ctx, criteria...)
	if s.stall.CompareAndSwap(true, false) {
		close(s.read)
		<-s.release
	}
	return rows, err
}

func TestLoad_OverlappingDeleteForcesRefetch(t *testing.T) {
	f := newFixture(t, venue{ID: "1", Name: "Château"}, venue{ID: "2", Name: "Grange"})
	ctx := context.Background()

	slow := &stalledTable{
		FakeTable: f.table,
		read:      make(chan struct{}),
		release:   make(chan struct{}),
	}
	slow.stall.Store(true)
	f.resource.table = slow

	type result struct {
		items []venue
		err   error
	}
	done := make(chan result, 1)
	go func() {
		items, err := f.resource.Load(ctx)
		done <- result{items, err}
	}()

	<-slow.read
	if err := f.resource.Delete(ctx, "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(slow.release)

	first := <-done
	if first.err != nil {
		t.Fatalf("overlapping load: %v", first.err)
	}
	if len(first.items) != 2 {
		t.Fatalf("overlapping load still answers its caller, got %v", names(first.items))
	}
	if f.resource.Collection().CacheValid() {
		t.Fatal("pre-delete rows must not validate the collection")
	}
	if _, ok := f.cache.Get(ctx, f.resource.Key(), 0); ok {
		t.Fatal("pre-delete rows must not stay cached")
	}

	items, err := f.resource.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if calls := f.table.Calls(testsupport.OpSelect); calls != 2 {
		t.Fatalf("expected a refetch after the overlapping delete, got %d selects", calls)
	}
	if got := names(items); len(got) != 1 || got[0] != "Grange" {
		t.Fatalf("deleted row came back: %v", got)
	}
}

func TestLoad_OverlappingResetIsNotKept(t *testing.T) {
	f := newFixture(t, venue{ID: "1", Name: "Château"})
	ctx := context.Background()

	slow := &stalledTable{
		FakeTable: f.table,
		read:      make(chan struct{}),
		release:   make(chan struct{}),
	}
	slow.stall.Store(true)
	f.resource.table = slow

	done := make(chan error, 1)
	go func() {
		_, err := f.resource.Load(ctx)
		done <- err
	}()

	<-slow.read
	f.resource.Reset()
	f.registry.Reset()
	close(slow.release)

	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.resource.Collection().CacheValid() {
		t.Fatal("a read spanning a reset must not validate the collection")
	}
	if _, ok := f.cache.Get(ctx, f.resource.Key(), 0); ok {
		t.Fatal("a read spanning a reset must not stay cached")
	}
}

func TestFetchOne(t *testing.T) {
	f := newFixture(t, venue{ID: "1", Name: "Château"})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := f.resource.FetchOne(ctx, "1", 0)
		if err != nil || v.Name != "Château" {
			t.Fatalf("FetchOne = %+v, %v", v, err)
		}
	}
	if calls := f.table.Calls(testsupport.OpSingle); calls != 1 {
		t.Fatalf("expected cached single read, got %d calls", calls)
	}
	if _, err := f.resource.FetchOne(ctx, "missing", 0); !remote.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNamespace(t *testing.T) {
	cases := map[string]string{
		"WeddingTasks":  "wedding_tasks",
		"wedding-tasks": "wedding_tasks",
		"Providers":     "providers",
		"HTTPServer":    "http_server",
		"user data":     "user_data",
		"Budget2025":    "budget2025",
	}
	for in, want := range cases {
		if got := Namespace(in); got != want {
			t.Errorf("Namespace(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithCacheTags_Dedupes(t *testing.T) {
	ctx := WithCacheTags(context.Background(), "a", "b")
	ctx = WithCacheTags(ctx, "b", "", "c")

	got := cacheTagsFromContext(ctx)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected tags %v", got)
	}
}
