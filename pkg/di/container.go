package di

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-wedding-cache/cache"
	"github.com/goliatone/go-wedding-cache/identity"
	"github.com/goliatone/go-wedding-cache/listings"
	"github.com/goliatone/go-wedding-cache/notify"
	"github.com/goliatone/go-wedding-cache/planning"
	"github.com/goliatone/go-wedding-cache/querycache"
	"github.com/goliatone/go-wedding-cache/remote"
	"github.com/goliatone/go-wedding-cache/remote/bunremote"
	"github.com/goliatone/go-wedding-cache/store"
	"github.com/goliatone/go-wedding-cache/store/sqlitestore"
)

// Remote bundles the backend client and the entity tables.
type Remote struct {
	Client    remote.Client
	Weddings  remote.Table[planning.Wedding]
	Tasks     remote.Table[planning.Task]
	Expenses  remote.Table[planning.Expense]
	Providers remote.Table[listings.Provider]
}

// Clock is the time source shared by the cache, the stores and the toast.
type Clock interface {
	Now() time.Time
}

type Option func(*options)

type options struct {
	remote  *Remote
	storage store.Storage
	clock   Clock
	logger  *slog.Logger
}

// WithRemote uses r instead of opening a bun backend from the config.
func WithRemote(r Remote) Option {
	return func(o *options) { o.remote = &r }
}

// WithLocalStorage uses s for persisted stores instead of the configured
// path.
func WithLocalStorage(s store.Storage) Option {
	return func(o *options) { o.storage = s }
}

func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Container wires the cache, the persisted stores, the backend and the
// domain services. It owns what it opened and releases it on Close.
type Container struct {
	config        Config
	logger        *slog.Logger
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	registry      *querycache.Registry
	notifier      *notify.Notifier
	storage       store.Storage
	remote        Remote

	identity *identity.Service
	planning *planning.Service
	listings *listings.Service

	closers     []func() error
	unsubscribe func()
	closeOnce   sync.Once
}

// NewContainer builds every component from config. Nothing is rehydrated
// until Start.
func NewContainer(ctx context.Context, config Config, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := options{clock: systemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Container{
		config:        config,
		logger:        o.logger,
		keySerializer: cache.NewDefaultKeySerializer(),
		registry:      querycache.NewRegistry(querycache.WithRegistryLogger(o.logger)),
	}

	cacheService, err := cache.NewCacheService(config.Cache, cache.WithClock(o.clock))
	if err != nil {
		return nil, err
	}
	c.cacheService = cacheService

	c.notifier = notify.New(config.ToastDuration, notify.WithNow(o.clock.Now))

	if err := c.openStorage(ctx, o.storage); err != nil {
		return nil, err
	}
	if err := c.openRemote(ctx, o); err != nil {
		c.closeAll()
		return nil, err
	}

	c.buildServices(o)

	c.unsubscribe = c.remote.Client.Auth().OnAuthStateChange(func(event remote.AuthEvent, _ *remote.Session) {
		if event != remote.SignedOut {
			return
		}
		if err := c.Teardown(context.Background()); err != nil {
			c.logger.Error("teardown after sign out failed", "error", err)
		}
	})
	return c, nil
}

func (c *Container) openStorage(ctx context.Context, injected store.Storage) error {
	switch {
	case injected != nil:
		c.storage = injected
	case c.config.LocalStoragePath != "":
		s, err := sqlitestore.Open(ctx, c.config.LocalStoragePath)
		if err != nil {
			return err
		}
		c.storage = s
		c.closers = append(c.closers, s.Close)
	default:
		c.storage = store.NewMemoryStorage()
	}
	return nil
}

func (c *Container) openRemote(ctx context.Context, o options) error {
	if o.remote != nil {
		if o.remote.Client == nil {
			return goerrors.New("remote client is required", goerrors.CategoryValidation)
		}
		c.remote = *o.remote
		return nil
	}

	backendOpts := bunremote.Options{
		Retry:         c.config.RetryPolicy(),
		Logger:        c.logger,
		Now:           o.clock.Now,
		SessionTTL:    c.config.SessionTTL,
		PublicBaseURL: c.config.PublicBaseURL,
	}

	var (
		backend *bunremote.Backend
		err     error
	)
	switch c.config.RemoteDriver {
	case DriverPostgres:
		backend, err = bunremote.OpenPostgres(ctx, c.config.RemoteDSN, backendOpts)
	default:
		backend, err = bunremote.OpenSQLite(ctx, c.config.RemoteDSN, backendOpts)
	}
	if err != nil {
		return err
	}
	c.closers = append(c.closers, backend.Close)

	if err := backend.CreateTables(ctx,
		(*planning.Wedding)(nil),
		(*planning.Task)(nil),
		(*planning.Expense)(nil),
		(*listings.Provider)(nil),
	); err != nil {
		return err
	}

	c.remote = Remote{
		Client:    backend,
		Weddings:  bunremote.From[planning.Wedding](backend),
		Tasks:     bunremote.From[planning.Task](backend),
		Expenses:  bunremote.From[planning.Expense](backend),
		Providers: bunremote.From[listings.Provider](backend),
	}
	return nil
}

func (c *Container) buildServices(o options) {
	storeOpts := []store.Option{store.WithClock(o.clock), store.WithLogger(c.logger)}
	reporter := toastReporter{c.notifier}

	identityStore := identity.NewStore(c.storage, storeOpts...)
	c.identity = identity.NewService(c.remote.Client.Auth(), identityStore, c.cacheService, identity.Options{
		ProfileTTL: c.config.ProfileTTL,
		Registry:   c.registry,
		Reporter:   reporter,
		Now:        o.clock.Now,
		Logger:     c.logger,
	})

	planningStore := planning.NewStore(c.storage, storeOpts...)
	tasks := NewResource(c, "WeddingTasks", "task", c.remote.Tasks, planningStore.Tasks,
		func(t planning.Task, id string) planning.Task { t.ID = id; return t })
	expenses := NewResource(c, "WeddingExpenses", "expense", c.remote.Expenses, planningStore.Expenses,
		func(e planning.Expense, id string) planning.Expense { e.ID = id; return e })
	c.planning = planning.NewService(planningStore, c.remote.Weddings, tasks, expenses, c.cacheService, c.identity, planning.Options{
		WeddingTTL: c.config.WeddingTTL,
		Registry:   c.registry,
		Reporter:   reporter,
		Now:        o.clock.Now,
		Logger:     c.logger,
	})

	listingsStore := listings.NewStore(c.storage, storeOpts...)
	providers := NewResource(c, "Providers", "provider", c.remote.Providers, listingsStore.Providers,
		func(p listings.Provider, id string) listings.Provider { p.ID = id; return p })
	c.listings = listings.NewService(listingsStore, providers,
		c.remote.Client.Bucket(listings.PhotoBucket), listings.Options{
			ProviderTTL: c.config.ProviderTTL,
			Reporter:    reporter,
			Now:         o.clock.Now,
			Logger:      c.logger,
		})
}

// NewResource binds a collection to table through the container cache,
// key serializer, registry and notifier.
func NewResource[T any](
	c *Container,
	name, label string,
	table remote.Table[T],
	collection *store.Collection[T],
	assignID func(T, string) T,
) *querycache.Resource[T] {
	return querycache.New(querycache.Config[T]{
		Name:       name,
		Label:      label,
		Table:      table,
		Collection: collection,
		Cache:      c.cacheService,
		Keys:       c.keySerializer,
		Registry:   c.registry,
		TTL:        c.config.ListTTL,
		StaleAfter: c.config.StaleAfter,
		AssignID:   assignID,
		Reporter:   toastReporter{c.notifier},
		Logger:     c.logger,
	})
}

// Start rehydrates every persisted store. A store whose snapshot cannot be
// read starts empty.
func (c *Container) Start(ctx context.Context) error {
	var errs []error
	for name, rehydrate := range map[string]func(context.Context) (bool, error){
		"identity": c.identity.Rehydrate,
		"planning": c.planning.Store().Rehydrate,
		"listings": c.listings.Store().Rehydrate,
	} {
		restored, err := rehydrate(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.logger.Debug("store rehydrated", "store", name, "restored", restored)
	}
	return errors.Join(errs...)
}

// Teardown drops the cache and every store. It runs on sign out. The
// registry is reset before the cache is cleared so reads still in flight,
// such as a profile fetch, are not cached again.
func (c *Container) Teardown(ctx context.Context) error {
	c.registry.Reset()
	errs := []error{c.cacheService.Clear(ctx)}
	errs = append(errs,
		c.identity.Clear(ctx),
		c.planning.Clear(ctx),
		c.listings.Clear(ctx),
	)
	c.notifier.Dismiss()
	c.logger.Info("state torn down")
	return errors.Join(errs...)
}

// Close unsubscribes from auth events and releases the backends opened by
// the container.
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		err = c.closeAll()
	})
	return err
}

func (c *Container) closeAll() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) Config() Config                     { return c.config }
func (c *Container) CacheService() cache.CacheService   { return c.cacheService }
func (c *Container) KeySerializer() cache.KeySerializer { return c.keySerializer }
func (c *Container) Registry() *querycache.Registry     { return c.registry }
func (c *Container) Notifier() *notify.Notifier         { return c.notifier }
func (c *Container) Storage() store.Storage             { return c.storage }
func (c *Container) Remote() Remote                     { return c.remote }
func (c *Container) Identity() *identity.Service        { return c.identity }
func (c *Container) Planning() *planning.Service        { return c.planning }
func (c *Container) Listings() *listings.Service        { return c.listings }

type toastReporter struct{ n *notify.Notifier }

func (r toastReporter) Error(message string) { r.n.Error(message) }
