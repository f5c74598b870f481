package bunremote

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-wedding-cache/remote"
)

// Options tune a Backend.
type Options struct {
	Retry         remote.RetryPolicy
	Logger        *slog.Logger
	Now           func() time.Time
	SessionTTL    time.Duration
	PublicBaseURL string
}

func DefaultOptions() Options {
	return Options{
		Retry:         remote.DefaultRetryPolicy(),
		SessionTTL:    time.Hour,
		PublicBaseURL: "http://localhost:54321",
	}
}

// Backend is a remote.Client served from a SQL database through bun.
type Backend struct {
	db     *bun.DB
	opts   Options
	logger *slog.Logger
	auth   *authClient
}

var _ remote.Client = (*Backend)(nil)

// OpenSQLite opens a SQLite backed Backend. An in memory database should use
// a shared cache DSN such as "file:wedding?mode=memory&cache=shared".
func OpenSQLite(ctx context.Context, dsn string, opts Options) (*Backend, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, remote.Transport(err, "open sqlite")
	}
	sqldb.SetMaxOpenConns(1)
	return New(ctx, bun.NewDB(sqldb, sqlitedialect.New()), opts)
}

// OpenPostgres opens a Postgres backed Backend through lib/pq.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*Backend, error) {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, remote.Transport(err, "open postgres")
	}
	return New(ctx, bun.NewDB(sqldb, pgdialect.New()), opts)
}

// New wraps an existing bun.DB and creates the auth and storage tables.
func New(ctx context.Context, db *bun.DB, opts Options) (*Backend, error) {
	defaults := DefaultOptions()
	if opts.Retry.MaxTries == 0 {
		opts.Retry = defaults.Retry
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaults.SessionTTL
	}
	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = defaults.PublicBaseURL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	b := &Backend{db: db, opts: opts, logger: logger}
	b.auth = newAuthClient(b)

	if err := b.CreateTables(ctx, (*userRecord)(nil), (*sessionRecord)(nil), (*objectRecord)(nil)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// CreateTables creates the tables for models when missing.
func (b *Backend) CreateTables(ctx context.Context, models ...any) error {
	for _, model := range models {
		if _, err := b.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return classify(err, "create table")
		}
	}
	return nil
}

func (b *Backend) DB() *bun.DB { return b.db }

func (b *Backend) Auth() remote.Auth { return b.auth }

func (b *Backend) Bucket(name string) remote.Bucket {
	return &bucket{backend: b, name: name}
}

func (b *Backend) Close() error {
	b.auth.closeListeners()
	return b.db.Close()
}
