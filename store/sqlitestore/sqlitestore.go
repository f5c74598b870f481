// Package sqlitestore persists store snapshots in a SQLite kv_store table.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-wedding-cache/store"
)

type kvRecord struct {
	bun.BaseModel `bun:"table:kv_store"`

	StoreKey  string    `bun:"store_key,pk"`
	Value     []byte    `bun:"value"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Storage is a store.Storage over bun.
type Storage struct {
	db    *bun.DB
	owned bool
}

var _ store.Storage = (*Storage)(nil)

// Open opens the SQLite file at path, creating the table when missing.
func Open(ctx context.Context, path string) (*Storage, error) {
	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, wrap(err, "open")
	}
	sqldb.SetMaxOpenConns(1)

	s, err := New(ctx, bun.NewDB(sqldb, sqlitedialect.New()))
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New uses an existing bun.DB. Close does not close a borrowed db.
func New(ctx context.Context, db *bun.DB) (*Storage, error) {
	if _, err := db.NewCreateTable().Model((*kvRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, wrap(err, "create table")
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec kvRecord
	err := s.db.NewSelect().Model(&rec).Where("? = ?", bun.Ident("store_key"), key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap(err, "get")
	}
	return rec.Value, true, nil
}

func (s *Storage) Set(ctx context.Context, key string, data []byte) error {
	rec := kvRecord{StoreKey: key, Value: data, UpdatedAt: time.Now().UTC()}
	_, err := s.db.NewInsert().
		Model(&rec).
		On("CONFLICT (store_key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return wrap(err, "set")
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*kvRecord)(nil)).
		Where("? = ?", bun.Ident("store_key"), key).
		Exec(ctx)
	return wrap(err, "delete")
}

func (s *Storage) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "sqlitestore "+op).
		WithTextCode("LOCAL_STORAGE_FAILED")
}
