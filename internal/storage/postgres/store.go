// Package postgres provides Postgres-backed persistence for artifacts,
// sources and categories.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ArtifactsTable  string
	SourcesTable    string
	CategoriesTable string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

type tables struct {
	artifacts  string
	sources    string
	categories string
}

func resolveTables(cfg Config) (tables, error) {
	t := tables{
		artifacts:  orDefault(cfg.ArtifactsTable, "artifacts"),
		sources:    orDefault(cfg.SourcesTable, "sources"),
		categories: orDefault(cfg.CategoriesTable, "categories"),
	}
	for _, name := range []string{t.artifacts, t.sources, t.categories} {
		if !validTableName.MatchString(name) {
			return tables{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Store implements crawler.ArtifactStore, crawler.SourceStore and
// crawler.CategoryStore.
type Store struct {
	pool   pgxPool
	tables tables
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	t, err := resolveTables(cfg)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, tables: t}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, cfg Config) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	t, err := resolveTables(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, tables: t}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the artifacts table and its unique source URL index.
// Sources and categories are owned by the management application.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	source_url TEXT NOT NULL UNIQUE,
	storage_ref TEXT,
	category TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	approved BOOLEAN NOT NULL DEFAULT FALSE
)`, s.tables.artifacts)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure artifacts table: %w", err)
	}
	return nil
}
