// Package postgres persists the latest outcome of every source in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/statuswatch/internal/publisher"
)

const defaultTable = "source_status"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for status rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store upserts one row per source. The table is expected to look like:
//
//	CREATE TABLE source_status (
//		source      text PRIMARY KEY,
//		cycle_id    text NOT NULL,
//		ok          boolean NOT NULL,
//		kind        text NOT NULL,
//		payload     jsonb NOT NULL,
//		observed_at timestamptz NOT NULL
//	);
type Store struct {
	pool  execCloser
	table string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("publish.postgres.dsn is required")
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
	s, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Name identifies the sink.
func (s *Store) Name() string {
	return "postgres"
}

// Publish upserts every source outcome in the report, in name order.
func (s *Store) Publish(ctx context.Context, report publisher.Report, _ []byte) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (source, cycle_id, ok, kind, payload, observed_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (source) DO UPDATE SET
	cycle_id = EXCLUDED.cycle_id,
	ok = EXCLUDED.ok,
	kind = EXCLUDED.kind,
	payload = EXCLUDED.payload,
	observed_at = EXCLUDED.observed_at`, s.table)

	names := make([]string, 0, len(report.Data))
	for name := range report.Data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		outcome := report.Data[name]
		payload, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("marshal outcome %s: %w", name, err)
		}
		kind := ""
		if fe := outcome.Err(); fe != nil {
			kind = string(fe.Kind)
		}
		if _, err := s.pool.Exec(ctx, query,
			name,
			report.CycleID,
			outcome.OK(),
			kind,
			payload,
			report.Timestamp,
		); err != nil {
			return fmt.Errorf("upsert status %s: %w", name, err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
