package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collegepulse/collegescraper/internal/scrape"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresProvider implements Provider on a pgx connection pool.
//
// Expected schema:
//
//	CREATE TABLE colleges (
//	    id BIGINT PRIMARY KEY,
//	    name TEXT NOT NULL,
//	    country TEXT NOT NULL,
//	    state TEXT,
//	    website TEXT
//	);
//	CREATE TABLE scrape_history (
//	    id UUID PRIMARY KEY,
//	    run_id UUID NOT NULL,
//	    college_id BIGINT NOT NULL REFERENCES colleges(id),
//	    scraped_at TIMESTAMPTZ NOT NULL,
//	    sources JSONB NOT NULL,
//	    availability JSONB NOT NULL,
//	    success BOOLEAN NOT NULL,
//	    payload JSONB
//	);
type PostgresProvider struct {
	pool pgxPool
}

// NewPostgres creates a connection pool and pings it, so a bad DSN fails the
// run at startup rather than on the first write.
func NewPostgres(ctx context.Context, cfg Config) (*PostgresProvider, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresProvider{pool: pool}, nil
}

// NewPostgresWithPool constructs a provider from an existing pool (primarily
// for testing with pgxmock).
func NewPostgresWithPool(pool pgxPool) (*PostgresProvider, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresProvider{pool: pool}, nil
}

// ListColleges loads the full work list, ordered by id.
func (p *PostgresProvider) ListColleges(ctx context.Context) ([]scrape.College, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, country, COALESCE(state, ''), COALESCE(website, '')
		FROM colleges
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query colleges: %w", err)
	}
	defer rows.Close()

	var colleges []scrape.College
	for rows.Next() {
		var c scrape.College
		if err := rows.Scan(&c.ID, &c.Name, &c.Country, &c.State, &c.Website); err != nil {
			return nil, fmt.Errorf("scan college row: %w", err)
		}
		colleges = append(colleges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate college rows: %w", err)
	}
	return colleges, nil
}

// SaveScrape appends one row to scrape_history and returns its id.
func (p *PostgresProvider) SaveScrape(ctx context.Context, rec scrape.ScrapeRecord) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate scrape id: %w", err)
	}

	sources, err := json.Marshal(rec.SourcesTried)
	if err != nil {
		return "", fmt.Errorf("marshal sources: %w", err)
	}
	availability, err := json.Marshal(rec.Availability)
	if err != nil {
		return "", fmt.Errorf("marshal availability: %w", err)
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO scrape_history (id, run_id, college_id, scraped_at, sources, availability, success, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		id.String(),
		rec.RunID,
		rec.CollegeID,
		rec.ScrapedAt,
		sources,
		availability,
		rec.Success,
		payload,
	)
	if err != nil {
		return "", fmt.Errorf("insert scrape history: %w", err)
	}
	return id.String(), nil
}

// Close releases the underlying pool resources.
func (p *PostgresProvider) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}
