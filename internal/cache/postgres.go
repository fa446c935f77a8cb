package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/scopesignal/internal/db"
	"github.com/sells-group/scopesignal/internal/model"
)

// Postgres is a cache shared by several processes through one database.
type Postgres struct {
	pool db.Pool
	opts options
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS result_cache (
	key         TEXT PRIMARY KEY,
	result      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	ttl_seconds INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_result_cache_created_at ON result_cache(created_at);
`

// NewPostgres connects to connString, pings, and migrates the cache table.
func NewPostgres(ctx context.Context, connString string, opts ...Option) (*Postgres, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "cache: postgres parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "cache: postgres create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "cache: postgres ping")
	}
	p := NewPostgresWithPool(pool, opts...)
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresWithPool wraps an existing pool without migrating.
func NewPostgresWithPool(pool db.Pool, opts ...Option) *Postgres {
	return &Postgres{pool: pool, opts: buildOptions(opts)}
}

// Migrate creates the cache table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "cache: postgres migrate")
}

// Get returns the live entry for key.
func (p *Postgres) Get(ctx context.Context, key string) (*model.ClassificationResult, bool, error) {
	var (
		raw        []byte
		createdAt  time.Time
		ttlSeconds int32
	)
	err := p.pool.QueryRow(ctx,
		`SELECT result, created_at, ttl_seconds FROM result_cache WHERE key = $1`, key,
	).Scan(&raw, &createdAt, &ttlSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: postgres get")
	}
	if expired(p.opts.now(), createdAt, time.Duration(ttlSeconds)*time.Second) {
		return nil, false, nil
	}

	var res model.ClassificationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, eris.Wrap(err, "cache: postgres decode")
	}
	if err := validateStored(res); err != nil {
		return nil, false, err
	}
	return &res, true, nil
}

// Set upserts result under key.
func (p *Postgres) Set(ctx context.Context, key string, result model.ClassificationResult) error {
	if err := validateStored(result); err != nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "cache: postgres encode")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO result_cache (key, result, created_at, ttl_seconds) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET result = EXCLUDED.result, created_at = EXCLUDED.created_at, ttl_seconds = EXCLUDED.ttl_seconds`,
		key, raw, p.opts.now().UTC(), int32(p.opts.ttl/time.Second),
	)
	return eris.Wrap(err, "cache: postgres set")
}

// Stats reports entry counts and ages.
func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	now := p.opts.now().UTC()
	st := Stats{Backend: "postgres", TTL: p.opts.ttl}

	var entries, expiredCount int64
	var oldest, newest time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE created_at + ttl_seconds * interval '1 second' < $1),
		        COALESCE(MIN(created_at), $1), COALESCE(MAX(created_at), $1)
		 FROM result_cache`, now,
	).Scan(&entries, &expiredCount, &oldest, &newest)
	if err != nil {
		return Stats{}, eris.Wrap(err, "cache: postgres stats")
	}
	st.Entries = int(entries)
	st.Expired = int(expiredCount)
	st.OldestAge = now.Sub(oldest)
	st.NewestAge = now.Sub(newest)
	return st, nil
}

// Clear deletes every row.
func (p *Postgres) Clear(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM result_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "cache: postgres clear")
	}
	return int(tag.RowsAffected()), nil
}

// Purge deletes rows that have outlived their TTL.
func (p *Postgres) Purge(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM result_cache WHERE created_at + ttl_seconds * interval '1 second' < $1`,
		p.opts.now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "cache: postgres purge")
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
