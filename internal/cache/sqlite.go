package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/scopesignal/internal/model"
)

// SQLite is a file-backed cache using modernc.org/sqlite in WAL mode.
type SQLite struct {
	db   *sql.DB
	opts options
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS result_cache (
	key         TEXT PRIMARY KEY,
	result      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_result_cache_created_at ON result_cache(created_at);
`

// NewSQLite opens (creating if needed) the cache database at dsn.
func NewSQLite(ctx context.Context, dsn string, opts ...Option) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite open")
	}
	// Pragmas below are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "cache: sqlite exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "cache: sqlite migrate")
	}
	return &SQLite{db: db, opts: buildOptions(opts)}, nil
}

// Get returns the live entry for key. A row that no longer decodes into a
// valid result is reported as an error, not a hit.
func (s *SQLite) Get(ctx context.Context, key string) (*model.ClassificationResult, bool, error) {
	var (
		raw        string
		createdMS  int64
		ttlSeconds int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT result, created_at, ttl_seconds FROM result_cache WHERE key = ?`, key,
	).Scan(&raw, &createdMS, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: sqlite get")
	}
	if expired(s.opts.now(), time.UnixMilli(createdMS), time.Duration(ttlSeconds)*time.Second) {
		return nil, false, nil
	}

	var res model.ClassificationResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, false, eris.Wrap(err, "cache: sqlite decode")
	}
	if err := validateStored(res); err != nil {
		return nil, false, err
	}
	return &res, true, nil
}

// Set upserts result under key.
func (s *SQLite) Set(ctx context.Context, key string, result model.ClassificationResult) error {
	if err := validateStored(result); err != nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "cache: sqlite encode")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO result_cache (key, result, created_at, ttl_seconds) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET result = excluded.result, created_at = excluded.created_at, ttl_seconds = excluded.ttl_seconds`,
		key, string(raw), s.opts.now().UnixMilli(), int64(s.opts.ttl/time.Second),
	)
	return eris.Wrap(err, "cache: sqlite set")
}

// Stats reports entry counts and ages.
func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	nowMS := s.opts.now().UnixMilli()
	st := Stats{Backend: "sqlite", TTL: s.opts.ttl}

	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN ? - created_at > ttl_seconds * 1000 THEN 1 ELSE 0 END), 0),
		        MIN(created_at), MAX(created_at)
		 FROM result_cache`, nowMS,
	).Scan(&st.Entries, &st.Expired, &oldest, &newest)
	if err != nil {
		return Stats{}, eris.Wrap(err, "cache: sqlite stats")
	}
	if oldest.Valid {
		st.OldestAge = time.Duration(nowMS-oldest.Int64) * time.Millisecond
	}
	if newest.Valid {
		st.NewestAge = time.Duration(nowMS-newest.Int64) * time.Millisecond
	}
	return st, nil
}

// Clear deletes every row.
func (s *SQLite) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM result_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite clear")
	}
	return rowsAffected(res)
}

// Purge deletes rows that have outlived their TTL.
func (s *SQLite) Purge(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM result_cache WHERE ? - created_at > ttl_seconds * 1000`, s.opts.now().UnixMilli(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite purge")
	}
	return rowsAffected(res)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "cache: rows affected")
	}
	return int(n), nil
}
