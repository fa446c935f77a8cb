package cache

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Backend drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Config selects and locates a cache backend.
type Config struct {
	Driver      string
	Path        string
	DatabaseURL string
}

// Open constructs the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config, opts ...Option) (Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverMemory:
		return NewMemory(opts...), nil
	case DriverSQLite, "":
		if cfg.Path == "" {
			return nil, eris.New("cache: sqlite driver requires a path")
		}
		return NewSQLite(ctx, cfg.Path, opts...)
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, eris.New("cache: postgres driver requires a database url")
		}
		return NewPostgres(ctx, cfg.DatabaseURL, opts...)
	case DriverNone, "off":
		return Nop{}, nil
	default:
		return nil, eris.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}
