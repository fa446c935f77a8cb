package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/scopesignal/internal/batch"
	"github.com/sells-group/scopesignal/internal/cache"
	"github.com/sells-group/scopesignal/internal/classify"
	"github.com/sells-group/scopesignal/internal/compliance"
	"github.com/sells-group/scopesignal/internal/model"
	"github.com/sells-group/scopesignal/internal/resilience"
	anthropicpkg "github.com/sells-group/scopesignal/pkg/anthropic"
)

// classifierEnv holds the cache, engine, scorer and batch runner needed by
// the classify/batch/evaluate/serve commands.
type classifierEnv struct {
	Cache   cache.Cache
	Engine  *classify.Engine
	Scorer  *compliance.Scorer
	Runner  *batch.Runner
	Breaker *resilience.CircuitBreaker

	stopJanitor context.CancelFunc
	janitorDone <-chan struct{}
}

// Close stops the janitor and releases the cache.
func (e *classifierEnv) Close() {
	if e.stopJanitor != nil {
		e.stopJanitor()
		<-e.janitorDone
	}
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
}

// startJanitor purges expired cache entries on the configured interval
// until Close.
func (e *classifierEnv) startJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || e.stopJanitor != nil {
		return
	}
	jctx, cancel := context.WithCancel(ctx)
	e.stopJanitor = cancel
	e.janitorDone = cache.StartJanitor(jctx, e.Cache, interval)
}

// initEnv validates config for mode and wires the Anthropic completer into
// a new environment. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*classifierEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	completer := classify.NewAnthropicCompleter(client, cfg.CompleterConfig())
	return newEnv(ctx, completer)
}

// newEnv builds the environment around completer.
func newEnv(ctx context.Context, completer classify.Completer) (*classifierEnv, error) {
	store, err := initCache(ctx)
	if err != nil {
		return nil, err
	}

	scorer, err := initScorer()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	breaker := resilience.NewCircuitBreaker(cfg.CircuitConfig())
	engine := classify.NewEngine(completer, store, cfg.EngineConfig(), classify.WithBreaker(breaker))

	zap.L().Debug("classifier ready",
		zap.String("model", completer.ModelInfo()),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.String("namespace", engine.Namespace()),
	)

	return &classifierEnv{
		Cache:   store,
		Engine:  engine,
		Scorer:  scorer,
		Runner:  batch.NewRunner(engine, scorer, cfg.BatchRunnerConfig()),
		Breaker: breaker,
	}, nil
}

func initCache(ctx context.Context) (cache.Cache, error) {
	store, err := cache.Open(ctx, cfg.CacheOpenConfig(), cache.WithTTL(cfg.CacheTTL()))
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	return store, nil
}

func initScorer() (*compliance.Scorer, error) {
	tables := compliance.DefaultTables()
	if path := cfg.Compliance.AgencyTablePath; path != "" {
		loaded, err := compliance.LoadTables(path)
		if err != nil {
			return nil, eris.Wrap(err, "load agency tables")
		}
		tables = loaded
	}
	var opts []compliance.ScorerOption
	if cfg.Compliance.DefaultAgency != "" {
		opts = append(opts, compliance.WithDefaultAgency(cfg.Compliance.DefaultAgency))
	}
	return compliance.NewScorer(tables, opts...), nil
}

// loadProfile reads a compliance profile from a YAML or JSON file.
func loadProfile(path string) (*model.ComplianceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read profile %s", path)
	}
	var p model.ComplianceProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "parse profile %s", path)
	}
	return &p, nil
}
