package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scopesignal/internal/cache"
	"github.com/sells-group/scopesignal/internal/model"
	"github.com/sells-group/scopesignal/internal/resilience"
)

// ambiguityMarkers in the reasoning of a CLOSED result mark it as a
// downgrade driven by unclear language.
var ambiguityMarkers = []string{"unclear", "ambiguous", "missing", "vague", "uncertain"}

// Config holds engine tuning.
type Config struct {
	Retry     resilience.RetryConfig
	Validator ValidatorConfig
}

// DefaultConfig returns the production engine configuration.
func DefaultConfig() Config {
	return Config{
		Retry:     resilience.DefaultRetryConfig(),
		Validator: DefaultValidatorConfig(),
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithBreaker routes model calls through cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Engine) { e.breaker = cb }
}

// WithClock replaces time.Now for proof timestamps and latency.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine classifies requests. It is safe for concurrent use when its cache
// and completer are.
type Engine struct {
	completer Completer
	store     cache.Cache
	cacheOff  bool
	validator *Validator
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	now       func() time.Time
	namespace string
}

// NewEngine creates an Engine. A nil store disables caching.
func NewEngine(completer Completer, store cache.Cache, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		completer: completer,
		store:     store,
		validator: NewValidator(cfg.Validator),
		retry:     cfg.Retry,
		now:       time.Now,
	}
	if store == nil {
		e.store = cache.Nop{}
		e.cacheOff = true
	}
	if _, ok := e.store.(cache.Nop); ok {
		e.cacheOff = true
	}
	for _, opt := range opts {
		opt(e)
	}
	// Results cached under one model, prompt, and set of limits are never
	// replayed under another.
	e.namespace = fmt.Sprintf("%s|%s|%d|%d", completer.ModelInfo(), PromptHash(),
		cfg.Validator.ContestableCeiling, cfg.Validator.SoftOpenCeiling)
	return e
}

// Namespace returns the fingerprint namespace of this engine.
func (e *Engine) Namespace() string {
	return e.namespace
}

// Fingerprint returns the cache key the engine uses for req.
func (e *Engine) Fingerprint(req model.ClassificationRequest) string {
	return cache.Fingerprint(e.namespace, req)
}

// Cache returns the engine's result cache.
func (e *Engine) Cache() cache.Cache {
	return e.store
}

// Classify returns the classification for req and the proof of how it was
// reached. Invalid requests fail with model.ErrInvalidRequest before any
// model call. When every attempt fails the error is a *ClassificationError
// carrying the failure proof; no default classification is substituted.
func (e *Engine) Classify(ctx context.Context, req model.ClassificationRequest) (model.ClassificationResult, model.DecisionProof, error) {
	start := e.now()
	if err := req.Validate(); err != nil {
		return model.ClassificationResult{}, model.DecisionProof{}, err
	}

	key := e.Fingerprint(req)
	log := zap.L().With(
		zap.String("fingerprint", cache.ShortKey(key)),
		zap.String("trade", string(req.Trade)),
	)
	proof := model.DecisionProof{
		ID:          uuid.NewString(),
		Request:     req,
		Fingerprint: key,
		CreatedAt:   start.UTC(),
		ModelInfo:   e.completer.ModelInfo(),
		PromptHash:  PromptHash(),
	}

	if e.cacheOff {
		proof.CacheStatus = append(proof.CacheStatus, model.CacheStatusDisabled)
	} else {
		cached, ok, err := e.store.Get(ctx, key)
		switch {
		case err != nil:
			proof.CacheStatus = append(proof.CacheStatus, model.CacheStatusReadFailed)
			proof.CacheErrors = append(proof.CacheErrors, eris.Wrap(ErrCacheUnavailable, err.Error()).Error())
			log.Warn("classify: cache read failed, treating as miss", zap.Error(err))
		case ok:
			proof.CacheStatus = append(proof.CacheStatus, model.CacheStatusHit)
			proof.CacheHit = true
			proof.ValidationChecks = []model.ValidationCheck{{Name: CheckCacheEntry, Passed: true}}
			result := *cached
			proof.Result = &result
			proof.DowngradeReason = downgradeReason(result)
			e.seal(&proof, start)
			log.Debug("classify: cache hit", zap.Int64("latency_ms", proof.LatencyMS))
			return result, proof, nil
		default:
			proof.CacheStatus = append(proof.CacheStatus, model.CacheStatusMiss)
			log.Debug("classify: cache miss")
		}
	}

	result, attempts, checks, err := e.callModel(ctx, req)
	proof.AttemptCount = attempts
	proof.ValidationChecks = checks

	if err != nil {
		proof.Error = err.Error()
		e.seal(&proof, start)
		log.Error("classify: attempts exhausted",
			zap.Int("attempt", attempts),
			zap.String("error_kind", resilience.ErrorKind(err)),
			zap.Error(err),
		)
		return model.ClassificationResult{}, proof, &ClassificationError{
			Attempts:   attempts,
			LastReason: err.Error(),
			Proof:      proof,
			Err:        err,
		}
	}

	proof.Result = &result
	proof.DowngradeReason = downgradeReason(result)

	if !e.cacheOff {
		if err := e.store.Set(ctx, key, result); err != nil {
			proof.CacheStatus = append(proof.CacheStatus, model.CacheStatusWriteFailed)
			proof.CacheErrors = append(proof.CacheErrors, eris.Wrap(ErrCacheUnavailable, err.Error()).Error())
			log.Warn("classify: cache write failed", zap.Error(err))
		} else {
			proof.CacheStatus = append(proof.CacheStatus, model.CacheStatusStored)
		}
	}

	e.seal(&proof, start)
	log.Debug("classify: classified",
		zap.String("classification", string(result.Classification)),
		zap.Int("attempt", attempts),
		zap.Int64("latency_ms", proof.LatencyMS),
	)
	return result, proof, nil
}

// callModel runs the retry loop. Every failure, transport or validation,
// consumes one attempt. Checks from all attempts are returned in order.
func (e *Engine) callModel(ctx context.Context, req model.ClassificationRequest) (model.ClassificationResult, int, []model.ValidationCheck, error) {
	prompt := BuildPrompt(req)
	var checks []model.ValidationCheck

	retry := e.retry
	retry.ShouldRetry = func(error) bool { return true }
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("anthropic", "classify")
	}

	result, attempts, err := resilience.DoVal(ctx, retry, func(ctx context.Context, attempt int) (model.ClassificationResult, error) {
		raw, err := e.complete(ctx, prompt)
		if err != nil {
			checks = append(checks, model.ValidationCheck{Name: CheckModelCall, Passed: false, Detail: err.Error(), Attempt: attempt})
			return model.ClassificationResult{}, err
		}
		checks = append(checks, model.ValidationCheck{Name: CheckModelCall, Passed: true, Attempt: attempt})

		res, vchecks, err := e.validator.Validate(raw, attempt)
		checks = append(checks, vchecks...)
		return res, err
	})
	return result, attempts, checks, err
}

func (e *Engine) complete(ctx context.Context, p Prompt) (string, error) {
	if e.breaker == nil {
		return e.completer.Complete(ctx, p)
	}
	return resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (string, error) {
		return e.completer.Complete(ctx, p)
	})
}

func (e *Engine) seal(p *model.DecisionProof, start time.Time) {
	p.LatencyMS = e.now().Sub(start).Milliseconds()
	p.Digest = p.ComputeDigest()
}

func downgradeReason(r model.ClassificationResult) string {
	if !r.TradeRelevant {
		return model.DowngradeTradeIrrelevant
	}
	if r.Classification != model.ClassificationClosed {
		return ""
	}
	reasoning := strings.ToLower(r.Reasoning)
	for _, marker := range ambiguityMarkers {
		if strings.Contains(reasoning, marker) {
			return model.DowngradeAmbiguousLanguage
		}
	}
	return ""
}
