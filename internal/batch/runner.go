// Package batch classifies many opportunities concurrently, isolating
// per-item failures and returning outcomes in input order.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/scopesignal/internal/classify"
	"github.com/sells-group/scopesignal/internal/compliance"
	"github.com/sells-group/scopesignal/internal/model"
	"github.com/sells-group/scopesignal/internal/resilience"
)

// ErrNotDispatched marks items skipped because the batch was cancelled
// before they started.
var ErrNotDispatched = eris.New("batch: item not dispatched")

// Classifier is the classification engine used by the runner.
type Classifier interface {
	Classify(ctx context.Context, req model.ClassificationRequest) (model.ClassificationResult, model.DecisionProof, error)
}

// Scorer computes feasibility for items that carry a compliance profile.
type Scorer interface {
	Score(req compliance.Request) model.FeasibilityResult
}

// Item is one unit of batch work. When Profile is set and the runner has a
// Scorer, a successful classification is also scored.
type Item struct {
	ID      string                      `json:"id,omitempty"`
	Request model.ClassificationRequest `json:"request"`
	Profile *model.ComplianceProfile    `json:"profile,omitempty"`
}

// Outcome is the result for the item at Index. Exactly one of Result and
// Err is set.
type Outcome struct {
	Index       int                         `json:"index"`
	ID          string                      `json:"id,omitempty"`
	Request     model.ClassificationRequest `json:"request"`
	Result      *model.ClassificationResult `json:"result,omitempty"`
	Proof       *model.DecisionProof        `json:"proof,omitempty"`
	Feasibility *model.FeasibilityResult    `json:"feasibility,omitempty"`
	Attempts    int                         `json:"attempts"`
	Error       string                      `json:"error,omitempty"`
	Err         error                       `json:"-"`
}

// Summary counts outcomes by kind.
type Summary struct {
	Total         int   `json:"total"`
	Succeeded     int   `json:"succeeded"`
	Failed        int   `json:"failed"`
	NotDispatched int   `json:"not_dispatched"`
	CacheHits     int   `json:"cache_hits"`
	Scored        int   `json:"scored"`
	CanBid        int   `json:"can_bid"`
	ElapsedMS     int64 `json:"elapsed_ms"`

	// DispatchRate is the paced rate (items/s) when the batch ended; zero
	// when pacing is disabled.
	DispatchRate float64 `json:"dispatch_rate,omitempty"`
}

// Report is the full batch result.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
	Summary  Summary   `json:"summary"`
}

// Config bounds batch execution. Zero RatePerSecond disables pacing; zero
// ItemTimeout leaves items bound only by the classifier's own limits.
type Config struct {
	MaxConcurrent int
	RatePerSecond float64
	Burst         int
	ItemTimeout   time.Duration
}

// DefaultConfig returns the production batch limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 5,
		RatePerSecond: 2,
		Burst:         2,
		ItemTimeout:   2 * time.Minute,
	}
}

// Runner executes batches. A Runner may be reused; each Run gets its own
// limiter.
type Runner struct {
	classifier Classifier
	scorer     Scorer
	cfg        Config
	now        func() time.Time
}

// NewRunner creates a Runner. scorer may be nil.
func NewRunner(classifier Classifier, scorer Scorer, cfg Config) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &Runner{classifier: classifier, scorer: scorer, cfg: cfg, now: time.Now}
}

// Run processes items with bounded concurrency. A failed item becomes an
// error outcome and never aborts the batch. Cancelling ctx stops dispatch;
// items already running continue under their own timeout.
func (r *Runner) Run(ctx context.Context, items []Item) Report {
	start := r.now()
	log := zap.L().With(zap.Int("items", len(items)), zap.Int("max_concurrent", r.cfg.MaxConcurrent))
	log.Info("batch: starting")

	outcomes := make([]Outcome, len(items))
	for i, item := range items {
		outcomes[i] = Outcome{Index: i, ID: item.ID, Request: item.Request}
	}

	limiter := newAdaptiveLimiter(r.cfg.RatePerSecond, r.cfg.Burst)
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrent)

	for i, item := range items {
		if err := limiter.Wait(ctx); err != nil {
			for j := i; j < len(items); j++ {
				markNotDispatched(&outcomes[j], err)
			}
			break
		}
		g.Go(func() error {
			// A slot may free up only after cancellation.
			if err := ctx.Err(); err != nil {
				markNotDispatched(&outcomes[i], err)
				return nil
			}
			r.runItem(ctx, item, &outcomes[i], limiter)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Outcomes: outcomes, Summary: summarize(outcomes)}
	report.Summary.ElapsedMS = r.now().Sub(start).Milliseconds()
	report.Summary.DispatchRate = float64(limiter.rate())
	log.Info("batch: finished",
		zap.Int("succeeded", report.Summary.Succeeded),
		zap.Int("failed", report.Summary.Failed),
		zap.Int("not_dispatched", report.Summary.NotDispatched),
		zap.Int("cache_hits", report.Summary.CacheHits),
		zap.Int64("elapsed_ms", report.Summary.ElapsedMS),
		zap.Float64("dispatch_rate", report.Summary.DispatchRate),
	)
	return report
}

func (r *Runner) runItem(ctx context.Context, item Item, out *Outcome, limiter *adaptiveLimiter) {
	itemCtx := context.WithoutCancel(ctx)
	if r.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(itemCtx, r.cfg.ItemTimeout)
		defer cancel()
	}

	res, proof, err := r.classifier.Classify(itemCtx, item.Request)
	if proof.ID != "" {
		out.Proof = &proof
		out.Attempts = proof.AttemptCount
	}
	if err != nil {
		out.Err = err
		out.Error = err.Error()
		var ce *classify.ClassificationError
		if errors.As(err, &ce) {
			out.Attempts = ce.Attempts
		}
		if isRateLimited(err) {
			limiter.onRateLimit()
		}
		zap.L().Warn("batch: item failed",
			zap.Int("index", out.Index),
			zap.String("trade", string(item.Request.Trade)),
			zap.Int("attempt", out.Attempts),
			zap.Error(err),
		)
		return
	}
	limiter.onSuccess()
	out.Result = &res

	if item.Profile != nil && r.scorer != nil {
		f := r.scorer.Score(compliance.Request{
			Result:  res,
			Trade:   item.Request.Trade,
			Agency:  item.Request.Agency,
			Profile: *item.Profile,
		})
		out.Feasibility = &f
	}
}

func markNotDispatched(out *Outcome, cause error) {
	out.Err = eris.Wrap(ErrNotDispatched, cause.Error())
	out.Error = out.Err.Error()
}

func isRateLimited(err error) bool {
	var te *resilience.TransientError
	return errors.As(err, &te) && te.RateLimited()
}

func summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			s.Succeeded++
		case errors.Is(o.Err, ErrNotDispatched):
			s.NotDispatched++
		default:
			s.Failed++
		}
		if o.Proof != nil && o.Proof.CacheHit {
			s.CacheHits++
		}
		if o.Feasibility != nil {
			s.Scored++
			if o.Feasibility.CanBid {
				s.CanBid++
			}
		}
	}
	return s
}
