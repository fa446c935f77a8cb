package evaluate

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/scopesignal/internal/batch"
	"github.com/sells-group/scopesignal/internal/model"
)

// Report is an evaluation run: per-case predictions plus metrics.
type Report struct {
	Metrics     Metrics       `json:"metrics"`
	Predictions []Prediction  `json:"predictions"`
	Batch       batch.Summary `json:"batch"`
}

// BatchRunner runs classification items.
type BatchRunner interface {
	Run(ctx context.Context, items []batch.Item) batch.Report
}

// Run classifies every case through runner and scores the predictions.
func Run(ctx context.Context, runner BatchRunner, cases []Case) Report {
	items := make([]batch.Item, len(cases))
	for i, c := range cases {
		items[i] = batch.Item{
			ID:      c.ID,
			Request: model.ClassificationRequest{Text: c.Text, Trade: c.Trade, Agency: c.Agency},
		}
	}

	br := runner.Run(ctx, items)
	preds := make([]Prediction, len(cases))
	for i, o := range br.Outcomes {
		preds[i] = predictionFor(cases[i], o)
	}

	m := Compute(preds)
	zap.L().Info("evaluate: finished",
		zap.Int("cases", m.Total),
		zap.Float64("accuracy", m.Accuracy),
		zap.Float64("macro_f1", m.MacroF1),
		zap.Int("errors", m.Errors),
	)
	return Report{Metrics: m, Predictions: preds, Batch: br.Summary}
}

func predictionFor(c Case, o batch.Outcome) Prediction {
	p := Prediction{
		ID:       c.ID,
		Text:     c.Text,
		Trade:    c.Trade,
		Category: c.Category,
		Expected: c.Expected,
		Attempts: o.Attempts,
	}
	if o.Proof != nil {
		p.CacheHit = o.Proof.CacheHit
		p.LatencyMS = o.Proof.LatencyMS
	}
	if o.Err != nil {
		p.Error = o.Err.Error()
		return p
	}
	if o.Result != nil {
		p.Actual = o.Result.Classification
		p.Confidence = o.Result.Confidence
		p.Reasoning = o.Result.Reasoning
		p.RiskNote = o.Result.RiskNote
	}
	return p
}
