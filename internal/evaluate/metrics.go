package evaluate

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/sells-group/scopesignal/internal/model"
)

// Prediction pairs a labelled case with what the classifier returned.
// Actual is empty when classification failed.
type Prediction struct {
	ID         string               `json:"id"`
	Text       string               `json:"text"`
	Trade      model.Trade          `json:"trade"`
	Category   string               `json:"category,omitempty"`
	Expected   model.Classification `json:"expected"`
	Actual     model.Classification `json:"actual,omitempty"`
	Confidence int                  `json:"confidence"`
	Reasoning  string               `json:"reasoning,omitempty"`
	RiskNote   string               `json:"risk_note,omitempty"`
	CacheHit   bool                 `json:"cache_hit"`
	LatencyMS  int64                `json:"latency_ms"`
	Attempts   int                  `json:"attempts"`
	Error      string               `json:"error,omitempty"`
}

// Correct reports whether the prediction matched its label.
func (p Prediction) Correct() bool {
	return p.Error == "" && p.Actual == p.Expected
}

// ClassMetrics are the one-vs-rest scores for one classification.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Distribution summarizes a set of confidence values.
type Distribution struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ConfidenceAnalysis breaks confidence down by correctness and by
// predicted class.
type ConfidenceAnalysis struct {
	Overall   Distribution                          `json:"overall"`
	Correct   Distribution                          `json:"correct"`
	Incorrect Distribution                          `json:"incorrect"`
	ByClass   map[model.Classification]Distribution `json:"by_class"`
}

// CategoryAccuracy is accuracy over cases sharing a category label.
type CategoryAccuracy struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Metrics is the evaluation report. ConfusionMatrix is indexed
// [predicted][expected].
type Metrics struct {
	Total           int                                                   `json:"total"`
	Succeeded       int                                                   `json:"succeeded"`
	Errors          int                                                   `json:"errors"`
	Accuracy        float64                                               `json:"accuracy"`
	ConfusionMatrix map[model.Classification]map[model.Classification]int `json:"confusion_matrix"`
	PerClass        map[model.Classification]ClassMetrics                 `json:"per_class"`
	MacroF1         float64                                               `json:"macro_f1"`
	WeightedF1      float64                                               `json:"weighted_f1"`
	Confidence      ConfidenceAnalysis                                    `json:"confidence"`
	ByCategory      map[string]CategoryAccuracy                           `json:"by_category,omitempty"`
	CacheHits       int                                                   `json:"cache_hits"`
	CacheHitRate    float64                                               `json:"cache_hit_rate"`
	MeanLatencyMS   float64                                               `json:"mean_latency_ms"`
	Mismatches      []Prediction                                          `json:"mismatches"`
}

// Compute derives metrics from predictions. Failed predictions count as
// errors and are excluded from accuracy, the confusion matrix and the
// confidence analysis.
func Compute(preds []Prediction) Metrics {
	classes := model.AllClassifications()
	m := Metrics{
		Total:           len(preds),
		ConfusionMatrix: make(map[model.Classification]map[model.Classification]int, len(classes)),
		PerClass:        make(map[model.Classification]ClassMetrics, len(classes)),
		Mismatches:      []Prediction{},
	}
	for _, p := range classes {
		m.ConfusionMatrix[p] = make(map[model.Classification]int, len(classes))
		for _, e := range classes {
			m.ConfusionMatrix[p][e] = 0
		}
	}

	var all, correct, incorrect, latencies []float64
	byClass := make(map[model.Classification][]float64)
	categories := make(map[string]CategoryAccuracy)
	scored, matched := 0, 0

	for _, p := range preds {
		if p.Category != "" {
			c := categories[p.Category]
			c.Total++
			if p.Correct() {
				c.Correct++
			}
			categories[p.Category] = c
		}
		if p.Error != "" {
			m.Errors++
			continue
		}
		m.Succeeded++
		if p.CacheHit {
			m.CacheHits++
		}
		latencies = append(latencies, float64(p.LatencyMS))

		if !p.Actual.Valid() || !p.Expected.Valid() {
			continue
		}
		scored++
		m.ConfusionMatrix[p.Actual][p.Expected]++

		conf := float64(p.Confidence)
		all = append(all, conf)
		byClass[p.Actual] = append(byClass[p.Actual], conf)
		if p.Correct() {
			matched++
			correct = append(correct, conf)
		} else {
			incorrect = append(incorrect, conf)
			m.Mismatches = append(m.Mismatches, p)
		}
	}

	m.Accuracy = ratio(matched, scored)
	m.CacheHitRate = ratio(m.CacheHits, m.Succeeded)
	if mean, err := stats.Mean(latencies); err == nil {
		m.MeanLatencyMS = round(mean, 1)
	}

	totalSupport := 0
	var f1Sum, weighted float64
	for _, cls := range classes {
		cm := classMetrics(m.ConfusionMatrix, cls)
		m.PerClass[cls] = cm
		f1Sum += cm.F1
		weighted += cm.F1 * float64(cm.Support)
		totalSupport += cm.Support
	}
	m.MacroF1 = round(f1Sum/float64(len(classes)), 3)
	if totalSupport > 0 {
		m.WeightedF1 = round(weighted/float64(totalSupport), 3)
	}

	m.Confidence = ConfidenceAnalysis{
		Overall:   distribution(all),
		Correct:   distribution(correct),
		Incorrect: distribution(incorrect),
		ByClass:   make(map[model.Classification]Distribution, len(byClass)),
	}
	for cls, values := range byClass {
		m.Confidence.ByClass[cls] = distribution(values)
	}

	if len(categories) > 0 {
		m.ByCategory = make(map[string]CategoryAccuracy, len(categories))
		for name, c := range categories {
			c.Accuracy = ratio(c.Correct, c.Total)
			m.ByCategory[name] = c
		}
	}

	sort.SliceStable(m.Mismatches, func(i, j int) bool {
		return m.Mismatches[i].Confidence > m.Mismatches[j].Confidence
	})
	return m
}

func classMetrics(matrix map[model.Classification]map[model.Classification]int, cls model.Classification) ClassMetrics {
	tp := matrix[cls][cls]
	fp, fn := 0, 0
	for _, other := range model.AllClassifications() {
		if other == cls {
			continue
		}
		fp += matrix[cls][other]
		fn += matrix[other][cls]
	}
	precision, recall, f1 := 0.0, 0.0, 0.0
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return ClassMetrics{
		Precision: round(precision, 3),
		Recall:    round(recall, 3),
		F1:        round(f1, 3),
		Support:   tp + fn,
	}
}

func distribution(values []float64) Distribution {
	d := Distribution{Count: len(values)}
	if len(values) == 0 {
		return d
	}
	data := stats.Float64Data(values)
	if mean, err := data.Mean(); err == nil {
		d.Mean = round(mean, 1)
	}
	if median, err := data.Median(); err == nil {
		d.Median = round(median, 1)
	}
	if lo, err := data.Min(); err == nil {
		d.Min = lo
	}
	if hi, err := data.Max(); err == nil {
		d.Max = hi
	}
	return d
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return round(float64(num)/float64(den), 3)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
