package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidRequest is returned for requests that can never be classified.
var ErrInvalidRequest = eris.New("invalid classification request")

// Trade identifies the subcontracting trade an opportunity is judged for.
type Trade string

// Trade constants.
const (
	TradeElectrical Trade = "Electrical"
	TradeHVAC       Trade = "HVAC"
	TradePlumbing   Trade = "Plumbing"
)

// AllTrades returns every supported trade.
func AllTrades() []Trade {
	return []Trade{TradeElectrical, TradeHVAC, TradePlumbing}
}

// ParseTrade resolves a case-insensitive trade name.
func ParseTrade(s string) (Trade, error) {
	s = strings.TrimSpace(s)
	for _, t := range AllTrades() {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", eris.Wrapf(ErrInvalidRequest, "unknown trade %q (want Electrical, HVAC or Plumbing)", s)
}

// Valid reports whether t is one of the supported trades.
func (t Trade) Valid() bool {
	for _, v := range AllTrades() {
		if t == v {
			return true
		}
	}
	return false
}

// Classification is the opportunity verdict for one trade.
type Classification string

// Classification constants.
const (
	// ClassificationClosed means no realistic opportunity for a new subcontractor.
	ClassificationClosed Classification = "CLOSED"
	// ClassificationSoftOpen means scope exists but an incumbent or insider is likely favored.
	ClassificationSoftOpen Classification = "SOFT_OPEN"
	// ClassificationContestable means clearly defined, openly biddable work.
	ClassificationContestable Classification = "CONTESTABLE"
)

// AllClassifications returns every classification in severity order.
func AllClassifications() []Classification {
	return []Classification{ClassificationClosed, ClassificationSoftOpen, ClassificationContestable}
}

// Valid reports whether c is one of the enumerated classifications.
func (c Classification) Valid() bool {
	for _, v := range AllClassifications() {
		if c == v {
			return true
		}
	}
	return false
}

// ClassificationRequest is one unit of classification work.
type ClassificationRequest struct {
	Text   string `json:"text"`
	Trade  Trade  `json:"trade"`
	Agency string `json:"agency,omitempty"`
}

// Validate checks that the request can be sent to the model.
func (r ClassificationRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return eris.Wrap(ErrInvalidRequest, "text is empty")
	}
	if !r.Trade.Valid() {
		return eris.Wrapf(ErrInvalidRequest, "unknown trade %q", r.Trade)
	}
	return nil
}

// ClassificationResult is the validated verdict for a request. Values are
// only produced by the response validator or replayed from the cache.
type ClassificationResult struct {
	Classification    Classification `json:"classification"`
	Confidence        int            `json:"confidence"`
	Reasoning         string         `json:"reasoning"`
	RiskNote          string         `json:"risk_note"`
	RecommendedAction string         `json:"recommended_action"`
	TradeRelevant     bool           `json:"trade_relevant"`
}

// Validate checks the structural invariants every stored result must hold.
func (r ClassificationResult) Validate() error {
	if !r.Classification.Valid() {
		return eris.Errorf("invalid classification %q", r.Classification)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return eris.Errorf("confidence %d out of range [0,100]", r.Confidence)
	}
	if !r.TradeRelevant && r.Classification != ClassificationClosed {
		return eris.Errorf("trade_relevant=false requires CLOSED, got %s", r.Classification)
	}
	return nil
}

// Biddable reports whether the classification leaves room to compete.
func (r ClassificationResult) Biddable() bool {
	return r.Classification == ClassificationContestable || r.Classification == ClassificationSoftOpen
}
