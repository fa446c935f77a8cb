package compliance

import (
	"math"
	"time"

	"github.com/sells-group/scopesignal/internal/model"
)

// Scoring weights. The penalties multiply the base score when a compliance
// gate fails.
const (
	SoftOpenWeight   = 0.6
	InsurancePenalty = 0.3
	LicensePenalty   = 0.2
)

const (
	blockerNotViable  = "Opportunity is CLOSED or not trade-relevant"
	recommendMonitor  = "Monitor for future updates"
	recommendProceed  = "You are compliant to bid - proceed with proposal"
	recommendCaution  = "You are compliant but opportunity is SOFT_OPEN - proceed with caution"
	recommendResearch = "Research incumbent relationships before investing time"
)

// Request is one feasibility check. A zero AsOf means now; an empty Agency
// means the scorer's default agency.
type Request struct {
	Result  model.ClassificationResult `json:"result"`
	Trade   model.Trade                `json:"trade"`
	Agency  string                     `json:"agency,omitempty"`
	Profile model.ComplianceProfile    `json:"profile"`
	AsOf    time.Time                  `json:"as_of,omitempty"`
}

// ScorerOption customizes a Scorer.
type ScorerOption func(*Scorer)

// WithDefaultAgency sets the agency used when a request names none.
func WithDefaultAgency(agency string) ScorerOption {
	return func(s *Scorer) { s.defaultAgency = agency }
}

// WithNow replaces time.Now for license expiry checks.
func WithNow(now func() time.Time) ScorerOption {
	return func(s *Scorer) { s.now = now }
}

// Scorer combines a classification with compliance checks. It holds no
// mutable state and is safe for concurrent use.
type Scorer struct {
	insurance     *InsuranceValidator
	license       *LicenseValidator
	defaultAgency string
	now           func() time.Time
}

// NewScorer creates a Scorer over tables. A nil tables uses DefaultTables.
func NewScorer(tables *Tables, opts ...ScorerOption) *Scorer {
	if tables == nil {
		tables = DefaultTables()
	}
	s := &Scorer{
		insurance: NewInsuranceValidator(tables),
		license:   NewLicenseValidator(tables),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the feasibility of bidding on a classified opportunity.
//
//	score = base × (0.3 if insurance fails) × (0.2 if licenses fail)
//
// where base is confidence for CONTESTABLE, 0.6 × confidence for
// SOFT_OPEN, and 0 otherwise. Compliance is always evaluated so readiness
// and blockers are reported even for CLOSED opportunities.
func (s *Scorer) Score(req Request) model.FeasibilityResult {
	agency := req.Agency
	if agency == "" {
		agency = s.defaultAgency
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}

	res := req.Result
	viable := res.Biddable() && res.TradeRelevant
	out := model.FeasibilityResult{
		OpportunityLevel: res.Classification,
		Blockers:         []string{},
		Recommendations:  []string{},
	}
	if !viable {
		out.Blockers = append(out.Blockers, blockerNotViable)
		out.Recommendations = append(out.Recommendations, recommendMonitor)
	}

	ins := s.insurance.Validate(req.Profile.Insurance, agency)
	out.Agency = ins.Agency
	out.ComplianceReadiness.Insurance = ins.Compliant
	for _, de := range ins.DataErrors {
		out.Blockers = append(out.Blockers, capitalize(de.Error()))
	}
	for _, sf := range ins.Shortfalls {
		out.Blockers = append(out.Blockers, sf.Blocker())
		out.Recommendations = append(out.Recommendations, sf.Recommendation())
	}

	lic := s.license.Validate(req.Profile.Licenses, req.Trade, asOf)
	out.ComplianceReadiness.License = lic.Compliant
	for _, de := range lic.DataErrors {
		out.Blockers = append(out.Blockers, capitalize(de.Error()))
	}
	if !lic.Compliant && len(lic.Required) > 0 {
		out.Blockers = append(out.Blockers, lic.Blocker())
		out.Recommendations = append(out.Recommendations, lic.Recommendation())
	}

	base := 0.0
	if viable {
		switch res.Classification {
		case model.ClassificationContestable:
			base = float64(res.Confidence)
		case model.ClassificationSoftOpen:
			base = float64(res.Confidence) * SoftOpenWeight
		}
	}
	multiplier := 1.0
	if !ins.Compliant {
		multiplier *= InsurancePenalty
	}
	if !lic.Compliant {
		multiplier *= LicensePenalty
	}

	out.BaseScore = base
	out.ComplianceMultiplier = multiplier
	out.FeasibilityScore = clamp(base*multiplier, 0, 100)
	out.CanBid = viable && ins.Compliant && lic.Compliant && base > 0

	if out.CanBid {
		if res.Classification == model.ClassificationContestable {
			out.Recommendations = append(out.Recommendations, recommendProceed)
		} else {
			out.Recommendations = append(out.Recommendations, recommendCaution, recommendResearch)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
