package model

// Coverage lines used by the agency insurance tables.
const (
	CoverageGeneralLiability = "general_liability"
	CoverageAutoLiability    = "auto_liability"
	CoverageWorkersComp      = "workers_comp"
	CoverageUmbrella         = "umbrella"
)

// License is one trade license held by the subcontractor. Expiry is the
// raw date string as supplied (YYYY-MM-DD or RFC 3339).
type License struct {
	Type   string `json:"type" yaml:"type"`
	Number string `json:"number,omitempty" yaml:"number,omitempty"`
	Status string `json:"status" yaml:"status"`
	Expiry string `json:"expiry" yaml:"expiry"`
}

// ComplianceProfile is the subcontractor's insurance and license posture.
// Insurance maps a coverage line to its limit in millions of dollars.
type ComplianceProfile struct {
	Insurance map[string]float64 `json:"insurance" yaml:"insurance"`
	Licenses  []License          `json:"licenses" yaml:"licenses"`
}

// ComplianceReadiness summarizes which compliance gates passed.
type ComplianceReadiness struct {
	Insurance bool `json:"insurance"`
	License   bool `json:"license"`
}

// FeasibilityResult is the bid/no-bid gate for one classified opportunity.
type FeasibilityResult struct {
	FeasibilityScore     float64             `json:"feasibility_score"`
	CanBid               bool                `json:"can_bid"`
	OpportunityLevel     Classification      `json:"opportunity_level"`
	ComplianceReadiness  ComplianceReadiness `json:"compliance_readiness"`
	Blockers             []string            `json:"blockers"`
	Recommendations      []string            `json:"recommendations"`
	BaseScore            float64             `json:"base_score"`
	ComplianceMultiplier float64             `json:"compliance_multiplier"`
	Agency               string              `json:"agency"`
}
