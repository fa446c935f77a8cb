package compliance

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sells-group/scopesignal/internal/model"
)

var coverageLabels = map[string]string{
	model.CoverageGeneralLiability: "general liability",
	model.CoverageAutoLiability:    "auto liability",
	model.CoverageWorkersComp:      "workers' comp",
	model.CoverageUmbrella:         "umbrella",
}

func coverageLabel(line string) string {
	if l, ok := coverageLabels[line]; ok {
		return l
	}
	return strings.ReplaceAll(line, "_", " ")
}

func millions(v float64) string {
	return fmt.Sprintf("$%.1fM", v)
}

// Shortfall is one coverage line below the agency minimum. Current is 0
// when the line is absent from the profile.
type Shortfall struct {
	Coverage  string  `json:"coverage"`
	Required  float64 `json:"required"`
	Current   float64 `json:"current"`
	Missing   bool    `json:"missing"`
	Statutory bool    `json:"statutory,omitempty"`
}

// Blocker describes the shortfall for a reader.
func (s Shortfall) Blocker() string {
	label := coverageLabel(s.Coverage)
	switch {
	case s.Statutory:
		return fmt.Sprintf("Missing %s: statutory coverage required", label)
	case s.Missing:
		return fmt.Sprintf("Insufficient %s: need %s, have none", label, millions(s.Required))
	default:
		return fmt.Sprintf("Insufficient %s: need %s, have %s", label, millions(s.Required), millions(s.Current))
	}
}

// Recommendation is the remediation for the shortfall.
func (s Shortfall) Recommendation() string {
	label := coverageLabel(s.Coverage)
	switch {
	case s.Statutory:
		return fmt.Sprintf("Obtain statutory %s coverage", label)
	case s.Missing:
		return fmt.Sprintf("Obtain %s coverage of at least %s", label, millions(s.Required))
	default:
		return fmt.Sprintf("Increase %s limit to %s", label, millions(s.Required))
	}
}

// InsuranceResult is the outcome of checking a profile against an agency.
type InsuranceResult struct {
	Agency     string       `json:"agency"`
	Compliant  bool         `json:"compliant"`
	Shortfalls []Shortfall  `json:"shortfalls,omitempty"`
	DataErrors []*DataError `json:"-"`
}

// InsuranceValidator checks insurance limits against agency minimums.
type InsuranceValidator struct {
	tables *Tables
}

// NewInsuranceValidator creates a validator over tables.
func NewInsuranceValidator(tables *Tables) *InsuranceValidator {
	return &InsuranceValidator{tables: tables}
}

// Validate checks insurance against the agency's table. Any malformed limit
// in the profile makes the result non-compliant.
func (v *InsuranceValidator) Validate(insurance map[string]float64, agency string) InsuranceResult {
	code, table := v.tables.Agency(agency)
	res := InsuranceResult{Agency: code}

	lines := make([]string, 0, len(insurance))
	for line := range insurance {
		lines = append(lines, line)
	}
	sort.Strings(lines)
	for _, line := range lines {
		limit := insurance[line]
		switch {
		case math.IsNaN(limit) || math.IsInf(limit, 0):
			res.DataErrors = append(res.DataErrors, &DataError{Field: "insurance." + line, Detail: "limit is not a finite number"})
		case limit < 0:
			res.DataErrors = append(res.DataErrors, &DataError{Field: "insurance." + line, Detail: fmt.Sprintf("limit %v is negative", limit)})
		}
	}

	for _, line := range table.Lines() {
		req := table[line]
		current, present := insurance[line]
		switch {
		case req.Statutory:
			if !present || current <= 0 {
				res.Shortfalls = append(res.Shortfalls, Shortfall{Coverage: line, Current: current, Missing: true, Statutory: true})
			}
		case !present:
			res.Shortfalls = append(res.Shortfalls, Shortfall{Coverage: line, Required: req.Millions, Missing: true})
		case current < req.Millions:
			res.Shortfalls = append(res.Shortfalls, Shortfall{Coverage: line, Required: req.Millions, Current: current})
		}
	}

	res.Compliant = len(res.Shortfalls) == 0 && len(res.DataErrors) == 0
	return res
}
