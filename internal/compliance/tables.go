// Package compliance gates classified opportunities against a
// subcontractor's insurance limits and trade licenses.
package compliance

import (
	"math"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/scopesignal/internal/model"
)

// DefaultAgency is the key of the fallback insurance table.
const DefaultAgency = "default"

// coverageOrder fixes the order coverage lines are checked and reported.
var coverageOrder = []string{
	model.CoverageGeneralLiability,
	model.CoverageAutoLiability,
	model.CoverageWorkersComp,
	model.CoverageUmbrella,
}

// Requirement is the minimum for one coverage line. A statutory line must
// be present with a positive limit; its amount is set by law.
type Requirement struct {
	Millions  float64
	Statutory bool
}

// UnmarshalYAML accepts a number of millions or the word "statutory".
func (r *Requirement) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && strings.EqualFold(strings.TrimSpace(node.Value), "statutory") {
		*r = Requirement{Statutory: true}
		return nil
	}
	var v float64
	if err := node.Decode(&v); err != nil {
		return eris.Wrapf(err, "compliance: requirement %q", node.Value)
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return eris.Errorf("compliance: requirement %v must be a non-negative number", v)
	}
	*r = Requirement{Millions: v}
	return nil
}

// MarshalYAML writes statutory lines as the word "statutory".
func (r Requirement) MarshalYAML() (any, error) {
	if r.Statutory {
		return "statutory", nil
	}
	return r.Millions, nil
}

// AgencyTable maps coverage line to requirement.
type AgencyTable map[string]Requirement

// Lines returns the coverage lines of t in reporting order.
func (t AgencyTable) Lines() []string {
	lines := make([]string, 0, len(t))
	seen := make(map[string]bool, len(t))
	for _, c := range coverageOrder {
		if _, ok := t[c]; ok {
			lines = append(lines, c)
			seen[c] = true
		}
	}
	var extra []string
	for c := range t {
		if !seen[c] {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(lines, extra...)
}

// Tables holds the agency insurance minimums and the licenses each trade
// accepts. Agency keys are upper case, except DefaultAgency.
type Tables struct {
	Agencies map[string]AgencyTable   `yaml:"agencies"`
	Licenses map[model.Trade][]string `yaml:"licenses"`
}

func standardTable(gl, umbrella float64) AgencyTable {
	return AgencyTable{
		model.CoverageGeneralLiability: {Millions: gl},
		model.CoverageAutoLiability:    {Millions: 1},
		model.CoverageWorkersComp:      {Statutory: true},
		model.CoverageUmbrella:         {Millions: umbrella},
	}
}

// DefaultTables returns the built-in NYC agency and trade tables.
func DefaultTables() *Tables {
	return &Tables{
		Agencies: map[string]AgencyTable{
			"SCA":         standardTable(2, 5),
			"DDC":         standardTable(1, 2),
			"HPD":         standardTable(1, 2),
			"DEP":         standardTable(2, 3),
			"NYCHA":       standardTable(1, 2),
			DefaultAgency: standardTable(1, 2),
		},
		Licenses: map[model.Trade][]string{
			model.TradeElectrical: {"Master Electrician", "Electrical Contractor"},
			model.TradePlumbing:   {"Master Plumber", "Plumbing Contractor"},
			model.TradeHVAC:       {"HVAC License", "Mechanical Contractor"},
		},
	}
}

// LoadTables reads YAML overrides from path and merges them over the
// defaults. An agency listed in the file replaces that agency's table; a
// trade listed replaces that trade's accepted licenses.
func LoadTables(path string) (*Tables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "compliance: read tables %s", path)
	}
	var override Tables
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, eris.Wrapf(err, "compliance: parse tables %s", path)
	}

	t := DefaultTables()
	for name, table := range override.Agencies {
		t.Agencies[agencyKey(name)] = table
	}
	for trade, licenses := range override.Licenses {
		parsed, err := model.ParseTrade(string(trade))
		if err != nil {
			return nil, eris.Wrapf(err, "compliance: tables %s", path)
		}
		t.Licenses[parsed] = licenses
	}
	return t, nil
}

func agencyKey(name string) string {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, DefaultAgency) {
		return DefaultAgency
	}
	return strings.ToUpper(name)
}

// Agency returns the resolved agency code and its table. Unknown or empty
// agencies resolve to the default table.
func (t *Tables) Agency(name string) (string, AgencyTable) {
	key := agencyKey(name)
	if table, ok := t.Agencies[key]; ok && key != "" {
		return key, table
	}
	return DefaultAgency, t.Agencies[DefaultAgency]
}

// AcceptedLicenses returns the license types that qualify for trade.
func (t *Tables) AcceptedLicenses(trade model.Trade) []string {
	return t.Licenses[trade]
}
