package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scopesignal/internal/model"
)

const dateLayout = "2006-01-02"

// LicenseResult is the outcome of checking licenses for one trade.
type LicenseResult struct {
	Trade      model.Trade  `json:"trade"`
	Compliant  bool         `json:"compliant"`
	Required   []string     `json:"required"`
	Active     []string     `json:"active,omitempty"`
	Inactive   []string     `json:"inactive,omitempty"`
	DataErrors []*DataError `json:"-"`
}

// Blocker describes why the license check failed, or "" when it passed.
func (r LicenseResult) Blocker() string {
	if r.Compliant {
		return ""
	}
	msg := fmt.Sprintf("No active %s license: need %s", r.Trade, strings.Join(r.Required, " or "))
	if len(r.Inactive) > 0 {
		msg += " (" + strings.Join(r.Inactive, "; ") + ")"
	}
	return msg
}

// Recommendation is the remediation for a failed check.
func (r LicenseResult) Recommendation() string {
	if r.Compliant {
		return ""
	}
	if len(r.Inactive) > 0 {
		return fmt.Sprintf("Renew or reactivate your %s license", strings.Join(r.Required, " or "))
	}
	return fmt.Sprintf("Obtain a %s license", strings.Join(r.Required, " or "))
}

// LicenseValidator checks that a profile holds a current license for a trade.
type LicenseValidator struct {
	tables *Tables
}

// NewLicenseValidator creates a validator over tables.
func NewLicenseValidator(tables *Tables) *LicenseValidator {
	return &LicenseValidator{tables: tables}
}

// Validate requires at least one license whose type contains an accepted
// license name (case-insensitive), whose status is active, and whose expiry
// date is not before asOf. Dates compare in UTC at day granularity.
func (v *LicenseValidator) Validate(licenses []model.License, trade model.Trade, asOf time.Time) LicenseResult {
	accepted := v.tables.AcceptedLicenses(trade)
	res := LicenseResult{Trade: trade, Required: accepted}
	if len(accepted) == 0 {
		res.DataErrors = append(res.DataErrors, &DataError{Field: "trade", Detail: fmt.Sprintf("no accepted licenses for %q", trade)})
		return res
	}
	today := asOf.UTC().Format(dateLayout)

	for i, lic := range licenses {
		field := fmt.Sprintf("licenses[%d]", i)
		licType := strings.TrimSpace(lic.Type)
		if licType == "" {
			res.DataErrors = append(res.DataErrors, &DataError{Field: field + ".type", Detail: "license type is empty"})
			continue
		}
		if !matchesAny(licType, accepted) {
			continue
		}

		expiry, err := parseExpiry(lic.Expiry)
		if err != nil {
			res.DataErrors = append(res.DataErrors, &DataError{Field: field + ".expiry", Detail: err.Error()})
			continue
		}

		status := strings.ToLower(strings.TrimSpace(lic.Status))
		switch {
		case status != "active":
			res.Inactive = append(res.Inactive, fmt.Sprintf("%s status %s", licType, displayStatus(status)))
		case expiry < today:
			res.Inactive = append(res.Inactive, fmt.Sprintf("%s expired %s", licType, expiry))
		default:
			res.Active = append(res.Active, licType)
		}
	}

	res.Compliant = len(res.Active) > 0 && len(res.DataErrors) == 0
	return res
}

func matchesAny(licType string, accepted []string) bool {
	lower := strings.ToLower(licType)
	for _, a := range accepted {
		if strings.Contains(lower, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

// parseExpiry returns the expiry as a UTC YYYY-MM-DD string, which orders
// lexically by date.
func parseExpiry(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", eris.New("expiry date is empty")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.Format(dateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(dateLayout), nil
	}
	return "", eris.Errorf("expiry %q is not YYYY-MM-DD or RFC 3339", s)
}

func displayStatus(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
