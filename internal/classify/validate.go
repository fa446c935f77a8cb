package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scopesignal/internal/model"
)

// Validation check names recorded on proofs.
const (
	CheckNonEmpty        = "non_empty"
	CheckFence           = "fence_unwrapped"
	CheckJSONObject      = "json_object"
	CheckRequiredFields  = "required_fields"
	CheckUnknownFields   = "no_unknown_fields"
	CheckFieldTypes      = "field_types"
	CheckClassification  = "classification_enum"
	CheckConfidence      = "confidence_range"
	CheckTradeRelevance  = "trade_relevance_consistency"
	CheckConfidenceLimit = "confidence_ceiling"
	CheckModelCall       = "model_call"
	CheckCacheEntry      = "cache_entry_valid"
)

var requiredFields = []string{
	"trade_relevant",
	"classification",
	"confidence",
	"reasoning",
	"risk_note",
	"recommended_action",
}

// ValidatorConfig holds the domain limits applied to model output.
// A zero ceiling disables that ceiling.
type ValidatorConfig struct {
	ContestableCeiling int
	SoftOpenCeiling    int
	AllowFenced        bool
}

// DefaultValidatorConfig returns the production limits.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		ContestableCeiling: 85,
		SoftOpenCeiling:    75,
		AllowFenced:        true,
	}
}

// Validator parses raw model text into a ClassificationResult.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a Validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate parses raw and checks it against the result schema and domain
// invariants. Checks are returned in the order they ran, including the
// first failing one; the error is a *ValidationFailure.
func (v *Validator) Validate(raw string, attempt int) (model.ClassificationResult, []model.ValidationCheck, error) {
	var checks []model.ValidationCheck
	pass := func(name, detail string) {
		checks = append(checks, model.ValidationCheck{Name: name, Passed: true, Detail: detail, Attempt: attempt})
	}
	fail := func(name, detail string) (model.ClassificationResult, []model.ValidationCheck, error) {
		checks = append(checks, model.ValidationCheck{Name: name, Passed: false, Detail: detail, Attempt: attempt})
		return model.ClassificationResult{}, checks, &ValidationFailure{Check: name, Detail: detail}
	}

	body := strings.TrimSpace(raw)
	if body == "" {
		return fail(CheckNonEmpty, "response is empty")
	}
	pass(CheckNonEmpty, "")

	if v.cfg.AllowFenced {
		if inner, ok := stripFence(body); ok {
			body = inner
			pass(CheckFence, "removed markdown code fence")
		}
	}

	fields, err := decodeObject(body)
	if err != nil {
		return fail(CheckJSONObject, err.Error())
	}
	pass(CheckJSONObject, "")

	var missing []string
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fail(CheckRequiredFields, "missing "+strings.Join(missing, ", "))
	}
	pass(CheckRequiredFields, "")

	if unknown := unknownFields(fields); len(unknown) > 0 {
		return fail(CheckUnknownFields, "unexpected "+strings.Join(unknown, ", "))
	}
	pass(CheckUnknownFields, "")

	res, confidence, err := decodeFields(fields)
	if err != nil {
		return fail(CheckFieldTypes, err.Error())
	}
	pass(CheckFieldTypes, "")

	if !res.Classification.Valid() {
		return fail(CheckClassification, fmt.Sprintf("%q is not one of CLOSED, SOFT_OPEN, CONTESTABLE", res.Classification))
	}
	pass(CheckClassification, "")

	if confidence != math.Trunc(confidence) {
		return fail(CheckConfidence, fmt.Sprintf("confidence %v is not an integer", confidence))
	}
	if confidence < 0 || confidence > 100 {
		return fail(CheckConfidence, fmt.Sprintf("confidence %v outside [0,100]", confidence))
	}
	res.Confidence = int(confidence)
	pass(CheckConfidence, "")

	if !res.TradeRelevant && res.Classification != model.ClassificationClosed {
		return fail(CheckTradeRelevance, fmt.Sprintf("trade_relevant=false requires CLOSED, got %s", res.Classification))
	}
	pass(CheckTradeRelevance, "")

	if ceiling := v.ceiling(res.Classification); ceiling > 0 && res.Confidence > ceiling {
		return fail(CheckConfidenceLimit, fmt.Sprintf("%s confidence %d exceeds %d", res.Classification, res.Confidence, ceiling))
	}
	pass(CheckConfidenceLimit, "")

	return res, checks, nil
}

func (v *Validator) ceiling(c model.Classification) int {
	switch c {
	case model.ClassificationContestable:
		return v.cfg.ContestableCeiling
	case model.ClassificationSoftOpen:
		return v.cfg.SoftOpenCeiling
	default:
		return 0
	}
}

// stripFence unwraps a response that is exactly one markdown code block.
// An unterminated fence is left alone so it fails JSON parsing.
func stripFence(body string) (string, bool) {
	if !strings.HasPrefix(body, "```") || !strings.HasSuffix(body, "```") || len(body) < 6 {
		return "", false
	}
	inner := strings.TrimSuffix(body[3:], "```")
	// Drop the info string (for example "json") on the opening line.
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		info := strings.TrimSpace(inner[:nl])
		if info == "" || strings.EqualFold(info, "json") {
			inner = inner[nl+1:]
		}
	} else if strings.HasPrefix(strings.ToLower(inner), "json") {
		inner = inner[4:]
	}
	return strings.TrimSpace(inner), true
}

// decodeObject decodes exactly one JSON object with nothing after it.
// A field may appear only once.
func decodeObject(body string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return nil, objectError(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, eris.New("response is not a JSON object")
	}

	fields := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, objectError(err)
		}
		name, _ := tok.(string)
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, objectError(err)
		}
		if _, dup := fields[name]; dup {
			return nil, eris.Errorf("duplicate field %q", name)
		}
		fields[name] = val
	}
	// Closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, objectError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, eris.New("unexpected content after JSON object")
	}
	return fields, nil
}

func objectError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return eris.New("response is truncated")
	}
	return eris.Errorf("response is not a JSON object: %v", err)
}

func unknownFields(fields map[string]json.RawMessage) []string {
	known := make(map[string]bool, len(requiredFields))
	for _, name := range requiredFields {
		known[name] = true
	}
	var unknown []string
	for name := range fields {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// decodeFields decodes each field with its declared type. Confidence is
// returned as a float so integral values like 85.0 are accepted.
func decodeFields(fields map[string]json.RawMessage) (model.ClassificationResult, float64, error) {
	var res model.ClassificationResult
	var classification string
	targets := []struct {
		name string
		dst  any
	}{
		{"trade_relevant", &res.TradeRelevant},
		{"classification", &classification},
		{"reasoning", &res.Reasoning},
		{"risk_note", &res.RiskNote},
		{"recommended_action", &res.RecommendedAction},
	}
	for _, t := range targets {
		raw := fields[t.name]
		if strings.TrimSpace(string(raw)) == "null" {
			return res, 0, eris.Errorf("%s: must not be null", t.name)
		}
		if err := json.Unmarshal(raw, t.dst); err != nil {
			return res, 0, eris.Errorf("%s: wrong type", t.name)
		}
	}
	res.Classification = model.Classification(classification)

	rawConf := strings.TrimSpace(string(fields["confidence"]))
	if rawConf == "" || rawConf[0] == '"' || rawConf == "null" {
		return res, 0, eris.New("confidence: must be a number")
	}
	var n json.Number
	if err := json.Unmarshal([]byte(rawConf), &n); err != nil {
		return res, 0, eris.New("confidence: must be a number")
	}
	f, err := n.Float64()
	if err != nil {
		return res, 0, eris.New("confidence: must be a number")
	}
	return res, f, nil
}
