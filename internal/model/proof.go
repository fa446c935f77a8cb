package model

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// CacheStatus records how the result cache behaved for one classification.
type CacheStatus string

// CacheStatus constants.
const (
	CacheStatusHit         CacheStatus = "hit"
	CacheStatusMiss        CacheStatus = "miss"
	CacheStatusStored      CacheStatus = "stored"
	CacheStatusReadFailed  CacheStatus = "read_failed"
	CacheStatusWriteFailed CacheStatus = "write_failed"
	CacheStatusDisabled    CacheStatus = "disabled"
)

// Downgrade reasons recorded on proofs.
const (
	DowngradeTradeIrrelevant   = "trade_irrelevant"
	DowngradeAmbiguousLanguage = "ambiguous_language"
)

// ValidationCheck is one named check performed while producing a decision.
// Attempt is 0 for checks that are not tied to a model call.
type ValidationCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Detail  string `json:"detail,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// DecisionProof is the audit record for one classification. It is built
// once by the engine and handed to the caller; amendments require a new
// proof. Result is nil when the classification failed.
type DecisionProof struct {
	ID               string                `json:"id"`
	Request          ClassificationRequest `json:"request"`
	Result           *ClassificationResult `json:"result,omitempty"`
	Fingerprint      string                `json:"fingerprint"`
	ValidationChecks []ValidationCheck     `json:"validation_checks"`
	CacheHit         bool                  `json:"cache_hit"`
	CacheStatus      []CacheStatus         `json:"cache_status"`
	CacheErrors      []string              `json:"cache_errors,omitempty"`
	AttemptCount     int                   `json:"attempt_count"`
	LatencyMS        int64                 `json:"latency_ms"`
	CreatedAt        time.Time             `json:"created_at"`
	ModelInfo        string                `json:"model_info"`
	PromptHash       string                `json:"prompt_hash"`
	DowngradeReason  string                `json:"downgrade_reason,omitempty"`
	Error            string                `json:"error,omitempty"`
	Digest           string                `json:"digest"`
}

// Passed reports whether every recorded check passed.
func (p DecisionProof) Passed() bool {
	for _, c := range p.ValidationChecks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// ComputeDigest returns the SHA-256 over the proof's decision content.
// ID, CreatedAt, LatencyMS and Digest are excluded so two proofs of the
// same decision share a digest.
func (p DecisionProof) ComputeDigest() string {
	canonical := struct {
		Request          ClassificationRequest `json:"request"`
		Result           *ClassificationResult `json:"result"`
		Fingerprint      string                `json:"fingerprint"`
		ValidationChecks []ValidationCheck     `json:"validation_checks"`
		CacheHit         bool                  `json:"cache_hit"`
		CacheStatus      []CacheStatus         `json:"cache_status"`
		CacheErrors      []string              `json:"cache_errors"`
		AttemptCount     int                   `json:"attempt_count"`
		ModelInfo        string                `json:"model_info"`
		PromptHash       string                `json:"prompt_hash"`
		DowngradeReason  string                `json:"downgrade_reason"`
		Error            string                `json:"error"`
	}{
		Request:          p.Request,
		Result:           p.Result,
		Fingerprint:      p.Fingerprint,
		ValidationChecks: p.ValidationChecks,
		CacheHit:         p.CacheHit,
		CacheStatus:      p.CacheStatus,
		CacheErrors:      p.CacheErrors,
		AttemptCount:     p.AttemptCount,
		ModelInfo:        p.ModelInfo,
		PromptHash:       p.PromptHash,
		DowngradeReason:  p.DowngradeReason,
		Error:            p.Error,
	}
	// Marshal cannot fail: every field is a plain value.
	b, _ := json.Marshal(canonical)
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

// Verify reports whether the stored digest matches the proof content.
func (p DecisionProof) Verify() bool {
	return p.Digest != "" && p.Digest == p.ComputeDigest()
}
