package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scopesignal/internal/model"
)

func TestValidate_Accepts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want model.ClassificationResult
	}{
		{
			name: "plain object",
			raw:  contestableJSON,
			want: model.ClassificationResult{
				Classification:    model.ClassificationContestable,
				Confidence:        85,
				Reasoning:         "RFP issued with a firm bid date.",
				RiskNote:          "Bid documents not yet reviewed.",
				RecommendedAction: "Download the RFP and price the scope.",
				TradeRelevant:     true,
			},
		},
		{
			name: "integral float confidence",
			raw:  `{"trade_relevant":false,"classification":"CLOSED","confidence":40.0,"reasoning":"Roofing only.","risk_note":"n","recommended_action":"a"}`,
			want: model.ClassificationResult{Classification: model.ClassificationClosed, Confidence: 40, Reasoning: "Roofing only.", RiskNote: "n", RecommendedAction: "a"},
		},
		{
			name: "json fence",
			raw:  "```json\n{\"trade_relevant\":true,\"classification\":\"SOFT_OPEN\",\"confidence\":60,\"reasoning\":\"r\",\"risk_note\":\"n\",\"recommended_action\":\"a\"}\n```",
			want: model.ClassificationResult{Classification: model.ClassificationSoftOpen, Confidence: 60, Reasoning: "r", RiskNote: "n", RecommendedAction: "a", TradeRelevant: true},
		},
		{
			name: "bare fence with whitespace",
			raw:  "  ```\n{\"trade_relevant\":true,\"classification\":\"CLOSED\",\"confidence\":0,\"reasoning\":\"r\",\"risk_note\":\"n\",\"recommended_action\":\"a\"}\n```  ",
			want: model.ClassificationResult{Classification: model.ClassificationClosed, Confidence: 0, Reasoning: "r", RiskNote: "n", RecommendedAction: "a", TradeRelevant: true},
		},
	}

	v := NewValidator(DefaultValidatorConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, checks, err := v.Validate(tt.raw, 2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.NotEmpty(t, checks)
			for _, c := range checks {
				assert.True(t, c.Passed, c.Name)
				assert.Equal(t, 2, c.Attempt)
			}
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantCheck string
	}{
		{"empty", "   ", CheckNonEmpty},
		{"leading prose", "Here you go: " + contestableJSON, CheckJSONObject},
		{"trailing prose", contestableJSON + " Let me know!", CheckJSONObject},
		{"two objects", contestableJSON + contestableJSON, CheckJSONObject},
		{"truncated", `{"trade_relevant":true,"classification":"CONTEST`, CheckJSONObject},
		{"array", `[1,2]`, CheckJSONObject},
		{"null", `null`, CheckJSONObject},
		{"unterminated fence", "```json\n" + contestableJSON, CheckJSONObject},
		{"duplicate confidence", `{"trade_relevant":true,"classification":"CLOSED","confidence":50,"confidence":99,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckJSONObject},
		{"truncated after key", `{"trade_relevant":true,"classification":`, CheckJSONObject},
		{"missing field", `{"trade_relevant":true,"classification":"CLOSED","confidence":10,"reasoning":"r","risk_note":"n"}`, CheckRequiredFields},
		{"unknown field", `{"trade_relevant":true,"classification":"CLOSED","confidence":10,"reasoning":"r","risk_note":"n","recommended_action":"a","agency":"SCA"}`, CheckUnknownFields},
		{"string confidence", `{"trade_relevant":true,"classification":"CLOSED","confidence":"10","reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckFieldTypes},
		{"null reasoning", `{"trade_relevant":true,"classification":"CLOSED","confidence":10,"reasoning":null,"risk_note":"n","recommended_action":"a"}`, CheckFieldTypes},
		{"string trade_relevant", `{"trade_relevant":"yes","classification":"CLOSED","confidence":10,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckFieldTypes},
		{"lowercase classification", `{"trade_relevant":true,"classification":"closed","confidence":10,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckClassification},
		{"typo classification", `{"trade_relevant":true,"classification":"CONTSTABLE","confidence":10,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckClassification},
		{"fractional confidence", `{"trade_relevant":true,"classification":"CLOSED","confidence":10.5,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckConfidence},
		{"negative confidence", `{"trade_relevant":true,"classification":"CLOSED","confidence":-1,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckConfidence},
		{"confidence over 100", `{"trade_relevant":true,"classification":"CLOSED","confidence":101,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckConfidence},
		{"irrelevant but open", `{"trade_relevant":false,"classification":"SOFT_OPEN","confidence":50,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckTradeRelevance},
		{"contestable ceiling", `{"trade_relevant":true,"classification":"CONTESTABLE","confidence":86,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckConfidenceLimit},
		{"soft open ceiling", `{"trade_relevant":true,"classification":"SOFT_OPEN","confidence":76,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, CheckConfidenceLimit},
	}

	v := NewValidator(DefaultValidatorConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, checks, err := v.Validate(tt.raw, 1)
			var vf *ValidationFailure
			require.ErrorAs(t, err, &vf)
			assert.Equal(t, tt.wantCheck, vf.Check)

			require.NotEmpty(t, checks)
			last := checks[len(checks)-1]
			assert.Equal(t, tt.wantCheck, last.Name)
			assert.False(t, last.Passed)
			assert.NotEmpty(t, last.Detail)
		})
	}
}

func TestValidate_DuplicateFieldNamed(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	_, _, err := v.Validate(`{"trade_relevant":true,"classification":"CLOSED","confidence":50,"confidence":99,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, 1)
	var vf *ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Contains(t, vf.Detail, `duplicate field "confidence"`)
}

func TestValidate_FenceDisabled(t *testing.T) {
	v := NewValidator(ValidatorConfig{ContestableCeiling: 85, SoftOpenCeiling: 75})
	_, _, err := v.Validate("```json\n"+contestableJSON+"\n```", 1)
	var vf *ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, CheckJSONObject, vf.Check)
}

func TestValidate_CeilingsDisabled(t *testing.T) {
	v := NewValidator(ValidatorConfig{})
	got, _, err := v.Validate(`{"trade_relevant":true,"classification":"CONTESTABLE","confidence":100,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Confidence)
}

func TestValidate_ResultsSatisfyModelInvariants(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	for _, raw := range []string{contestableJSON, closedJSON} {
		got, _, err := v.Validate(raw, 1)
		require.NoError(t, err)
		assert.NoError(t, got.Validate())
	}
}
