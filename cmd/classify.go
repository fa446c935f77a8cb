package main

import (
	"errors"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/scopesignal/internal/classify"
	"github.com/sells-group/scopesignal/internal/compliance"
	"github.com/sells-group/scopesignal/internal/model"
)

var (
	classifyText        string
	classifyTrade       string
	classifyAgency      string
	classifyProfilePath string
	classifyOutput      string
)

type classifyOutcome struct {
	Result      *model.ClassificationResult `json:"result,omitempty"`
	Proof       model.DecisionProof         `json:"proof"`
	Feasibility *model.FeasibilityResult    `json:"feasibility,omitempty"`
	Error       string                      `json:"error,omitempty"`
	Attempts    int                         `json:"attempts,omitempty"`
	LastReason  string                      `json:"last_reason,omitempty"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify one project update for a trade",
	Long: `Classify one project update as CLOSED, SOFT_OPEN or CONTESTABLE.

Prints the validated result and its decision proof as JSON. With --profile,
the result is also scored for bid feasibility against the agency's
insurance requirements and the trade's license requirements.

Examples:
  classify --text "RFP issued for electrical upgrades at PS 123" --trade Electrical
  classify --text "..." --trade HVAC --agency SCA --profile profile.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		trade, err := model.ParseTrade(classifyTrade)
		if err != nil {
			return err
		}

		var profile *model.ComplianceProfile
		if classifyProfilePath != "" {
			profile, err = loadProfile(classifyProfilePath)
			if err != nil {
				return err
			}
		}

		env, err := initEnv(ctx, "classify")
		if err != nil {
			return err
		}
		defer env.Close()

		req := model.ClassificationRequest{Text: classifyText, Trade: trade, Agency: classifyAgency}
		res, proof, err := env.Engine.Classify(ctx, req)
		if err != nil {
			var ce *classify.ClassificationError
			if errors.As(err, &ce) {
				out := classifyOutcome{
					Proof:      ce.Proof,
					Error:      ce.Error(),
					Attempts:   ce.Attempts,
					LastReason: ce.LastReason,
				}
				if werr := writeOutput(cmd.OutOrStdout(), classifyOutput, out); werr != nil {
					zap.L().Warn("write failure proof", zap.Error(werr))
				}
			}
			return eris.Wrap(err, "classify")
		}

		out := classifyOutcome{Result: &res, Proof: proof}
		if profile != nil {
			f := env.Scorer.Score(compliance.Request{
				Result:  res,
				Trade:   trade,
				Agency:  classifyAgency,
				Profile: *profile,
			})
			out.Feasibility = &f
		}
		return writeOutput(cmd.OutOrStdout(), classifyOutput, out)
	},
}

func init() {
	f := classifyCmd.Flags()
	f.StringVar(&classifyText, "text", "", "project update text")
	f.StringVar(&classifyTrade, "trade", "", "trade: Electrical, HVAC or Plumbing")
	f.StringVar(&classifyAgency, "agency", "", "issuing agency (e.g. SCA, DDC)")
	f.StringVar(&classifyProfilePath, "profile", "", "compliance profile file (YAML or JSON)")
	f.StringVar(&classifyOutput, "output", "", "write JSON to this file instead of stdout")
	_ = classifyCmd.MarkFlagRequired("text")
	_ = classifyCmd.MarkFlagRequired("trade")
	rootCmd.AddCommand(classifyCmd)
}
