package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/scopesignal/internal/compliance"
	"github.com/sells-group/scopesignal/internal/model"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score bid feasibility for a classification",
	Long: `Score bid feasibility for an already classified opportunity.

The classification comes from --result (a JSON file holding a
classification result, as printed by classify) or from the
--classification/--confidence flags. No model call is made.

Examples:
  score --classification CONTESTABLE --confidence 82 --trade Electrical --agency SCA --profile profile.yaml
  score --result result.json --trade Plumbing --profile profile.yaml --as-of 2026-03-01`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("result", "", "classification result JSON file")
	f.String("classification", "", "classification: CLOSED, SOFT_OPEN or CONTESTABLE")
	f.Int("confidence", 0, "classification confidence 0-100")
	f.Bool("trade-relevant", true, "whether the update is relevant to the trade")
	f.String("trade", "", "trade: Electrical, HVAC or Plumbing")
	f.String("agency", "", "issuing agency (default from config)")
	f.String("profile", "", "compliance profile file (YAML or JSON)")
	f.String("as-of", "", "evaluate license expiry as of this date (YYYY-MM-DD, default today)")
	f.String("output", "", "write JSON to this file instead of stdout")
	_ = scoreCmd.MarkFlagRequired("trade")
	_ = scoreCmd.MarkFlagRequired("profile")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	if err := cfg.Validate("score"); err != nil {
		return err
	}

	tradeName, _ := f.GetString("trade")
	trade, err := model.ParseTrade(tradeName)
	if err != nil {
		return err
	}

	res, err := scoreResult(cmd)
	if err != nil {
		return err
	}

	profilePath, _ := f.GetString("profile")
	profile, err := loadProfile(profilePath)
	if err != nil {
		return err
	}

	req := compliance.Request{Result: res, Trade: trade, Profile: *profile}
	req.Agency, _ = f.GetString("agency")
	if asOf, _ := f.GetString("as-of"); asOf != "" {
		req.AsOf, err = time.Parse(time.DateOnly, asOf)
		if err != nil {
			return eris.Wrapf(err, "parse --as-of %q", asOf)
		}
	}

	scorer, err := initScorer()
	if err != nil {
		return err
	}
	output, _ := f.GetString("output")
	return writeOutput(cmd.OutOrStdout(), output, scorer.Score(req))
}

func scoreResult(cmd *cobra.Command) (model.ClassificationResult, error) {
	f := cmd.Flags()
	var res model.ClassificationResult

	if path, _ := f.GetString("result"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return res, eris.Wrapf(err, "read result %s", path)
		}
		// Accept a bare result or the classify command's output.
		var wrapped struct {
			Result *model.ClassificationResult `json:"result"`
		}
		if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Result != nil {
			res = *wrapped.Result
		} else if err := json.Unmarshal(data, &res); err != nil {
			return res, eris.Wrapf(err, "parse result %s", path)
		}
	} else {
		class, _ := f.GetString("classification")
		res.Classification = model.Classification(class)
		res.Confidence, _ = f.GetInt("confidence")
		res.TradeRelevant, _ = f.GetBool("trade-relevant")
	}

	if err := res.Validate(); err != nil {
		return res, eris.Wrap(err, "invalid classification result")
	}
	return res, nil
}
