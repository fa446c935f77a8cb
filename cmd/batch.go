package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/scopesignal/internal/batch"
	"github.com/sells-group/scopesignal/internal/model"
)

var (
	batchInput       string
	batchOutput      string
	batchConcurrency int
)

// batchInputItem is one line of work in a batch input file.
type batchInputItem struct {
	ID      string                   `json:"id"`
	Text    string                   `json:"text"`
	Trade   string                   `json:"trade"`
	Agency  string                   `json:"agency"`
	Profile *model.ComplianceProfile `json:"profile"`
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Classify a file of project updates",
	Long: `Classify every update in a JSON input file concurrently.

The input is an array of {"id", "text", "trade", "agency", "profile"}
objects; "profile" is optional and enables feasibility scoring for that
item. Outcomes are written in input order. A failed item is reported in
place and never stops the batch. Ctrl-C stops dispatching new items.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		items, err := loadBatchItems(batchInput)
		if err != nil {
			return err
		}

		if batchConcurrency > 0 {
			cfg.Batch.MaxConcurrent = batchConcurrency
		}
		env, err := initEnv(ctx, "classify")
		if err != nil {
			return err
		}
		defer env.Close()

		report := env.Runner.Run(ctx, items)
		zap.L().Info("batch complete",
			zap.Int("total", report.Summary.Total),
			zap.Int("succeeded", report.Summary.Succeeded),
			zap.Int("failed", report.Summary.Failed),
			zap.Int("cache_hits", report.Summary.CacheHits),
		)
		return writeOutput(cmd.OutOrStdout(), batchOutput, report)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "JSON file of items to classify")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "write the report to this file instead of stdout")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max concurrent classifications (default from config)")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

// loadBatchItems reads batch input. An unknown trade is kept as given so
// the item fails on its own instead of rejecting the whole file.
func loadBatchItems(path string) ([]batch.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read batch input %s", path)
	}
	var raw []batchInputItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "parse batch input %s", path)
	}
	items := make([]batch.Item, len(raw))
	for i, r := range raw {
		trade, err := model.ParseTrade(r.Trade)
		if err != nil {
			trade = model.Trade(r.Trade)
		}
		items[i] = batch.Item{
			ID:      r.ID,
			Request: model.ClassificationRequest{Text: r.Text, Trade: trade, Agency: r.Agency},
			Profile: r.Profile,
		}
	}
	return items, nil
}
