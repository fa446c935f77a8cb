package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/scopesignal/internal/evaluate"
	"github.com/sells-group/scopesignal/internal/model"
)

var (
	evalDataset string
	evalOutput  string
	evalFormat  string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Measure classifier accuracy on a labelled dataset",
	Long: `Run every labelled case through the batch runner and report accuracy,
the confusion matrix, per-class precision/recall/F1, macro and weighted F1,
a confidence analysis and the list of mismatches.

The dataset is a JSON array of {"id", "text", "trade",
"expected_classification", "category"} objects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cases, err := evaluate.LoadDataset(evalDataset)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "classify")
		if err != nil {
			return err
		}
		defer env.Close()

		report := evaluate.Run(ctx, env.Runner, cases)
		if evalFormat == "table" && evalOutput == "" {
			return printMetrics(cmd.OutOrStdout(), report.Metrics)
		}
		return writeOutput(cmd.OutOrStdout(), evalOutput, report)
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evalDataset, "dataset", "", "labelled dataset JSON file")
	evaluateCmd.Flags().StringVar(&evalOutput, "output", "", "write the full report as JSON to this file")
	evaluateCmd.Flags().StringVar(&evalFormat, "format", "table", "stdout format: table or json")
	_ = evaluateCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(evaluateCmd)
}

func printMetrics(w io.Writer, m evaluate.Metrics) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	classes := model.AllClassifications()

	fmt.Fprintf(tw, "Cases\t%d\n", m.Total)
	fmt.Fprintf(tw, "Errors\t%d\n", m.Errors)
	fmt.Fprintf(tw, "Accuracy\t%.1f%%\n", m.Accuracy*100)
	fmt.Fprintf(tw, "Macro F1\t%.3f\n", m.MacroF1)
	fmt.Fprintf(tw, "Weighted F1\t%.3f\n", m.WeightedF1)
	fmt.Fprintf(tw, "Cache hit rate\t%.1f%%\n\n", m.CacheHitRate*100)

	fmt.Fprint(tw, "predicted \\ expected")
	for _, c := range classes {
		fmt.Fprintf(tw, "\t%s", c)
	}
	fmt.Fprintln(tw)
	for _, p := range classes {
		fmt.Fprint(tw, p)
		for _, e := range classes {
			fmt.Fprintf(tw, "\t%d", m.ConfusionMatrix[p][e])
		}
		fmt.Fprintln(tw)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "class\tprecision\trecall\tf1\tsupport")
	for _, c := range classes {
		pc := m.PerClass[c]
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%d\n", c, pc.Precision, pc.Recall, pc.F1, pc.Support)
	}
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "confidence\tmean %.1f\tmedian %.1f\n", m.Confidence.Overall.Mean, m.Confidence.Overall.Median)
	fmt.Fprintf(tw, "correct\tmean %.1f\tmedian %.1f\n", m.Confidence.Correct.Mean, m.Confidence.Correct.Median)
	fmt.Fprintf(tw, "incorrect\tmean %.1f\tmedian %.1f\n", m.Confidence.Incorrect.Mean, m.Confidence.Incorrect.Median)

	if len(m.Mismatches) > 0 {
		fmt.Fprintf(tw, "\nmismatches\t%d\n", len(m.Mismatches))
		for _, p := range m.Mismatches {
			fmt.Fprintf(tw, "%s\texpected %s\tgot %s (%d)\n", p.ID, p.Expected, p.Actual, p.Confidence)
		}
	}
	return tw.Flush()
}
