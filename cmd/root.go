package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/scopesignal/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "scopesignal",
	Short: "Construction opportunity classifier and bid feasibility scorer",
	Long:  "Classifies public construction project updates as CLOSED, SOFT_OPEN or CONTESTABLE for a trade via Claude, caches validated verdicts with an audit proof, and scores bid feasibility against agency insurance and trade license requirements.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
