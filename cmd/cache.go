package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry counts and ages",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		store, err := initCache(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		st, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), "", st)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheRemoval(cmd, "clear")
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired cached results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheRemoval(cmd, "purge")
	},
}

func runCacheRemoval(cmd *cobra.Command, op string) error {
	ctx := cmd.Context()
	if err := cfg.Validate("cache"); err != nil {
		return err
	}
	store, err := initCache(ctx)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	remove := store.Purge
	if op == "clear" {
		remove = store.Clear
	}
	n, err := remove(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("cache "+op, zap.Int("removed", n))
	return writeOutput(cmd.OutOrStdout(), "", map[string]int{"removed": n})
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
