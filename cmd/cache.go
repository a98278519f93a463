package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage persisted KPI results",
	Long:  "Commands for pruning and clearing cached pipeline results. Requires a sqlite or postgres store.",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired cached results",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		n := env.Cache.PurgeExpired(ctx)
		zap.L().Info("purged expired results", zap.Int("removed", n))
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired result(s).\n", n)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		env.Cache.InvalidateAll(ctx)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
