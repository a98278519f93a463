package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-kpi/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "marketing-kpi",
	Short: "Marketing and CRM spreadsheet KPI pipeline",
	Long:  "Ingests ad-spend sheets, lead exports and CRM workbooks with unknown column naming, normalizes them and derives marketing KPIs.",
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
