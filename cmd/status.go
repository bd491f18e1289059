package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/toolwatch/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		collector := monitoring.NewCollector(st, monitoringThresholds(), cfg.Pipeline.StalenessWindow())
		snap, err := collector.Status(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show activity metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		days, _ := cmd.Flags().GetInt("days")
		collector := monitoring.NewCollector(st, monitoringThresholds(), cfg.Pipeline.StalenessWindow())
		snap, err := collector.Metrics(ctx, days)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	metricsCmd.Flags().Int("days", 7, "trailing window in days")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(metricsCmd)
}
