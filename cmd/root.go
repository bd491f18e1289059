package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/toolwatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "toolwatch",
	Short: "Job-posting pipeline for sales engagement tool detection",
	Long:  "Scrapes job postings by search term, classifies them with Claude for Outreach/SalesLoft mentions, and maintains a deduplicated, tiered registry of companies using those tools.",
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
