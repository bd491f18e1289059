package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/toolwatch/internal/leads"
	"github.com/sells-group/toolwatch/internal/ledger"
	sfpkg "github.com/sells-group/toolwatch/pkg/salesforce"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Export identified companies to Salesforce",
}

var leadsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Push unexported tier-one companies to Salesforce as leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("leads"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		sf, err := sfpkg.Connect(
			cfg.Salesforce.LoginURL,
			cfg.Salesforce.ClientID,
			cfg.Salesforce.Username,
			cfg.Salesforce.KeyPath,
			sfpkg.WithRateLimit(cfg.Salesforce.RateLimit),
		)
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		exporter := leads.New(st, sf, ledger.New(st))
		stats, err := exporter.Export(ctx, limit)
		if err != nil {
			return err
		}

		fmt.Printf("Exported %d lead(s), %d failed.\n", stats.Exported, stats.Failed)
		return nil
	},
}

func init() {
	leadsExportCmd.Flags().Int("limit", 200, "maximum companies per pass")
	leadsCmd.AddCommand(leadsExportCmd)
	rootCmd.AddCommand(leadsCmd)
}
