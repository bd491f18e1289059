package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/toolwatch/internal/model"
	"github.com/sells-group/toolwatch/internal/store"
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List identified companies",
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

		tool, _ := cmd.Flags().GetString("tool")
		tierFlag, _ := cmd.Flags().GetString("tier")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.CompanyFilter{
			Tool:  model.Tool(tool),
			Tier:  model.Tier(tierFlag),
			Limit: limit,
		}
		if cmd.Flags().Changed("exported") {
			exported, _ := cmd.Flags().GetBool("exported")
			filter.LeadGenerated = &exported
		}

		companies, err := st.ListCompanies(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list companies")
		}
		if len(companies) == 0 {
			fmt.Fprintln(os.Stderr, "No companies found.")
			return nil
		}

		formatCompanies(os.Stdout, companies)
		return nil
	},
}

func formatCompanies(w io.Writer, companies []model.IdentifiedCompany) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMPANY\tTOOL\tSIGNAL\tTIER\tIDENTIFIED\tLEAD")
	for _, c := range companies {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%t\n",
			c.ID, c.Company, c.ToolDetected, c.SignalType, c.Tier,
			c.IdentifiedAt.Format("2006-01-02"), c.LeadGenerated)
	}
	tw.Flush()
}

func init() {
	companiesCmd.Flags().String("tool", "", "filter by detected tool (outreach, salesloft, both)")
	companiesCmd.Flags().String("tier", "", "filter by tier (tier1, tier2)")
	companiesCmd.Flags().Bool("exported", false, "filter by lead export state")
	companiesCmd.Flags().Int("limit", 100, "maximum rows")
	rootCmd.AddCommand(companiesCmd)
}
