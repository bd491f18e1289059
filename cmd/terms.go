package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/toolwatch/internal/model"
)

var termsCmd = &cobra.Command{
	Use:   "terms",
	Short: "Manage the search term registry",
}

var termsAddCmd = &cobra.Command{
	Use:   "add <term>",
	Short: "Add a search term",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		priority, _ := cmd.Flags().GetInt("priority")
		term, err := st.CreateTerm(ctx, args[0], priority)
		if err != nil {
			return eris.Wrap(err, "add term")
		}
		fmt.Printf("Added term %q (id %d, priority %d)\n", term.Term, term.ID, term.Priority)
		return nil
	},
}

var termsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List search terms",
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

		activeOnly, _ := cmd.Flags().GetBool("active")
		terms, err := st.ListTerms(ctx, activeOnly)
		if err != nil {
			return eris.Wrap(err, "list terms")
		}
		if len(terms) == 0 {
			fmt.Fprintln(os.Stderr, "No terms found.")
			return nil
		}

		formatTerms(os.Stdout, terms)
		return nil
	},
}

func formatTerms(w io.Writer, terms []model.SearchTerm) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTERM\tACTIVE\tPRIORITY\tLAST SCRAPED\tJOBS FOUND")
	for _, t := range terms {
		last := "never"
		if t.LastScrapedAt != nil {
			last = t.LastScrapedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%d\t%s\t%d\n",
			t.ID, t.Term, t.IsActive, t.Priority, last, t.JobsFoundCount)
	}
	tw.Flush()
}

func setTermActive(cmd *cobra.Command, name string, active bool) error {
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	term, err := st.GetTerm(ctx, name)
	if err != nil {
		return eris.Wrap(err, "get term")
	}
	if term == nil {
		return eris.Errorf("unknown term %q", name)
	}
	if err := st.SetTermActive(ctx, term.ID, active); err != nil {
		return eris.Wrap(err, "set term active")
	}

	state := "deactivated"
	if active {
		state = "activated"
	}
	fmt.Printf("Term %q %s.\n", name, state)
	return nil
}

var termsActivateCmd = &cobra.Command{
	Use:   "activate <term>",
	Short: "Activate a search term",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTermActive(cmd, args[0], true)
	},
}

var termsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <term>",
	Short: "Deactivate a search term without deleting its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTermActive(cmd, args[0], false)
	},
}

func init() {
	termsAddCmd.Flags().Int("priority", 0, "dispatch priority (higher first)")
	termsListCmd.Flags().Bool("active", false, "only active terms")
	termsCmd.AddCommand(termsAddCmd, termsListCmd, termsActivateCmd, termsDeactivateCmd)
	rootCmd.AddCommand(termsCmd)
}
