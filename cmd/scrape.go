package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/toolwatch/internal/scheduler"
)

var scrapeAll bool

var scrapeCmd = &cobra.Command{
	Use:   "scrape [term]",
	Short: "Scrape job postings for a search term",
	Long:  "Runs the scrape-then-analyze pipeline. With a term argument the term is scraped immediately; without one the most overdue term is picked. --all keeps dispatching until nothing is due.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			out, err := env.Scheduler.RunTerm(ctx, args[0])
			if err != nil {
				return err
			}
			printOutcome(out)
			return nil
		}

		for {
			out, err := env.Scheduler.RunNext(ctx)
			if err != nil {
				return err
			}
			if out == nil {
				fmt.Fprintln(os.Stderr, "No search terms due.")
				return nil
			}
			printOutcome(out)
			if !scrapeAll {
				return nil
			}
		}
	},
}

func printOutcome(out *scheduler.Outcome) {
	fmt.Printf("%s: %d scraped, %d new, %d analyzed, %d companies found (run %s)\n",
		out.Term, out.JobsScraped, out.NewJobsAdded, out.JobsAnalyzed, out.CompaniesFound, out.RunID)
}

var analyzeLoop bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Drain the unprocessed posting backlog",
	Long:  "Classifies unprocessed postings in batches. By default drains the backlog once and exits; --loop keeps draining on the configured interval.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if analyzeLoop {
			loopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			env.Analyzer.Loop(loopCtx)
			return nil
		}

		before, err := env.Store.CountUnprocessed(ctx)
		if err != nil {
			return eris.Wrap(err, "count backlog")
		}
		if before == 0 {
			fmt.Fprintln(os.Stderr, "Backlog is empty.")
			return nil
		}

		env.Analyzer.Drain(ctx)

		after, err := env.Store.CountUnprocessed(ctx)
		if err != nil {
			return eris.Wrap(err, "count backlog")
		}
		fmt.Printf("Analyzed %d posting(s), %d remaining.\n", before-after, after)
		return nil
	},
}

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeAll, "all", false, "keep scraping until no terms are due")
	analyzeCmd.Flags().BoolVar(&analyzeLoop, "loop", false, "keep draining on the configured interval")
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(analyzeCmd)
}
