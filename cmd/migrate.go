package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/toolwatch/internal/tier"
)

var migrateSeedTiers bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Creates or updates the schema. With --seed-tiers, also loads the tier-one reference set from the configured YAML file.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}
		fmt.Println("Migrations applied.")

		if !migrateSeedTiers {
			return nil
		}
		if cfg.Tier.ReferenceFile == "" {
			return eris.New("tier.reference_file is not configured (TOOLWATCH_TIER_REFERENCE_FILE)")
		}

		refs, err := tier.LoadReferencesFromFile(cfg.Tier.ReferenceFile)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if err := st.UpsertTierOneReference(ctx, ref); err != nil {
				return eris.Wrapf(err, "seed tier reference %q", ref.Name)
			}
		}
		fmt.Printf("Seeded %d tier-one reference(s).\n", len(refs))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeedTiers, "seed-tiers", false, "load tier-one references from the configured file")
	rootCmd.AddCommand(migrateCmd)
}
