package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"challenge-core/pkg/db"
)

func newMigrateCmd() *cobra.Command {
	var seed string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			log.Info("schema up to date", zap.String("driver", cfg.DBDriver))

			if seed == "" {
				return nil
			}
			catalog, err := db.LoadCatalog(seed)
			if err != nil {
				return err
			}
			if err := store.Seed(ctx, catalog); err != nil {
				return err
			}
			log.Info("catalog seeded",
				zap.String("file", seed),
				zap.Int("challenges", len(catalog.Challenges)),
				zap.Int("accounts", len(catalog.Accounts)),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "YAML catalog of challenges and accounts to upsert")
	return cmd
}
