package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"challenge-core/internal/monitor"
)

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <account-id>",
		Short: "Compute an account's metrics and rule outcome once, without recording anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			prov, err := buildProvider(cfg, store, log)
			if err != nil {
				return err
			}
			eval, err := buildEvaluator(cfg)
			if err != nil {
				return err
			}

			registry := monitor.NewRegistry(monitorConfig(cfg), monitor.Deps{
				Store:     store,
				Provider:  prov,
				Evaluator: eval,
				Logger:    log,
			})
			preview, err := registry.Preview(ctx, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(preview)
		},
	}
}
