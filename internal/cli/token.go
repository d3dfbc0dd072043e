package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"challenge-core/internal/api"
	"challenge-core/pkg/config"
)

func newTokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := api.IssueToken(args[0], role, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", "", `token role; "admin" reaches every account`)
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
