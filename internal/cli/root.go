// Package cli holds the cobra commands of the challenge-core binary.
package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"challenge-core/pkg/config"
	"challenge-core/pkg/logger"
)

// Version is stamped at build time.
var Version = "dev"

// NewRoot builds the command tree. Running the root without a subcommand
// serves.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "challenge-core",
		Short:         "Funded-account challenge monitoring service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newEvaluateCmd(),
		newTokenCmd(),
		newCheckCmd(),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRoot().ExecuteContext(ctx)
}

// setup loads configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
