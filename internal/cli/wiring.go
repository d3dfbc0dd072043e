package cli

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"challenge-core/internal/challenge"
	"challenge-core/internal/monitor"
	"challenge-core/internal/provider"
	"challenge-core/internal/risk"
	"challenge-core/pkg/config"
	"challenge-core/pkg/db"
)

func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	store, err := db.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// buildProvider returns the configured data provider. The simulated one
// serves every stored account from its cached balances.
func buildProvider(cfg *config.Config, store db.Store, log *zap.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case "rest":
		return provider.NewREST(provider.RESTConfig{
			BaseURL: cfg.ProviderURL,
			Token:   cfg.ProviderToken,
			RPS:     cfg.ProviderRPS,
			Timeout: cfg.ProviderCallTimeout,
		}, log), nil
	case "sim":
		opts := []provider.SimOption{
			provider.WithLoader(func(ctx context.Context, accountID string) (challenge.AccountInfo, error) {
				acc, err := store.GetAccount(ctx, accountID)
				if err != nil {
					return challenge.AccountInfo{}, err
				}
				return challenge.AccountInfo{Balance: acc.Balance, Equity: acc.Equity, Profit: acc.Balance - acc.InitialBalance}, nil
			}),
		}
		if cfg.SimWalkStep > 0 {
			opts = append(opts, provider.WithRandomWalk(time.Now().UnixNano(), cfg.SimWalkStep))
		}
		log.Info("using simulated provider", zap.Float64("walk_step", cfg.SimWalkStep))
		return provider.NewSim(opts...), nil
	default:
		return nil, errors.Errorf("unknown provider %q", cfg.Provider)
	}
}

func buildEvaluator(cfg *config.Config) (*risk.Evaluator, error) {
	policies, err := risk.LoadPolicies(cfg.PolicyFile, cfg.Location())
	if err != nil {
		return nil, err
	}
	return risk.NewEvaluator(policies...), nil
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		PollInterval:    cfg.PollInterval,
		ConnectTimeout:  cfg.ProviderConnectTimeout,
		CallTimeout:     cfg.ProviderCallTimeout,
		Location:        cfg.Location(),
		RulesTTL:        cfg.RulesCacheTTL,
		WarningCooldown: cfg.WarningNotifyCooldown,
	}
}
