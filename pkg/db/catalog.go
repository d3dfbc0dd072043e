package db

import (
	"context"
	"database/sql"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"challenge-core/internal/challenge"
)

// Catalog is the YAML file listing challenge types and, optionally, accounts
// to seed.
type Catalog struct {
	Challenges []challenge.Rules `yaml:"challenges"`
	Accounts   []CatalogAccount  `yaml:"accounts"`
}

// CatalogAccount seeds one account at its initial balance.
type CatalogAccount struct {
	ID             string  `yaml:"id"`
	UserID         string  `yaml:"user_id"`
	ChallengeID    string  `yaml:"challenge_id"`
	InitialBalance float64 `yaml:"initial_balance"`
	ProfitTarget   float64 `yaml:"profit_target"`
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "parse catalog %s", path)
	}
	for _, r := range c.Challenges {
		if r.ChallengeID == "" {
			return nil, errors.Errorf("catalog %s: challenge without id", path)
		}
		if r.MaxDailyLossPct <= 0 || r.MaxTotalLossPct <= 0 {
			return nil, errors.Errorf("catalog %s: challenge %s needs positive loss limits", path, r.ChallengeID)
		}
	}
	return &c, nil
}

// Seed upserts every challenge of the catalog, then inserts accounts that do
// not exist yet. Existing accounts keep their state.
func (d *Database) Seed(ctx context.Context, c *Catalog) error {
	if err := syncChallenges(ctx, d.DB, c.Challenges); err != nil {
		return err
	}
	for _, a := range c.Accounts {
		_, err := d.DB.ExecContext(ctx, `
			INSERT INTO accounts (id, user_id, challenge_id, initial_balance, balance, equity, profit_target)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, a.ID, a.UserID, a.ChallengeID, a.InitialBalance, a.InitialBalance, a.InitialBalance, a.ProfitTarget)
		if err != nil {
			return storeErr(err, "seed account "+a.ID)
		}
	}
	return nil
}

func syncChallenges(ctx context.Context, db *sql.DB, rules []challenge.Rules) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO challenges (id, name, max_daily_loss_pct, max_total_loss_pct, min_trading_days,
			consistency_threshold, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			max_daily_loss_pct = excluded.max_daily_loss_pct,
			max_total_loss_pct = excluded.max_total_loss_pct,
			min_trading_days = excluded.min_trading_days,
			consistency_threshold = excluded.consistency_threshold,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return storeErr(err, "prepare challenge upsert")
	}
	defer stmt.Close()

	for _, r := range rules {
		if _, err := stmt.ExecContext(ctx, r.ChallengeID, r.Name, r.MaxDailyLossPct, r.MaxTotalLossPct,
			r.MinTradingDays, r.ConsistencyThreshold); err != nil {
			return storeErr(err, "upsert challenge "+r.ChallengeID)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err, "commit challenges")
	}
	return nil
}
