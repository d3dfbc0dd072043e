package db

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS challenges (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    max_daily_loss_pct REAL NOT NULL,
    max_total_loss_pct REAL NOT NULL,
    min_trading_days INTEGER DEFAULT 0,
    consistency_threshold REAL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    challenge_id TEXT NOT NULL,
    initial_balance REAL NOT NULL,
    balance REAL NOT NULL,
    equity REAL NOT NULL,
    profit_target REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    monitoring_status TEXT NOT NULL DEFAULT 'inactive',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(challenge_id) REFERENCES challenges(id)
);

CREATE TABLE IF NOT EXISTS metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    balance REAL NOT NULL,
    equity REAL NOT NULL,
    profit REAL NOT NULL,
    unrealized_profit REAL NOT NULL,
    daily_drawdown_pct REAL NOT NULL,
    max_drawdown_pct REAL NOT NULL,
    trading_days INTEGER NOT NULL,
    consistency_score REAL NOT NULL,
    target_reached INTEGER NOT NULL,
    total_trades INTEGER NOT NULL,
    recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS violations (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    rule TEXT NOT NULL,
    value REAL NOT NULL,
    threshold REAL NOT NULL,
    severity TEXT NOT NULL,
    message TEXT,
    detected_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metrics_account_time ON metrics(account_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_violations_account_time ON violations(account_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_accounts_resume ON accounts(status, monitoring_status);
`

// ApplyMigrations ensures tables exist. Columns added after the first release
// are patched onto older databases.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}

	if err := ensureColumn(d.DB, "accounts", "failure_reason", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "metrics", "margin_level", "REAL DEFAULT 0"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return errors.Wrapf(err, "alter table %s add column %s", table, column)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, errors.Wrapf(err, "pragma table_info(%s)", table)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
