package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"challenge-core/internal/challenge"
)

// DefaultListLimit caps history reads when the caller passes no limit.
const DefaultListLimit = 100

func storeErr(err error, op string) error {
	return errors.Wrapf(challenge.ErrPersistence, "%s: %v", op, err)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// GetAccount loads one account.
func (d *Database) GetAccount(ctx context.Context, id string) (challenge.Account, error) {
	var a challenge.Account
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, challenge_id, initial_balance, balance, equity, profit_target,
		       status, monitoring_status, COALESCE(failure_reason, ''), updated_at
		FROM accounts
		WHERE id = ?
	`, id).Scan(&a.ID, &a.UserID, &a.ChallengeID, &a.InitialBalance, &a.Balance, &a.Equity,
		&a.ProfitTarget, &a.Status, &a.MonitoringStatus, &a.FailureReason, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.Account{}, errors.Wrapf(challenge.ErrNotFound, "account %s", id)
	}
	if err != nil {
		return challenge.Account{}, storeErr(err, "get account "+id)
	}
	return a, nil
}

// GetRules loads the thresholds of a challenge type.
func (d *Database) GetRules(ctx context.Context, challengeID string) (challenge.Rules, error) {
	var r challenge.Rules
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, name, max_daily_loss_pct, max_total_loss_pct,
		       COALESCE(min_trading_days, 0), COALESCE(consistency_threshold, 0)
		FROM challenges
		WHERE id = ?
	`, challengeID).Scan(&r.ChallengeID, &r.Name, &r.MaxDailyLossPct, &r.MaxTotalLossPct,
		&r.MinTradingDays, &r.ConsistencyThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.Rules{}, errors.Wrapf(challenge.ErrNotFound, "challenge %s", challengeID)
	}
	if err != nil {
		return challenge.Rules{}, storeErr(err, "get rules "+challengeID)
	}
	return r, nil
}

// ListResumableAccounts returns active accounts that were being monitored.
func (d *Database) ListResumableAccounts(ctx context.Context) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id FROM accounts
		WHERE status = ? AND monitoring_status = ?
		ORDER BY id
	`, challenge.StatusActive, challenge.MonitoringActive)
	if err != nil {
		return nil, storeErr(err, "list resumable accounts")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr(err, "scan account id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *Database) SetMonitoringStatus(ctx context.Context, id string, status challenge.MonitoringStatus) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE accounts SET monitoring_status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), id)
	if err != nil {
		return storeErr(err, "set monitoring status "+id)
	}
	return nil
}

func (d *Database) UpdateBalances(ctx context.Context, id string, balance, equity float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE accounts SET balance = ?, equity = ?, updated_at = ? WHERE id = ?
	`, balance, equity, time.Now().UTC(), id)
	if err != nil {
		return storeErr(err, "update balances "+id)
	}
	return nil
}

func (d *Database) AppendMetrics(ctx context.Context, rec challenge.MetricsRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO metrics (account_id, balance, equity, profit, unrealized_profit, margin_level,
			daily_drawdown_pct, max_drawdown_pct, trading_days, consistency_score,
			target_reached, total_trades, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.AccountID, rec.Balance, rec.Equity, rec.Profit, rec.UnrealizedProfit, rec.MarginLevel,
		rec.DailyDrawdownPct, rec.MaxDrawdownPct, rec.TradingDays, rec.ConsistencyScore,
		rec.TargetReached, rec.TotalTrades, rec.Timestamp.UTC())
	if err != nil {
		return storeErr(err, "append metrics "+rec.AccountID)
	}
	return nil
}

func (d *Database) AppendViolation(ctx context.Context, v challenge.Violation) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO violations (id, account_id, rule, value, threshold, severity, message, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.AccountID, v.Rule, v.Value, v.Threshold, v.Severity, v.Message, v.Timestamp.UTC())
	if err != nil {
		return storeErr(err, "append violation "+v.AccountID)
	}
	return nil
}

// ApplyTransition moves the account to tr.To only while it is still in
// tr.From, so concurrent writers cannot both win.
func (d *Database) ApplyTransition(ctx context.Context, tr challenge.Transition) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE accounts SET status = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, tr.To, transitionReason(tr), time.Now().UTC(), tr.AccountID, tr.From)
	if err != nil {
		return false, storeErr(err, "apply transition "+tr.AccountID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err, "apply transition "+tr.AccountID)
	}
	return n == 1, nil
}

func transitionReason(tr challenge.Transition) string {
	if tr.To == challenge.StatusFailed {
		return tr.Reason
	}
	return ""
}

// ListMetrics returns the newest metrics records of an account first.
func (d *Database) ListMetrics(ctx context.Context, accountID string, limit int) ([]challenge.MetricsRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT account_id, balance, equity, profit, unrealized_profit, COALESCE(margin_level, 0),
		       daily_drawdown_pct, max_drawdown_pct, trading_days, consistency_score,
		       target_reached, total_trades, recorded_at
		FROM metrics
		WHERE account_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, accountID, limitOrDefault(limit))
	if err != nil {
		return nil, storeErr(err, "list metrics "+accountID)
	}
	defer rows.Close()

	var out []challenge.MetricsRecord
	for rows.Next() {
		var m challenge.MetricsRecord
		if err := rows.Scan(&m.AccountID, &m.Balance, &m.Equity, &m.Profit, &m.UnrealizedProfit, &m.MarginLevel,
			&m.DailyDrawdownPct, &m.MaxDrawdownPct, &m.TradingDays, &m.ConsistencyScore,
			&m.TargetReached, &m.TotalTrades, &m.Timestamp); err != nil {
			return nil, storeErr(err, "scan metrics")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListViolations returns the newest violations of an account first.
func (d *Database) ListViolations(ctx context.Context, accountID string, limit int) ([]challenge.Violation, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, rule, value, threshold, severity, COALESCE(message, ''), detected_at
		FROM violations
		WHERE account_id = ?
		ORDER BY detected_at DESC, rowid DESC
		LIMIT ?
	`, accountID, limitOrDefault(limit))
	if err != nil {
		return nil, storeErr(err, "list violations "+accountID)
	}
	defer rows.Close()

	var out []challenge.Violation
	for rows.Next() {
		var v challenge.Violation
		if err := rows.Scan(&v.ID, &v.AccountID, &v.Rule, &v.Value, &v.Threshold, &v.Severity,
			&v.Message, &v.Timestamp); err != nil {
			return nil, storeErr(err, "scan violation")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpsertChallenge creates or replaces a challenge type.
func (d *Database) UpsertChallenge(ctx context.Context, r challenge.Rules) error {
	return syncChallenges(ctx, d.DB, []challenge.Rules{r})
}

// UpsertAccount creates or replaces an account row.
func (d *Database) UpsertAccount(ctx context.Context, a challenge.Account) error {
	if a.Status == "" {
		a.Status = challenge.StatusActive
	}
	if a.MonitoringStatus == "" {
		a.MonitoringStatus = challenge.MonitoringInactive
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, challenge_id, initial_balance, balance, equity, profit_target,
			status, monitoring_status, failure_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			challenge_id = excluded.challenge_id,
			initial_balance = excluded.initial_balance,
			balance = excluded.balance,
			equity = excluded.equity,
			profit_target = excluded.profit_target,
			status = excluded.status,
			monitoring_status = excluded.monitoring_status,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at
	`, a.ID, a.UserID, a.ChallengeID, a.InitialBalance, a.Balance, a.Equity, a.ProfitTarget,
		a.Status, a.MonitoringStatus, a.FailureReason, time.Now().UTC())
	if err != nil {
		return storeErr(err, "upsert account "+a.ID)
	}
	return nil
}
