package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"challenge-core/internal/challenge"
)

// PoolConfig sizes the Postgres connection pool.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
	}
}

// Postgres implements the same store as Database on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string, cfg PoolConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Migrate creates the tables. There is no external migration tool.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`create table if not exists challenges (
			id text primary key,
			name text not null,
			max_daily_loss_pct double precision not null,
			max_total_loss_pct double precision not null,
			min_trading_days int not null default 0,
			consistency_threshold double precision not null default 0,
			updated_at timestamptz not null default now()
		);`,
		`create table if not exists accounts (
			id text primary key,
			user_id text not null,
			challenge_id text not null references challenges(id),
			initial_balance double precision not null,
			balance double precision not null,
			equity double precision not null,
			profit_target double precision not null,
			status text not null default 'active',
			monitoring_status text not null default 'inactive',
			failure_reason text not null default '',
			updated_at timestamptz not null default now()
		);`,
		`create table if not exists metrics (
			id bigserial primary key,
			account_id text not null,
			balance double precision not null,
			equity double precision not null,
			profit double precision not null,
			unrealized_profit double precision not null,
			margin_level double precision not null default 0,
			daily_drawdown_pct double precision not null,
			max_drawdown_pct double precision not null,
			trading_days int not null,
			consistency_score double precision not null,
			target_reached boolean not null,
			total_trades int not null,
			recorded_at timestamptz not null
		);`,
		`create table if not exists violations (
			id text primary key,
			account_id text not null,
			rule text not null,
			value double precision not null,
			threshold double precision not null,
			severity text not null,
			message text not null default '',
			detected_at timestamptz not null
		);`,
		`create index if not exists metrics_account_time_idx on metrics(account_id, recorded_at desc);`,
		`create index if not exists violations_account_time_idx on violations(account_id, detected_at desc);`,
		`create index if not exists accounts_resume_idx on accounts(status, monitoring_status);`,
	}

	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate postgres")
		}
	}
	return nil
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (challenge.Account, error) {
	var a challenge.Account
	var status, monitoring string
	err := p.pool.QueryRow(ctx, `
		select id, user_id, challenge_id, initial_balance, balance, equity, profit_target,
		       status, monitoring_status, failure_reason, updated_at
		from accounts where id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.ChallengeID, &a.InitialBalance, &a.Balance, &a.Equity,
		&a.ProfitTarget, &status, &monitoring, &a.FailureReason, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return challenge.Account{}, errors.Wrapf(challenge.ErrNotFound, "account %s", id)
	}
	if err != nil {
		return challenge.Account{}, storeErr(err, "get account "+id)
	}
	a.Status = challenge.Status(status)
	a.MonitoringStatus = challenge.MonitoringStatus(monitoring)
	return a, nil
}

func (p *Postgres) GetRules(ctx context.Context, challengeID string) (challenge.Rules, error) {
	var r challenge.Rules
	err := p.pool.QueryRow(ctx, `
		select id, name, max_daily_loss_pct, max_total_loss_pct, min_trading_days, consistency_threshold
		from challenges where id = $1
	`, challengeID).Scan(&r.ChallengeID, &r.Name, &r.MaxDailyLossPct, &r.MaxTotalLossPct,
		&r.MinTradingDays, &r.ConsistencyThreshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return challenge.Rules{}, errors.Wrapf(challenge.ErrNotFound, "challenge %s", challengeID)
	}
	if err != nil {
		return challenge.Rules{}, storeErr(err, "get rules "+challengeID)
	}
	return r, nil
}

func (p *Postgres) ListResumableAccounts(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		select id from accounts where status = $1 and monitoring_status = $2 order by id
	`, string(challenge.StatusActive), string(challenge.MonitoringActive))
	if err != nil {
		return nil, storeErr(err, "list resumable accounts")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr(err, "scan account ids")
	}
	return ids, nil
}

func (p *Postgres) SetMonitoringStatus(ctx context.Context, id string, status challenge.MonitoringStatus) error {
	if _, err := p.pool.Exec(ctx, `
		update accounts set monitoring_status = $1, updated_at = now() where id = $2
	`, string(status), id); err != nil {
		return storeErr(err, "set monitoring status "+id)
	}
	return nil
}

func (p *Postgres) UpdateBalances(ctx context.Context, id string, balance, equity float64) error {
	if _, err := p.pool.Exec(ctx, `
		update accounts set balance = $1, equity = $2, updated_at = now() where id = $3
	`, balance, equity, id); err != nil {
		return storeErr(err, "update balances "+id)
	}
	return nil
}

func (p *Postgres) AppendMetrics(ctx context.Context, rec challenge.MetricsRecord) error {
	_, err := p.pool.Exec(ctx, `
		insert into metrics (account_id, balance, equity, profit, unrealized_profit, margin_level,
			daily_drawdown_pct, max_drawdown_pct, trading_days, consistency_score,
			target_reached, total_trades, recorded_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, rec.AccountID, rec.Balance, rec.Equity, rec.Profit, rec.UnrealizedProfit, rec.MarginLevel,
		rec.DailyDrawdownPct, rec.MaxDrawdownPct, rec.TradingDays, rec.ConsistencyScore,
		rec.TargetReached, rec.TotalTrades, rec.Timestamp)
	if err != nil {
		return storeErr(err, "append metrics "+rec.AccountID)
	}
	return nil
}

func (p *Postgres) AppendViolation(ctx context.Context, v challenge.Violation) error {
	_, err := p.pool.Exec(ctx, `
		insert into violations (id, account_id, rule, value, threshold, severity, message, detected_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, v.ID, v.AccountID, v.Rule, v.Value, v.Threshold, string(v.Severity), v.Message, v.Timestamp)
	if err != nil {
		return storeErr(err, "append violation "+v.AccountID)
	}
	return nil
}

func (p *Postgres) ApplyTransition(ctx context.Context, tr challenge.Transition) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		update accounts set status = $1, failure_reason = $2, updated_at = now()
		where id = $3 and status = $4
	`, string(tr.To), transitionReason(tr), tr.AccountID, string(tr.From))
	if err != nil {
		return false, storeErr(err, "apply transition "+tr.AccountID)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ListMetrics(ctx context.Context, accountID string, limit int) ([]challenge.MetricsRecord, error) {
	rows, err := p.pool.Query(ctx, `
		select account_id, balance, equity, profit, unrealized_profit, margin_level,
		       daily_drawdown_pct, max_drawdown_pct, trading_days, consistency_score,
		       target_reached, total_trades, recorded_at
		from metrics where account_id = $1
		order by recorded_at desc, id desc
		limit $2
	`, accountID, limitOrDefault(limit))
	if err != nil {
		return nil, storeErr(err, "list metrics "+accountID)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (challenge.MetricsRecord, error) {
		var m challenge.MetricsRecord
		err := row.Scan(&m.AccountID, &m.Balance, &m.Equity, &m.Profit, &m.UnrealizedProfit, &m.MarginLevel,
			&m.DailyDrawdownPct, &m.MaxDrawdownPct, &m.TradingDays, &m.ConsistencyScore,
			&m.TargetReached, &m.TotalTrades, &m.Timestamp)
		return m, err
	})
	if err != nil {
		return nil, storeErr(err, "scan metrics")
	}
	return out, nil
}

func (p *Postgres) ListViolations(ctx context.Context, accountID string, limit int) ([]challenge.Violation, error) {
	rows, err := p.pool.Query(ctx, `
		select id, account_id, rule, value, threshold, severity, message, detected_at
		from violations where account_id = $1
		order by detected_at desc
		limit $2
	`, accountID, limitOrDefault(limit))
	if err != nil {
		return nil, storeErr(err, "list violations "+accountID)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (challenge.Violation, error) {
		var v challenge.Violation
		var severity string
		err := row.Scan(&v.ID, &v.AccountID, &v.Rule, &v.Value, &v.Threshold, &severity, &v.Message, &v.Timestamp)
		v.Severity = challenge.Severity(severity)
		return v, err
	})
	if err != nil {
		return nil, storeErr(err, "scan violations")
	}
	return out, nil
}

func (p *Postgres) UpsertChallenge(ctx context.Context, r challenge.Rules) error {
	_, err := p.pool.Exec(ctx, `
		insert into challenges (id, name, max_daily_loss_pct, max_total_loss_pct, min_trading_days,
			consistency_threshold, updated_at)
		values ($1,$2,$3,$4,$5,$6, now())
		on conflict (id) do update set
			name = excluded.name,
			max_daily_loss_pct = excluded.max_daily_loss_pct,
			max_total_loss_pct = excluded.max_total_loss_pct,
			min_trading_days = excluded.min_trading_days,
			consistency_threshold = excluded.consistency_threshold,
			updated_at = now()
	`, r.ChallengeID, r.Name, r.MaxDailyLossPct, r.MaxTotalLossPct, r.MinTradingDays, r.ConsistencyThreshold)
	if err != nil {
		return storeErr(err, "upsert challenge "+r.ChallengeID)
	}
	return nil
}

func (p *Postgres) UpsertAccount(ctx context.Context, a challenge.Account) error {
	if a.Status == "" {
		a.Status = challenge.StatusActive
	}
	if a.MonitoringStatus == "" {
		a.MonitoringStatus = challenge.MonitoringInactive
	}
	_, err := p.pool.Exec(ctx, `
		insert into accounts (id, user_id, challenge_id, initial_balance, balance, equity, profit_target,
			status, monitoring_status, failure_reason, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
		on conflict (id) do update set
			user_id = excluded.user_id,
			challenge_id = excluded.challenge_id,
			initial_balance = excluded.initial_balance,
			balance = excluded.balance,
			equity = excluded.equity,
			profit_target = excluded.profit_target,
			status = excluded.status,
			monitoring_status = excluded.monitoring_status,
			failure_reason = excluded.failure_reason,
			updated_at = now()
	`, a.ID, a.UserID, a.ChallengeID, a.InitialBalance, a.Balance, a.Equity, a.ProfitTarget,
		string(a.Status), string(a.MonitoringStatus), a.FailureReason)
	if err != nil {
		return storeErr(err, "upsert account "+a.ID)
	}
	return nil
}

// Seed upserts the catalog's challenges and inserts missing accounts in one
// transaction.
func (p *Postgres) Seed(ctx context.Context, c *Catalog) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return storeErr(err, "begin")
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range c.Challenges {
		batch.Queue(`
			insert into challenges (id, name, max_daily_loss_pct, max_total_loss_pct, min_trading_days, consistency_threshold)
			values ($1,$2,$3,$4,$5,$6)
			on conflict (id) do update set
				name = excluded.name,
				max_daily_loss_pct = excluded.max_daily_loss_pct,
				max_total_loss_pct = excluded.max_total_loss_pct,
				min_trading_days = excluded.min_trading_days,
				consistency_threshold = excluded.consistency_threshold,
				updated_at = now()
		`, r.ChallengeID, r.Name, r.MaxDailyLossPct, r.MaxTotalLossPct, r.MinTradingDays, r.ConsistencyThreshold)
	}
	for _, a := range c.Accounts {
		batch.Queue(`
			insert into accounts (id, user_id, challenge_id, initial_balance, balance, equity, profit_target)
			values ($1,$2,$3,$4,$4,$4,$5)
			on conflict (id) do nothing
		`, a.ID, a.UserID, a.ChallengeID, a.InitialBalance, a.ProfitTarget)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return storeErr(err, "seed catalog")
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr(err, "commit catalog")
	}
	return nil
}
