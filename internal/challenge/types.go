// Package challenge holds the domain model of a funded-account challenge:
// accounts, rules, the trade feed and the records derived from it.
package challenge

import (
	"time"
)

// Status is the lifecycle status of a challenge attempt.
type Status string

const (
	StatusActive Status = "active"
	StatusFailed Status = "failed"
	StatusPassed Status = "passed"
)

// MonitoringStatus reports whether an observation loop is running for an account.
type MonitoringStatus string

const (
	MonitoringInactive MonitoringStatus = "inactive"
	MonitoringActive   MonitoringStatus = "active"
)

// Severity tags a violation.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Side of a deal. Balance deals are deposits/credits reported by the platform
// and never count as trades.
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideBalance Side = "balance"
)

// Account is one challenge attempt on one trading account.
type Account struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	ChallengeID      string           `json:"challenge_id"`
	InitialBalance   float64          `json:"initial_balance"`
	Balance          float64          `json:"balance"`
	Equity           float64          `json:"equity"`
	ProfitTarget     float64          `json:"profit_target"` // absolute balance level
	Status           Status           `json:"status"`
	MonitoringStatus MonitoringStatus `json:"monitoring_status"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Rules are the thresholds of a challenge type. Zero MinTradingDays or
// ConsistencyThreshold means the rule is not configured.
type Rules struct {
	ChallengeID          string  `json:"challenge_id" yaml:"id"`
	Name                 string  `json:"name" yaml:"name"`
	MaxDailyLossPct      float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxTotalLossPct      float64 `json:"max_total_loss_pct" yaml:"max_total_loss_pct"`
	MinTradingDays       int     `json:"min_trading_days,omitempty" yaml:"min_trading_days"`
	ConsistencyThreshold float64 `json:"consistency_threshold,omitempty" yaml:"consistency_threshold"`
}

// Deal is one realized trade event from the provider's history.
type Deal struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Profit float64   `json:"profit"`
	Side   Side      `json:"side"`
}

// IsTrade reports whether the deal is a buy or sell execution.
func (d Deal) IsTrade() bool {
	return d.Side == SideBuy || d.Side == SideSell
}

// Position is an open trade's unrealized result.
type Position struct {
	ID     string  `json:"id"`
	Symbol string  `json:"symbol"`
	Profit float64 `json:"profit"`
}

// AccountInfo is the live account summary supplied by the provider.
type AccountInfo struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
	Profit      float64 `json:"profit"`
}

// MetricsRecord is a point-in-time snapshot derived once per poll cycle.
type MetricsRecord struct {
	AccountID        string    `json:"account_id"`
	Balance          float64   `json:"balance"`
	Equity           float64   `json:"equity"`
	Profit           float64   `json:"profit"`
	UnrealizedProfit float64   `json:"unrealized_profit"`
	MarginLevel      float64   `json:"margin_level"`
	DailyDrawdownPct float64   `json:"daily_drawdown_pct"`
	MaxDrawdownPct   float64   `json:"max_drawdown_pct"`
	TradingDays      int       `json:"trading_days"`
	ConsistencyScore float64   `json:"consistency_score"`
	TargetReached    bool      `json:"target_reached"`
	TotalTrades      int       `json:"total_trades"`
	Timestamp        time.Time `json:"timestamp"`
}

// Violation is a detected breach of a rule threshold.
type Violation struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Rule      string    `json:"rule"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Critical reports whether the violation fails the account.
func (v Violation) Critical() bool {
	return v.Severity == SeverityCritical
}
