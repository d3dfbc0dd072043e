// Package risk compares a metrics record against the thresholds of a
// challenge and reports the breaches as violations.
package risk

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"challenge-core/internal/challenge"
)

// Built-in rule names, in evaluation order.
const (
	RuleDailyDrawdown  = "daily_drawdown"
	RuleMaxDrawdown    = "max_drawdown"
	RuleMinTradingDays = "min_trading_days"
	RuleConsistency    = "consistency"
)

// Input is everything a rule may look at for one cycle.
type Input struct {
	Record challenge.MetricsRecord
	Rules  challenge.Rules
	Deals  []challenge.Deal
	// Since is the time of the previous cycle, or of monitor start on the
	// first cycle. Zero means the whole history.
	Since time.Time
}

// Evaluator runs the built-in checks followed by any registered policies.
type Evaluator struct {
	policies []Policy
	newID    func() string
}

// NewEvaluator builds an evaluator. Policies run after the built-in rules, in
// the order given.
func NewEvaluator(policies ...Policy) *Evaluator {
	return &Evaluator{
		policies: policies,
		newID:    uuid.NewString,
	}
}

// Policies returns the registered extra policies.
func (e *Evaluator) Policies() []Policy {
	return e.policies
}

// Evaluate returns the violations found in in. Checks are independent and
// every breach is reported in rule order.
func (e *Evaluator) Evaluate(in Input) []challenge.Violation {
	rec, rules := in.Record, in.Rules
	var out []challenge.Violation

	add := func(v challenge.Violation) {
		v.ID = e.newID()
		v.AccountID = rec.AccountID
		v.Timestamp = rec.Timestamp
		out = append(out, v)
	}

	if rec.DailyDrawdownPct > rules.MaxDailyLossPct {
		add(challenge.Violation{
			Rule:      RuleDailyDrawdown,
			Value:     rec.DailyDrawdownPct,
			Threshold: rules.MaxDailyLossPct,
			Severity:  challenge.SeverityCritical,
			Message:   fmt.Sprintf("daily drawdown %.2f%% exceeds limit %.2f%%", rec.DailyDrawdownPct, rules.MaxDailyLossPct),
		})
	}
	if rec.MaxDrawdownPct > rules.MaxTotalLossPct {
		add(challenge.Violation{
			Rule:      RuleMaxDrawdown,
			Value:     rec.MaxDrawdownPct,
			Threshold: rules.MaxTotalLossPct,
			Severity:  challenge.SeverityCritical,
			Message:   fmt.Sprintf("max drawdown %.2f%% exceeds limit %.2f%%", rec.MaxDrawdownPct, rules.MaxTotalLossPct),
		})
	}
	if rules.MinTradingDays > 0 && rec.TradingDays < rules.MinTradingDays {
		add(challenge.Violation{
			Rule:      RuleMinTradingDays,
			Value:     float64(rec.TradingDays),
			Threshold: float64(rules.MinTradingDays),
			Severity:  challenge.SeverityWarning,
			Message:   fmt.Sprintf("trading days %d below minimum %d", rec.TradingDays, rules.MinTradingDays),
		})
	}
	if rules.ConsistencyThreshold > 0 && rec.ConsistencyScore < rules.ConsistencyThreshold {
		add(challenge.Violation{
			Rule:      RuleConsistency,
			Value:     rec.ConsistencyScore,
			Threshold: rules.ConsistencyThreshold,
			Severity:  challenge.SeverityWarning,
			Message:   fmt.Sprintf("consistency score %.2f below threshold %.2f", rec.ConsistencyScore, rules.ConsistencyThreshold),
		})
	}

	for _, p := range e.policies {
		for _, v := range p.Check(in) {
			add(v)
		}
	}
	return out
}
