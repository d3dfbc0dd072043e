package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"challenge-core/internal/challenge"
)

var standardRules = challenge.Rules{
	ChallengeID:          "phase-1",
	MaxDailyLossPct:      3,
	MaxTotalLossPct:      10,
	MinTradingDays:       5,
	ConsistencyThreshold: 60,
}

func ruleNames(vs []challenge.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		rec   challenge.MetricsRecord
		rules challenge.Rules
		want  []string
	}{
		{
			name:  "clean",
			rec:   challenge.MetricsRecord{DailyDrawdownPct: 1, MaxDrawdownPct: 2, TradingDays: 6, ConsistencyScore: 80},
			rules: standardRules,
			want:  []string{},
		},
		{
			name:  "limits are inclusive",
			rec:   challenge.MetricsRecord{DailyDrawdownPct: 3, MaxDrawdownPct: 10, TradingDays: 5, ConsistencyScore: 60},
			rules: standardRules,
			want:  []string{},
		},
		{
			name:  "everything breached in order",
			rec:   challenge.MetricsRecord{DailyDrawdownPct: 4, MaxDrawdownPct: 11, TradingDays: 1, ConsistencyScore: 0},
			rules: standardRules,
			want:  []string{RuleDailyDrawdown, RuleMaxDrawdown, RuleMinTradingDays, RuleConsistency},
		},
		{
			name:  "optional rules unset",
			rec:   challenge.MetricsRecord{DailyDrawdownPct: 1, TradingDays: 0, ConsistencyScore: 0},
			rules: challenge.Rules{MaxDailyLossPct: 5, MaxTotalLossPct: 10},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rec.AccountID = "acc-1"
			tt.rec.Timestamp = now
			got := NewEvaluator().Evaluate(Input{Record: tt.rec, Rules: tt.rules})
			assert.Equal(t, tt.want, ruleNames(got))
			for _, v := range got {
				assert.Equal(t, "acc-1", v.AccountID)
				assert.Equal(t, now, v.Timestamp)
				assert.NotEmpty(t, v.ID)
			}
		})
	}
}

func TestEvaluateSeverityAndMessage(t *testing.T) {
	rec := challenge.MetricsRecord{AccountID: "acc-fail", DailyDrawdownPct: 4, MaxDrawdownPct: 4, TradingDays: 1}
	got := NewEvaluator().Evaluate(Input{Record: rec, Rules: standardRules})
	require.Len(t, got, 3)

	assert.Equal(t, RuleDailyDrawdown, got[0].Rule)
	assert.Equal(t, challenge.SeverityCritical, got[0].Severity)
	assert.Equal(t, 4.0, got[0].Value)
	assert.Equal(t, 3.0, got[0].Threshold)
	assert.Equal(t, "daily drawdown 4.00% exceeds limit 3.00%", got[0].Message)

	assert.Equal(t, RuleMinTradingDays, got[1].Rule)
	assert.Equal(t, challenge.SeverityWarning, got[1].Severity)
	assert.Equal(t, "trading days 1 below minimum 5", got[1].Message)

	assert.Equal(t, RuleConsistency, got[2].Rule)
	assert.Equal(t, challenge.SeverityWarning, got[2].Severity)
}

type stubPolicy struct {
	v challenge.Violation
}

func (s stubPolicy) Name() string { return s.v.Rule }

func (s stubPolicy) Check(Input) []challenge.Violation { return []challenge.Violation{s.v} }

func TestEvaluatePoliciesRunAfterBuiltins(t *testing.T) {
	p := stubPolicy{v: challenge.Violation{Rule: "custom", Severity: challenge.SeverityWarning}}
	e := NewEvaluator(p)

	rec := challenge.MetricsRecord{AccountID: "acc-1", DailyDrawdownPct: 9}
	got := e.Evaluate(Input{Record: rec, Rules: standardRules})
	assert.Equal(t, []string{RuleDailyDrawdown, RuleMinTradingDays, RuleConsistency, "custom"}, ruleNames(got))
	assert.Equal(t, "acc-1", got[3].AccountID)
	assert.Len(t, e.Policies(), 1)
}
