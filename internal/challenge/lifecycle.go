package challenge

import (
	"fmt"
	"time"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusPassed
}

// CanTransition reports whether s -> to is a legal lifecycle edge.
// Only active -> failed and active -> passed exist.
func (s Status) CanTransition(to Status) bool {
	return s == StatusActive && to.Terminal()
}

// Transition is a lifecycle change decided for one account in one cycle.
type Transition struct {
	AccountID string    `json:"account_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Rule      string    `json:"rule,omitempty"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Decide applies the lifecycle rules to the outcome of one poll cycle.
//
// A critical violation takes precedence over a reached target: a breach of a
// hard risk limit invalidates a target achieved on the same data. The first
// critical violation in evaluation order is the one cited in the reason.
func Decide(current Status, rec MetricsRecord, violations []Violation) (Transition, bool) {
	if current.Terminal() {
		return Transition{}, false
	}

	for _, v := range violations {
		if !v.Critical() {
			continue
		}
		return Transition{
			AccountID: rec.AccountID,
			From:      current,
			To:        StatusFailed,
			Rule:      v.Rule,
			Reason:    FailureReason(v),
			At:        rec.Timestamp,
		}, true
	}

	if rec.TargetReached {
		return Transition{
			AccountID: rec.AccountID,
			From:      current,
			To:        StatusPassed,
			Reason:    fmt.Sprintf("profit target reached: balance %.2f", rec.Balance),
			At:        rec.Timestamp,
		}, true
	}
	return Transition{}, false
}

// FailureReason renders the human-readable reason stored with a failed account.
func FailureReason(v Violation) string {
	if v.Message != "" {
		return fmt.Sprintf("%s: %s", v.Rule, v.Message)
	}
	return fmt.Sprintf("%s: value %.2f exceeds limit %.2f", v.Rule, v.Value, v.Threshold)
}
