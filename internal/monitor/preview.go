package monitor

import (
	"context"

	"github.com/pkg/errors"

	"challenge-core/internal/challenge"
	"challenge-core/internal/metrics"
	"challenge-core/internal/risk"
)

// Preview is the outcome of one evaluation that was not recorded.
type Preview struct {
	Account    challenge.Account       `json:"account"`
	Rules      challenge.Rules         `json:"rules"`
	Metrics    challenge.MetricsRecord `json:"metrics"`
	Violations []challenge.Violation   `json:"violations"`
	Transition *challenge.Transition   `json:"transition,omitempty"`
}

// Preview runs a single cycle's computation for accountID on a dedicated
// connection and reports what a cycle would decide. It writes nothing and
// works whether or not the account is being monitored.
func (r *Registry) Preview(ctx context.Context, accountID string) (Preview, error) {
	acc, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return Preview{}, errors.Wrapf(err, "preview %s", accountID)
	}
	rules, err := r.loadRules(ctx, acc.ChallengeID)
	if err != nil {
		return Preview{}, err
	}

	conn, err := r.connect(ctx, accountID)
	if err != nil {
		return Preview{}, err
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	snap, err := fetch(callCtx, conn)
	cancel()
	if err != nil {
		return Preview{}, connectErr(err, accountID)
	}

	rec := metrics.Compute(metrics.Input{
		Account:   acc,
		Info:      snap.info,
		Positions: snap.positions,
		Deals:     snap.deals,
		Now:       r.now(),
		Location:  r.cfg.Location,
	})
	p := Preview{
		Account:    acc,
		Rules:      rules,
		Metrics:    rec,
		Violations: r.eval.Evaluate(risk.Input{Record: rec, Rules: rules, Deals: snap.deals}),
	}
	if tr, ok := challenge.Decide(acc.Status, rec, p.Violations); ok {
		p.Transition = &tr
	}
	return p, nil
}
