package monitor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"challenge-core/internal/challenge"
	"challenge-core/internal/metrics"
	"challenge-core/internal/provider"
	"challenge-core/internal/risk"
)

// run drives m until it is cancelled or its account reaches a terminal
// state. The first cycle fires one interval after start; a cycle always
// completes before the next tick is read, so cycles never overlap.
func (r *Registry) run(m *monitor) {
	defer close(m.done)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if r.cycle(m) {
				return
			}
		}
	}
}

type snapshot struct {
	info      challenge.AccountInfo
	positions []challenge.Position
	deals     []challenge.Deal
}

func fetch(ctx context.Context, conn provider.Connection) (snapshot, error) {
	var s snapshot
	var err error
	if s.info, err = conn.AccountInfo(ctx); err != nil {
		return s, err
	}
	if s.positions, err = conn.OpenPositions(ctx); err != nil {
		return s, err
	}
	if s.deals, err = conn.DealHistory(ctx, time.Time{}); err != nil {
		return s, err
	}
	return s, nil
}

// cycle runs one poll of m's account and reports whether the loop must end.
func (r *Registry) cycle(m *monitor) bool {
	lock := r.lockFor(m.accountID)
	lock.Lock()
	defer lock.Unlock()

	if m.ctx.Err() != nil {
		return true
	}

	start := r.now()
	log := r.log.With(zap.String("account_id", m.accountID))
	result := resultOK
	defer func() { r.tel.cycle(result, time.Since(start)) }()

	acc, err := r.store.GetAccount(m.ctx, m.accountID)
	if err != nil {
		if m.ctx.Err() != nil {
			result = resultCancelled
			return true
		}
		log.Error("load account", zap.Error(err))
		result = resultAccountError
		return false
	}
	if acc.Status != challenge.StatusActive {
		log.Info("account no longer active, stopping", zap.String("status", string(acc.Status)))
		result = resultTerminal
		r.terminate(m)
		return true
	}

	rules, err := r.loadRules(m.ctx, acc.ChallengeID)
	if err != nil {
		if m.ctx.Err() != nil {
			result = resultCancelled
			return true
		}
		log.Error("load rules", zap.String("challenge_id", acc.ChallengeID), zap.Error(err))
		result = resultRulesError
		return false
	}

	callCtx, cancel := context.WithTimeout(m.ctx, r.cfg.CallTimeout)
	snap, err := fetch(callCtx, m.conn)
	cancel()
	if err != nil {
		if m.ctx.Err() != nil {
			result = resultCancelled
			return true
		}
		log.Warn("provider fetch failed", zap.Error(err))
		result = resultProviderError
		return false
	}

	rec := metrics.Compute(metrics.Input{
		Account:   acc,
		Info:      snap.info,
		Positions: snap.positions,
		Deals:     snap.deals,
		Now:       start,
		Location:  r.cfg.Location,
	})

	// Stop waits on the account lock, so from here the audit trail and any
	// transition complete even if it was requested meanwhile.
	ctx := context.WithoutCancel(m.ctx)

	if err := r.store.UpdateBalances(ctx, acc.ID, snap.info.Balance, snap.info.Equity); err != nil {
		log.Error("update balances", zap.Error(persistErr(err, "update balances")))
		result = resultPersistError
		return false
	}
	if err := r.store.AppendMetrics(ctx, rec); err != nil {
		log.Error("append metrics", zap.Error(persistErr(err, "append metrics")))
		result = resultPersistError
		return false
	}

	since := m.lastCycle
	m.lastCycle = start
	violations := r.eval.Evaluate(risk.Input{Record: rec, Rules: rules, Deals: snap.deals, Since: since})

	terminal, err := r.handle(ctx, acc, rec, violations)
	if err != nil {
		log.Error("handle cycle outcome", zap.Error(err))
		result = resultPersistError
		return false
	}
	log.Debug("cycle complete",
		zap.Float64("balance", rec.Balance),
		zap.Float64("equity", rec.Equity),
		zap.Float64("daily_drawdown_pct", rec.DailyDrawdownPct),
		zap.Float64("max_drawdown_pct", rec.MaxDrawdownPct),
		zap.Int("violations", len(violations)),
	)
	if terminal {
		result = resultTerminal
		r.terminate(m)
		return true
	}
	return false
}

// terminate ends m from inside its own cycle. The caller holds the account
// lock; the loop goroutine exits on return so done is not awaited here.
func (r *Registry) terminate(m *monitor) {
	m.cancel()
	if err := r.release(context.WithoutCancel(m.ctx), m); err != nil {
		r.log.Error("release terminated monitor", zap.String("account_id", m.accountID), zap.Error(err))
	}
}

func (r *Registry) loadRules(ctx context.Context, challengeID string) (challenge.Rules, error) {
	if rules, ok := r.rules.Get(challengeID); ok {
		return rules, nil
	}
	rules, err := r.store.GetRules(ctx, challengeID)
	if err != nil {
		return challenge.Rules{}, errors.Wrapf(err, "rules %s", challengeID)
	}
	r.rules.Set(challengeID, rules)
	return rules, nil
}
