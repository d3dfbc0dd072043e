package monitor

import (
	"context"

	"go.uber.org/zap"

	"challenge-core/internal/challenge"
)

// handle records the cycle's violations, announces them, then applies the
// lifecycle transition they imply. It reports whether the account is now
// terminal. Every violation is stored before any transition is attempted; a
// storage failure aborts the cycle with the account untouched.
func (r *Registry) handle(ctx context.Context, acc challenge.Account, rec challenge.MetricsRecord, violations []challenge.Violation) (bool, error) {
	log := r.log.With(zap.String("account_id", acc.ID))

	for _, v := range violations {
		if err := r.store.AppendViolation(ctx, v); err != nil {
			return false, persistErr(err, "append violation "+v.Rule)
		}
		r.tel.violation(v)
	}

	for _, v := range violations {
		if !r.shouldNotify(acc.ID, v) {
			continue
		}
		if err := r.notifier.ViolationDetected(ctx, acc, v); err != nil {
			log.Warn("notify violation", zap.String("rule", v.Rule), zap.Error(err))
		}
	}

	tr, ok := challenge.Decide(acc.Status, rec, violations)
	if !ok {
		return false, nil
	}

	applied, err := r.store.ApplyTransition(ctx, tr)
	if err != nil {
		return false, persistErr(err, "apply transition")
	}
	if !applied {
		// Someone else moved the account out of active first.
		log.Info("transition skipped, account already left active", zap.String("to", string(tr.To)))
		return true, nil
	}
	r.tel.transition(tr.To)
	log.Info("challenge status changed",
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.String("reason", tr.Reason),
	)

	acc.Status = tr.To
	if tr.To == challenge.StatusFailed {
		acc.FailureReason = tr.Reason
		if err := r.notifier.ChallengeFailed(ctx, acc, tr); err != nil {
			log.Warn("notify failure", zap.Error(err))
		}
	} else {
		if err := r.notifier.TargetReached(ctx, acc, tr); err != nil {
			log.Warn("notify target reached", zap.Error(err))
		}
	}
	return true, nil
}

// shouldNotify applies the warning cooldown. Critical violations always
// notify.
func (r *Registry) shouldNotify(accountID string, v challenge.Violation) bool {
	if v.Critical() || r.cfg.WarningCooldown <= 0 {
		return true
	}
	r.sweepCooldowns()
	return r.notified.SetIfAbsent(accountID+"/"+v.Rule, struct{}{})
}

// sweepCooldowns drops expired cooldown entries, at most once per cooldown
// period, so stopped accounts do not leave keys behind.
func (r *Registry) sweepCooldowns() {
	now := r.now().UnixNano()
	last := r.lastSweep.Load()
	if now-last < int64(r.cfg.WarningCooldown) || !r.lastSweep.CompareAndSwap(last, now) {
		return
	}
	if n := r.notified.Cleanup(); n > 0 {
		r.log.Debug("expired warning cooldowns dropped", zap.Int("removed", n), zap.Int("remaining", r.notified.Len()))
	}
}
