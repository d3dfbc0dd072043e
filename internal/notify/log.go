package notify

import (
	"context"

	"go.uber.org/zap"

	"challenge-core/internal/challenge"
	"challenge-core/internal/events"
)

// Log writes notifications to a zap logger. It never fails.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("notify")}
}

func (l *Log) ViolationDetected(_ context.Context, acc challenge.Account, v challenge.Violation) error {
	level := zap.InfoLevel
	if v.Critical() {
		level = zap.WarnLevel
	}
	l.log.Log(level, "violation detected",
		zap.String("account_id", acc.ID),
		zap.String("user_id", acc.UserID),
		zap.String("rule", v.Rule),
		zap.String("severity", string(v.Severity)),
		zap.Float64("value", v.Value),
		zap.Float64("threshold", v.Threshold),
	)
	return nil
}

func (l *Log) ChallengeFailed(_ context.Context, acc challenge.Account, tr challenge.Transition) error {
	l.log.Warn("challenge failed",
		zap.String("account_id", acc.ID),
		zap.String("user_id", acc.UserID),
		zap.String("challenge_id", acc.ChallengeID),
		zap.String("reason", tr.Reason),
	)
	return nil
}

func (l *Log) TargetReached(_ context.Context, acc challenge.Account, tr challenge.Transition) error {
	l.log.Info("profit target reached",
		zap.String("account_id", acc.ID),
		zap.String("user_id", acc.UserID),
		zap.String("challenge_id", acc.ChallengeID),
		zap.String("reason", tr.Reason),
	)
	return nil
}

// Send logs a relayed envelope.
func (l *Log) Send(_ context.Context, env events.Envelope) error {
	l.log.Info("event", zap.String("type", string(env.Type)), zap.String("account_id", env.AccountID))
	return nil
}
