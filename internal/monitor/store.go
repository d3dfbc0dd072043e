package monitor

import (
	"context"

	"github.com/pkg/errors"

	"challenge-core/internal/challenge"
)

// Store is the persistence the registry needs. Lookups of missing rows
// return errors wrapping challenge.ErrNotFound.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (challenge.Account, error)
	GetRules(ctx context.Context, challengeID string) (challenge.Rules, error)
	// ListResumableAccounts returns active accounts whose monitoring status
	// is active.
	ListResumableAccounts(ctx context.Context) ([]string, error)

	SetMonitoringStatus(ctx context.Context, accountID string, status challenge.MonitoringStatus) error
	UpdateBalances(ctx context.Context, accountID string, balance, equity float64) error
	AppendMetrics(ctx context.Context, rec challenge.MetricsRecord) error
	AppendViolation(ctx context.Context, v challenge.Violation) error
	// ApplyTransition moves the account from tr.From to tr.To only if it is
	// still in tr.From. It reports whether the row changed.
	ApplyTransition(ctx context.Context, tr challenge.Transition) (bool, error)
}

// Notifier announces lifecycle events. Errors are logged by the caller and
// never block a transition.
type Notifier interface {
	ViolationDetected(ctx context.Context, acc challenge.Account, v challenge.Violation) error
	ChallengeFailed(ctx context.Context, acc challenge.Account, tr challenge.Transition) error
	TargetReached(ctx context.Context, acc challenge.Account, tr challenge.Transition) error
}

type nopNotifier struct{}

func (nopNotifier) ViolationDetected(context.Context, challenge.Account, challenge.Violation) error {
	return nil
}

func (nopNotifier) ChallengeFailed(context.Context, challenge.Account, challenge.Transition) error {
	return nil
}

func (nopNotifier) TargetReached(context.Context, challenge.Account, challenge.Transition) error {
	return nil
}

func persistErr(err error, op string) error {
	if errors.Is(err, challenge.ErrPersistence) {
		return errors.Wrap(err, op)
	}
	return errors.Wrapf(challenge.ErrPersistence, "%s: %v", op, err)
}

func connectErr(err error, accountID string) error {
	if errors.Is(err, challenge.ErrConnection) || errors.Is(err, challenge.ErrNotFound) {
		return errors.Wrapf(err, "account %s", accountID)
	}
	return errors.Wrapf(challenge.ErrConnection, "account %s: %v", accountID, err)
}
