package monitor

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"challenge-core/internal/challenge"
	"challenge-core/internal/provider"
)

type statusWrite struct {
	accountID string
	status    challenge.MonitoringStatus
}

// memStore is an in-memory Store that records every write.
type memStore struct {
	mu           sync.Mutex
	accounts     map[string]challenge.Account
	rules        map[string]challenge.Rules
	metrics      []challenge.MetricsRecord
	violations   []challenge.Violation
	statusWrites []statusWrite
	transitions  []challenge.Transition
	rulesReads   int

	failViolations error
	failMetrics    error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]challenge.Account),
		rules:    make(map[string]challenge.Rules),
	}
}

func (s *memStore) putAccount(a challenge.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *memStore) putRules(r challenge.Rules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ChallengeID] = r
}

func (s *memStore) account(id string) challenge.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memStore) setStatus(id string, st challenge.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[id]
	a.Status = st
	s.accounts[id] = a
}

func (s *memStore) failWrites(violations, metrics error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failViolations = violations
	s.failMetrics = metrics
}

func (s *memStore) counts() (metrics, violations, transitions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metrics), len(s.violations), len(s.transitions)
}

func (s *memStore) metricsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.metrics {
		if rec.AccountID == id {
			n++
		}
	}
	return n
}

func (s *memStore) writes() []statusWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusWrite(nil), s.statusWrites...)
}

func (s *memStore) GetAccount(_ context.Context, id string) (challenge.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return challenge.Account{}, errors.Wrapf(challenge.ErrNotFound, "account %s", id)
	}
	return a, nil
}

func (s *memStore) GetRules(_ context.Context, challengeID string) (challenge.Rules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rulesReads++
	r, ok := s.rules[challengeID]
	if !ok {
		return challenge.Rules{}, errors.Wrapf(challenge.ErrNotFound, "challenge %s", challengeID)
	}
	return r, nil
}

func (s *memStore) ListResumableAccounts(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, a := range s.accounts {
		if a.Status == challenge.StatusActive && a.MonitoringStatus == challenge.MonitoringActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) SetMonitoringStatus(_ context.Context, id string, st challenge.MonitoringStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusWrites = append(s.statusWrites, statusWrite{accountID: id, status: st})
	a := s.accounts[id]
	a.MonitoringStatus = st
	s.accounts[id] = a
	return nil
}

func (s *memStore) UpdateBalances(_ context.Context, id string, balance, equity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[id]
	a.Balance, a.Equity = balance, equity
	s.accounts[id] = a
	return nil
}

func (s *memStore) AppendMetrics(_ context.Context, rec challenge.MetricsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMetrics != nil {
		return s.failMetrics
	}
	s.metrics = append(s.metrics, rec)
	return nil
}

func (s *memStore) AppendViolation(_ context.Context, v challenge.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failViolations != nil {
		return s.failViolations
	}
	s.violations = append(s.violations, v)
	return nil
}

func (s *memStore) ApplyTransition(_ context.Context, tr challenge.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[tr.AccountID]
	if !ok || a.Status != tr.From {
		return false, nil
	}
	a.Status = tr.To
	if tr.To == challenge.StatusFailed {
		a.FailureReason = tr.Reason
	}
	s.accounts[tr.AccountID] = a
	s.transitions = append(s.transitions, tr)
	return true, nil
}

// recordingNotifier counts notifications and can be made to fail.
type recordingNotifier struct {
	mu         sync.Mutex
	violations []challenge.Violation
	failed     []challenge.Transition
	passed     []challenge.Transition
	err        error
}

func (n *recordingNotifier) ViolationDetected(_ context.Context, _ challenge.Account, v challenge.Violation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.violations = append(n.violations, v)
	return n.err
}

func (n *recordingNotifier) ChallengeFailed(_ context.Context, _ challenge.Account, tr challenge.Transition) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, tr)
	return n.err
}

func (n *recordingNotifier) TargetReached(_ context.Context, _ challenge.Account, tr challenge.Transition) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.passed = append(n.passed, tr)
	return n.err
}

func (n *recordingNotifier) counts() (violations, failed, passed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.violations), len(n.failed), len(n.passed)
}

// gatedStore holds the first AppendMetrics call until release is closed,
// pinning a cycle in the middle of its audit trail.
type gatedStore struct {
	*memStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(s *memStore) *gatedStore {
	return &gatedStore{memStore: s, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedStore) AppendMetrics(ctx context.Context, rec challenge.MetricsRecord) error {
	first := false
	s.once.Do(func() {
		first = true
		close(s.entered)
	})
	if first {
		<-s.release
	}
	return s.memStore.AppendMetrics(ctx, rec)
}

// hookProvider runs beforeInfo ahead of every AccountInfo call.
type hookProvider struct {
	provider.Provider
	beforeInfo func(ctx context.Context, accountID string) error
}

func (p *hookProvider) Connect(ctx context.Context, accountID string) (provider.Connection, error) {
	conn, err := p.Provider.Connect(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &hookConnection{Connection: conn, accountID: accountID, before: p.beforeInfo}, nil
}

type hookConnection struct {
	provider.Connection
	accountID string
	before    func(ctx context.Context, accountID string) error
}

func (c *hookConnection) AccountInfo(ctx context.Context) (challenge.AccountInfo, error) {
	if err := c.before(ctx, c.accountID); err != nil {
		return challenge.AccountInfo{}, err
	}
	return c.Connection.AccountInfo(ctx)
}
