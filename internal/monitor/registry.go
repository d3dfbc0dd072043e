// Package monitor runs one observation loop per challenge account and drives
// each account's lifecycle from the metrics it observes.
package monitor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"challenge-core/internal/challenge"
	"challenge-core/internal/events"
	"challenge-core/internal/provider"
	"challenge-core/internal/risk"
	"challenge-core/pkg/cache"
)

// Config tunes the registry.
type Config struct {
	PollInterval   time.Duration
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	// Location is the calendar for daily drawdown and trading days.
	Location *time.Location
	// RulesTTL bounds how long challenge rules are cached; zero caches
	// them for the life of the process.
	RulesTTL time.Duration
	// WarningCooldown suppresses repeat notifications of the same warning
	// rule for an account. Zero notifies every time.
	WarningCooldown time.Duration
	// ResumeConcurrency bounds parallel Starts in Resume.
	ResumeConcurrency int
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 60 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.ResumeConcurrency <= 0 {
		c.ResumeConcurrency = 8
	}
}

// Deps are the collaborators of a Registry. Everything but Store and
// Provider may be nil.
type Deps struct {
	Store     Store
	Provider  provider.Provider
	Evaluator *risk.Evaluator
	Notifier  Notifier
	Telemetry *Telemetry
	Logger    *zap.Logger
	// Events receives monitoring started/stopped envelopes.
	Events *events.Bus
}

// Registry owns the running monitors, at most one per account.
type Registry struct {
	cfg      Config
	store    Store
	provider provider.Provider
	eval     *risk.Evaluator
	notifier Notifier
	tel      *Telemetry
	log      *zap.Logger
	bus      *events.Bus
	rules    *cache.Sharded[challenge.Rules]
	notified *cache.Sharded[struct{}]
	now      func() time.Time

	// unix nanos of the last expired-cooldown sweep
	lastSweep atomic.Int64

	mu       sync.RWMutex
	monitors map[string]*monitor
	locks    map[string]*sync.Mutex
}

type monitor struct {
	accountID string
	conn      provider.Connection
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	// guarded by the account lock
	lastCycle time.Time
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	cfg.setDefaults()
	if deps.Evaluator == nil {
		deps.Evaluator = risk.NewEvaluator()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = NewTelemetry(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		store:    deps.Store,
		provider: deps.Provider,
		eval:     deps.Evaluator,
		notifier: deps.Notifier,
		tel:      deps.Telemetry,
		log:      deps.Logger.Named("monitor"),
		bus:      deps.Events,
		rules:    cache.New[challenge.Rules](cfg.RulesTTL),
		notified: cache.New[struct{}](cfg.WarningCooldown),
		now:      time.Now,
		monitors: make(map[string]*monitor),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing start, stop, cycles and termination
// of one account.
func (r *Registry) lockFor(accountID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[accountID] = l
	}
	return l
}

func (r *Registry) get(accountID string) *monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.monitors[accountID]
}

// Start begins observing accountID. Starting an account that is already
// observed is a no-op. Nothing is registered when the account is missing,
// terminal, or cannot be connected.
func (r *Registry) Start(ctx context.Context, accountID string) error {
	lock := r.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	if r.get(accountID) != nil {
		return nil
	}
	log := r.log.With(zap.String("account_id", accountID))

	acc, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		return errors.Wrapf(err, "start %s", accountID)
	}
	if acc.Status.Terminal() {
		return errors.Wrapf(challenge.ErrTerminal, "start %s: status %s", accountID, acc.Status)
	}

	conn, err := r.connect(ctx, accountID)
	if err != nil {
		log.Warn("connect failed", zap.Error(err))
		return errors.Wrap(err, "start")
	}

	if err := r.store.SetMonitoringStatus(ctx, accountID, challenge.MonitoringActive); err != nil {
		_ = conn.Close()
		return persistErr(err, "start "+accountID)
	}

	// The loop outlives the caller's request.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := r.now()
	m := &monitor{
		accountID: accountID,
		conn:      conn,
		ctx:       loopCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: now,
		// deals before Start are outside the window of incremental policies
		lastCycle: now,
	}

	r.mu.Lock()
	r.monitors[accountID] = m
	n := len(r.monitors)
	r.mu.Unlock()
	r.tel.setActive(n)

	go r.run(m)
	r.publish(events.EventMonitoringStarted, accountID)
	log.Info("monitoring started", zap.Duration("interval", r.cfg.PollInterval))
	return nil
}

func (r *Registry) connect(ctx context.Context, accountID string) (provider.Connection, error) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	conn, err := r.provider.Connect(cctx, accountID)
	if err != nil {
		return nil, connectErr(err, accountID)
	}
	if err := conn.WaitSynchronized(cctx); err != nil {
		_ = conn.Close()
		return nil, connectErr(err, accountID)
	}
	return conn, nil
}

// Stop ends observation of accountID and waits for its loop to exit. It does
// nothing, and writes nothing, when the account is not observed.
func (r *Registry) Stop(ctx context.Context, accountID string) error {
	// Cancel first so an in-flight provider call returns promptly.
	seen := r.get(accountID)
	if seen != nil {
		seen.cancel()
	}

	lock := r.lockFor(accountID)
	lock.Lock()
	m := r.get(accountID)
	if m == nil {
		lock.Unlock()
		// A cycle may have terminated the monitor while we waited.
		if seen != nil {
			return waitDone(ctx, seen)
		}
		return nil
	}
	m.cancel()
	err := r.release(ctx, m)
	lock.Unlock()

	if werr := waitDone(ctx, m); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	r.log.Info("monitoring stopped", zap.String("account_id", accountID))
	return nil
}

func waitDone(ctx context.Context, m *monitor) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "stop %s", m.accountID)
	}
}

// release unregisters m, marks the account inactive and closes the
// connection. The caller holds the account lock.
func (r *Registry) release(ctx context.Context, m *monitor) error {
	r.mu.Lock()
	if r.monitors[m.accountID] == m {
		delete(r.monitors, m.accountID)
	}
	n := len(r.monitors)
	r.mu.Unlock()
	r.tel.setActive(n)

	err := r.store.SetMonitoringStatus(ctx, m.accountID, challenge.MonitoringInactive)
	r.publish(events.EventMonitoringStopped, m.accountID)
	if cerr := m.conn.Close(); cerr != nil {
		r.log.Warn("close connection", zap.String("account_id", m.accountID), zap.Error(cerr))
	}
	if err != nil {
		return persistErr(err, "stop "+m.accountID)
	}
	return nil
}

func (r *Registry) publish(e events.Event, accountID string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Envelope{Type: e, AccountID: accountID, At: r.now()})
}

// StopAll stops every monitor concurrently and returns once all are done.
func (r *Registry) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, id := range r.Active() {
		g.Go(func() error {
			return r.Stop(ctx, id)
		})
	}
	return g.Wait()
}

// Resume restarts monitors for accounts that were being observed when the
// process last exited. Per-account failures are logged and skipped.
func (r *Registry) Resume(ctx context.Context) (int, error) {
	ids, err := r.store.ListResumableAccounts(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list resumable accounts")
	}

	var started atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ResumeConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := r.Start(gctx, id); err != nil {
				r.log.Warn("resume failed", zap.String("account_id", id), zap.Error(err))
				return nil
			}
			started.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(started.Load()), nil
}

// ActiveCount is the number of running monitors.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

// Active lists the observed account IDs in sorted order.
func (r *Registry) Active() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.monitors))
	for id := range r.monitors {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Info describes one running monitor.
type Info struct {
	AccountID string    `json:"account_id"`
	StartedAt time.Time `json:"started_at"`
}

// Monitors describes the running monitors in account order.
func (r *Registry) Monitors() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.monitors))
	for id, m := range r.monitors {
		out = append(out, Info{AccountID: id, StartedAt: m.startedAt})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
