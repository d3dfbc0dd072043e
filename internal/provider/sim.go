package provider

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"challenge-core/internal/challenge"
)

// SimProvider is an in-memory platform with scripted accounts. It backs
// tests and PROVIDER=sim dry runs.
type SimProvider struct {
	mu       sync.Mutex
	accounts map[string]*simAccount
	loader   func(ctx context.Context, accountID string) (challenge.AccountInfo, error)
	walk     *rand.Rand
	walkStep float64

	connects int
	closes   int
}

type simAccount struct {
	info       challenge.AccountInfo
	positions  []challenge.Position
	deals      []challenge.Deal
	connectErr error
	callErr    error
}

type SimOption func(*SimProvider)

// WithLoader creates unknown accounts on first Connect from the returned info.
func WithLoader(fn func(ctx context.Context, accountID string) (challenge.AccountInfo, error)) SimOption {
	return func(p *SimProvider) { p.loader = fn }
}

// WithRandomWalk makes every AccountInfo call close a random trade of up to
// step in either direction.
func WithRandomWalk(seed int64, step float64) SimOption {
	return func(p *SimProvider) {
		p.walk = rand.New(rand.NewSource(seed))
		p.walkStep = step
	}
}

func NewSim(opts ...SimOption) *SimProvider {
	p := &SimProvider{accounts: make(map[string]*simAccount)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *SimProvider) account(id string) *simAccount {
	a, ok := p.accounts[id]
	if !ok {
		a = &simAccount{}
		p.accounts[id] = a
	}
	return a
}

// SetAccount replaces the scripted state of an account.
func (p *SimProvider) SetAccount(id string, info challenge.AccountInfo, positions []challenge.Position, deals []challenge.Deal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.account(id)
	a.info = info
	a.positions = append([]challenge.Position(nil), positions...)
	a.deals = append([]challenge.Deal(nil), deals...)
}

// SetInfo replaces the live balance and equity of an account.
func (p *SimProvider) SetInfo(id string, info challenge.AccountInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account(id).info = info
}

// AddDeal appends a deal and applies its profit to balance and equity.
func (p *SimProvider) AddDeal(id string, d challenge.Deal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.account(id)
	a.deals = append(a.deals, d)
	a.info.Balance += d.Profit
	a.info.Equity += d.Profit
}

// FailConnect makes Connect for id return err until cleared with nil.
func (p *SimProvider) FailConnect(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account(id).connectErr = err
}

// FailCalls makes every data call for id return err until cleared with nil.
func (p *SimProvider) FailCalls(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account(id).callErr = err
}

// Stats reports how many connections were opened and closed.
func (p *SimProvider) Stats() (connects, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects, p.closes
}

func (p *SimProvider) Connect(ctx context.Context, accountID string) (Connection, error) {
	p.mu.Lock()
	a, ok := p.accounts[accountID]
	loader := p.loader
	p.mu.Unlock()

	if !ok {
		if loader == nil {
			return nil, errors.Wrapf(challenge.ErrNotFound, "sim account %s", accountID)
		}
		info, err := loader(ctx, accountID)
		if err != nil {
			return nil, errors.Wrapf(err, "load sim account %s", accountID)
		}
		p.mu.Lock()
		if a, ok = p.accounts[accountID]; !ok {
			a = p.account(accountID)
			a.info = info
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if a.connectErr != nil {
		return nil, errors.Wrapf(a.connectErr, "connect %s", accountID)
	}
	p.connects++
	return &simConnection{p: p, id: accountID}, nil
}

type simConnection struct {
	p      *SimProvider
	id     string
	closed bool
}

// with runs fn on the account state under the provider lock.
func (c *simConnection) with(ctx context.Context, fn func(a *simAccount)) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(challenge.ErrConnection, "sim %s: %v", c.id, err)
	}
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if c.closed {
		return errors.Wrapf(challenge.ErrConnection, "sim %s: connection closed", c.id)
	}
	a := c.p.accounts[c.id]
	if a.callErr != nil {
		return errors.Wrapf(a.callErr, "sim %s", c.id)
	}
	fn(a)
	return nil
}

func (c *simConnection) WaitSynchronized(ctx context.Context) error {
	return c.with(ctx, func(*simAccount) {})
}

func (c *simConnection) AccountInfo(ctx context.Context) (challenge.AccountInfo, error) {
	var info challenge.AccountInfo
	err := c.with(ctx, func(a *simAccount) {
		if c.p.walk != nil {
			side := challenge.SideBuy
			if c.p.walk.Intn(2) == 0 {
				side = challenge.SideSell
			}
			profit := (c.p.walk.Float64()*2 - 1) * c.p.walkStep
			a.deals = append(a.deals, challenge.Deal{ID: uuid.NewString(), Time: time.Now(), Profit: profit, Side: side})
			a.info.Balance += profit
			a.info.Equity += profit
		}
		info = a.info
	})
	return info, err
}

func (c *simConnection) OpenPositions(ctx context.Context) ([]challenge.Position, error) {
	var out []challenge.Position
	err := c.with(ctx, func(a *simAccount) {
		out = append([]challenge.Position(nil), a.positions...)
	})
	return out, err
}

func (c *simConnection) DealHistory(ctx context.Context, since time.Time) ([]challenge.Deal, error) {
	var out []challenge.Deal
	err := c.with(ctx, func(a *simAccount) {
		for _, d := range a.deals {
			if !d.Time.Before(since) {
				out = append(out, d)
			}
		}
	})
	return out, err
}

func (c *simConnection) Close() error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.p.closes++
	}
	return nil
}
