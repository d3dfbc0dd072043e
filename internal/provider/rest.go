package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"challenge-core/internal/challenge"
	"challenge-core/pkg/retrier"
)

// RESTConfig configures the REST gateway client.
type RESTConfig struct {
	BaseURL string
	Token   string
	// RPS bounds requests across all connections; zero disables limiting.
	RPS     float64
	Burst   int
	Timeout time.Duration
}

// RESTProvider talks to a MetaApi-style REST gateway.
type RESTProvider struct {
	cfg        RESTConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	syncRetry  *retrier.Retrier
	log        *zap.Logger
}

func NewREST(cfg RESTConfig, log *zap.Logger) *RESTProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RESTProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		syncRetry: retrier.New(
			retrier.WithMaxRetries(retrier.Unlimited),
			retrier.WithInitialInterval(250*time.Millisecond),
			retrier.WithMaxInterval(5*time.Second),
		),
		log: log.Named("rest_provider"),
	}
}

type accountState struct {
	ID               string `json:"_id"`
	State            string `json:"state"`
	ConnectionStatus string `json:"connectionStatus"`
}

// Connect checks that the account exists and is deployed on the gateway.
func (p *RESTProvider) Connect(ctx context.Context, accountID string) (Connection, error) {
	var st accountState
	if err := p.get(ctx, accountPath(accountID, ""), &st); err != nil {
		return nil, errors.Wrapf(err, "connect %s", accountID)
	}
	if st.State != "" && st.State != "DEPLOYED" {
		return nil, errors.Wrapf(challenge.ErrConnection, "connect %s: account state %s", accountID, st.State)
	}
	p.log.Debug("connected", zap.String("account_id", accountID), zap.String("status", st.ConnectionStatus))
	return &restConnection{p: p, accountID: accountID}, nil
}

type restConnection struct {
	p         *RESTProvider
	accountID string

	mu     sync.Mutex
	closed bool
}

func (c *restConnection) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.Wrapf(challenge.ErrConnection, "account %s: connection closed", c.accountID)
	}
	return nil
}

func (c *restConnection) WaitSynchronized(ctx context.Context) error {
	attempts := 0
	st, err := retrier.DoWithData(ctx, c.p.syncRetry, func(ctx context.Context) (accountState, error) {
		attempts++
		if err := c.check(); err != nil {
			return accountState{}, retrier.Permanent(err)
		}
		var st accountState
		if err := c.p.get(ctx, accountPath(c.accountID, ""), &st); err != nil {
			if errors.Is(err, challenge.ErrNotFound) || errors.Is(err, errUnauthorized) {
				return st, retrier.Permanent(err)
			}
			return st, err
		}
		if st.ConnectionStatus != "CONNECTED" {
			return st, errors.Errorf("connection status %s", st.ConnectionStatus)
		}
		return st, nil
	})
	if err != nil {
		if errors.Is(err, challenge.ErrConnection) || errors.Is(err, challenge.ErrNotFound) {
			return errors.Wrapf(err, "synchronize %s", c.accountID)
		}
		return errors.Wrapf(challenge.ErrConnection, "synchronize %s: %v", c.accountID, err)
	}
	c.p.log.Debug("synchronized",
		zap.String("account_id", c.accountID),
		zap.String("state", st.State),
		zap.Int("attempts", attempts),
	)
	return nil
}

type restAccountInfo struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"freeMargin"`
	MarginLevel float64 `json:"marginLevel"`
	Profit      float64 `json:"profit"`
}

func (c *restConnection) AccountInfo(ctx context.Context) (challenge.AccountInfo, error) {
	if err := c.check(); err != nil {
		return challenge.AccountInfo{}, err
	}
	var ri restAccountInfo
	if err := c.p.get(ctx, accountPath(c.accountID, "/account-information"), &ri); err != nil {
		return challenge.AccountInfo{}, errors.Wrap(err, "account information")
	}
	return challenge.AccountInfo{
		Balance:     ri.Balance,
		Equity:      ri.Equity,
		Margin:      ri.Margin,
		FreeMargin:  ri.FreeMargin,
		MarginLevel: ri.MarginLevel,
		Profit:      ri.Profit,
	}, nil
}

type restPosition struct {
	ID     string  `json:"id"`
	Symbol string  `json:"symbol"`
	Profit float64 `json:"profit"`
}

func (c *restConnection) OpenPositions(ctx context.Context) ([]challenge.Position, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	var rps []restPosition
	if err := c.p.get(ctx, accountPath(c.accountID, "/positions"), &rps); err != nil {
		return nil, errors.Wrap(err, "positions")
	}
	out := make([]challenge.Position, 0, len(rps))
	for _, rp := range rps {
		out = append(out, challenge.Position{ID: rp.ID, Symbol: rp.Symbol, Profit: rp.Profit})
	}
	return out, nil
}

type restDeal struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Time       time.Time `json:"time"`
	Profit     float64   `json:"profit"`
	Commission float64   `json:"commission"`
	Swap       float64   `json:"swap"`
}

func (c *restConnection) DealHistory(ctx context.Context, since time.Time) ([]challenge.Deal, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if since.IsZero() {
		since = time.Unix(0, 0)
	}
	path := accountPath(c.accountID, fmt.Sprintf("/history-deals/time/%s/%s",
		url.PathEscape(since.UTC().Format(time.RFC3339)),
		url.PathEscape(time.Now().UTC().Format(time.RFC3339))))

	var rds []restDeal
	if err := c.p.get(ctx, path, &rds); err != nil {
		return nil, errors.Wrap(err, "deal history")
	}
	out := make([]challenge.Deal, 0, len(rds))
	for _, rd := range rds {
		out = append(out, challenge.Deal{
			ID:     rd.ID,
			Time:   rd.Time,
			Profit: rd.Profit + rd.Commission + rd.Swap,
			Side:   dealSide(rd.Type),
		})
	}
	return out, nil
}

func (c *restConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// dealSide maps gateway deal types; anything but a buy or sell execution is
// treated as a balance operation.
func dealSide(t string) challenge.Side {
	switch strings.ToUpper(t) {
	case "DEAL_TYPE_BUY":
		return challenge.SideBuy
	case "DEAL_TYPE_SELL":
		return challenge.SideSell
	default:
		return challenge.SideBalance
	}
}

// errUnauthorized is a connection failure that retrying cannot fix.
var errUnauthorized = errors.Wrap(challenge.ErrConnection, "unauthorized")

func accountPath(accountID, suffix string) string {
	return "/users/current/accounts/" + url.PathEscape(accountID) + suffix
}

// get performs a rate-limited GET and decodes the JSON body into out.
func (p *RESTProvider) get(ctx context.Context, path string, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(challenge.ErrConnection, "rate limit wait: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.cfg.BaseURL, "/")+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("auth-token", p.cfg.Token)
	req.Header.Set("Accept", "application/json")

	res, err := p.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(challenge.ErrConnection, "GET %s: %v", path, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return errors.Wrapf(challenge.ErrNotFound, "GET %s", path)
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return errors.Wrapf(errUnauthorized, "GET %s", path)
	case res.StatusCode >= 300:
		body, err := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		if err != nil {
			return errors.Wrapf(challenge.ErrConnection, "GET %s status %d: read body: %v", path, res.StatusCode, err)
		}
		return errors.Wrapf(challenge.ErrConnection, "GET %s status %d: %s", path, res.StatusCode, string(body))
	}

	// Deal histories grow without bound, so the body is streamed rather than
	// buffered.
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrapf(challenge.ErrConnection, "decode %s: %v", path, err)
	}
	return nil
}

// maxErrorBody caps how much of a failed response is quoted in the error.
const maxErrorBody = 4 << 10
