// Package provider is the boundary to the trading platform that supplies live
// account state and trade history.
package provider

import (
	"context"
	"time"

	"challenge-core/internal/challenge"
)

// Provider opens connections to trading accounts.
type Provider interface {
	// Connect returns a connection for accountID. Failures wrap
	// challenge.ErrConnection, or challenge.ErrNotFound when the platform
	// does not know the account.
	Connect(ctx context.Context, accountID string) (Connection, error)
}

// Connection is a live handle to one trading account.
type Connection interface {
	// WaitSynchronized blocks until the platform has caught up with the
	// account's terminal state, or ctx ends.
	WaitSynchronized(ctx context.Context) error
	AccountInfo(ctx context.Context) (challenge.AccountInfo, error)
	OpenPositions(ctx context.Context) ([]challenge.Position, error)
	// DealHistory returns deals executed at or after since.
	DealHistory(ctx context.Context, since time.Time) ([]challenge.Deal, error)
	Close() error
}
