package challenge

import "github.com/pkg/errors"

var (
	// ErrNotFound: account or challenge rules missing.
	ErrNotFound = errors.New("not found")
	// ErrConnection: data provider unreachable or not synchronized.
	ErrConnection = errors.New("provider connection failure")
	// ErrPersistence: a store write failed.
	ErrPersistence = errors.New("persistence failure")
	// ErrTerminal: the account already reached failed or passed.
	ErrTerminal = errors.New("account is in a terminal state")
)
