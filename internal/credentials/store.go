package credentials

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates no credential record exists for the user/provider pair.
	ErrNotFound = errors.New("credentials: record not found")
	// ErrNoTransaction indicates no pending OAuth transaction exists or it was already consumed.
	ErrNoTransaction = errors.New("credentials: no pending oauth transaction")
	// ErrInvalidKey indicates an empty user id or provider was supplied.
	ErrInvalidKey = errors.New("credentials: user id and provider required")
)

// Store owns credential records and OAuth transaction state. No other
// component mutates them.
type Store interface {
	// Get returns the stored record for the user/provider pair.
	Get(ctx context.Context, userID string, provider Provider) (Record, error)
	// Put creates or overwrites the record for its user/provider pair.
	Put(ctx context.Context, record Record) error
	// Clear removes the record for the user/provider pair. Clearing a
	// missing record is not an error.
	Clear(ctx context.Context, userID string, provider Provider) error

	// PutState stores the pending OAuth nonce, replacing any earlier one.
	PutState(ctx context.Context, state TransactionState) error
	// ConsumeState removes and returns the pending nonce. A second consume
	// for the same transaction fails with ErrNoTransaction.
	ConsumeState(ctx context.Context, userID string, provider Provider) (string, error)
	// ClearState discards a pending nonce without consuming it.
	ClearState(ctx context.Context, userID string, provider Provider) error
}
