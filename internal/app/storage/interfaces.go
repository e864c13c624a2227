package storage

import (
	"context"
	"errors"
	"time"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/domain/relay"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrNonceMismatch is returned by nonce compare-and-swap operations when the
// stored counter differs from the expected value.
var ErrNonceMismatch = errors.New("nonce mismatch")

// TransactionStore persists relayed transactions.
type TransactionStore interface {
	// CreateTransaction inserts tx, assigning ID and timestamps when empty.
	CreateTransaction(ctx context.Context, tx relay.Transaction) (relay.Transaction, error)
	GetTransaction(ctx context.Context, id string) (relay.Transaction, error)
	ListTransactionsByProposal(ctx context.Context, proposalID string) ([]relay.Transaction, error)
	// ListSubmitted returns up to limit SUBMITTED rows that carry a tx hash,
	// oldest first.
	ListSubmitted(ctx context.Context, limit int) ([]relay.Transaction, error)
	// SetBlockNumber records the inclusion block without touching status.
	SetBlockNumber(ctx context.Context, id string, block uint64) error
	// MarkConfirmed moves a SUBMITTED row to CONFIRMED and marks its proposal
	// executed. It reports false when the row was not SUBMITTED.
	MarkConfirmed(ctx context.Context, id string, block uint64, executedAt time.Time) (bool, error)
	// MarkFailed moves a SUBMITTED row to FAILED. It reports false when the
	// row was not SUBMITTED.
	MarkFailed(ctx context.Context, id string, message string) (bool, error)
	// CountByExecutorSince counts relay attempts by executor since t.
	CountByExecutorSince(ctx context.Context, executor string, since time.Time) (int, error)
}

// ProposalStore exposes proposal execution state.
type ProposalStore interface {
	GetProposal(ctx context.Context, id string) (relay.Proposal, error)
}

// NonceStore is the authoritative per-executor intent nonce counter.
type NonceStore interface {
	// CurrentNonce returns the next unused nonce (0 for unknown executors).
	CurrentNonce(ctx context.Context, executor string) (uint64, error)
	// CompareAndIncrementNonce advances the counter from expected to
	// expected+1, or returns ErrNonceMismatch.
	CompareAndIncrementNonce(ctx context.Context, executor string, expected uint64) error
	// CompareAndDecrementNonce rolls the counter back from expected+1 to
	// expected, or returns ErrNonceMismatch.
	CompareAndDecrementNonce(ctx context.Context, executor string, expected uint64) error
}

// Store groups every persistence concern of the relayer.
type Store interface {
	TransactionStore
	ProposalStore
	NonceStore
}
