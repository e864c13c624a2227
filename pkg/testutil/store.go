package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/domain/relay"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
)

// Store method names accepted by FaultyStore.Fail.
const (
	OpCreateTransaction   = "CreateTransaction"
	OpGetTransaction      = "GetTransaction"
	OpListByProposal      = "ListTransactionsByProposal"
	OpListSubmitted       = "ListSubmitted"
	OpSetBlockNumber      = "SetBlockNumber"
	OpMarkConfirmed       = "MarkConfirmed"
	OpMarkFailed          = "MarkFailed"
	OpCountByExecutor     = "CountByExecutorSince"
	OpGetProposal         = "GetProposal"
	OpCurrentNonce        = "CurrentNonce"
	OpCompareAndIncrement = "CompareAndIncrementNonce"
	OpCompareAndDecrement = "CompareAndDecrementNonce"
)

// FaultyStore wraps a storage.Store and returns injected errors for selected
// operations. Operations without an injected error reach the wrapped store.
type FaultyStore struct {
	storage.Store

	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
}

var _ storage.Store = (*FaultyStore)(nil)

// NewFaultyStore wraps inner.
func NewFaultyStore(inner storage.Store) *FaultyStore {
	return &FaultyStore{Store: inner, errs: make(map[string]error), calls: make(map[string]int)}
}

// Fail makes op return err until Clear is called. A nil err clears op.
func (s *FaultyStore) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, op)
		return
	}
	s.errs[op] = err
}

// Clear removes every injected error.
func (s *FaultyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = make(map[string]error)
}

// Calls reports how many times op was invoked, failed or not.
func (s *FaultyStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *FaultyStore) check(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.errs[op]
}

func (s *FaultyStore) CreateTransaction(ctx context.Context, tx relay.Transaction) (relay.Transaction, error) {
	if err := s.check(OpCreateTransaction); err != nil {
		return relay.Transaction{}, err
	}
	return s.Store.CreateTransaction(ctx, tx)
}

func (s *FaultyStore) GetTransaction(ctx context.Context, id string) (relay.Transaction, error) {
	if err := s.check(OpGetTransaction); err != nil {
		return relay.Transaction{}, err
	}
	return s.Store.GetTransaction(ctx, id)
}

func (s *FaultyStore) ListTransactionsByProposal(ctx context.Context, proposalID string) ([]relay.Transaction, error) {
	if err := s.check(OpListByProposal); err != nil {
		return nil, err
	}
	return s.Store.ListTransactionsByProposal(ctx, proposalID)
}

func (s *FaultyStore) ListSubmitted(ctx context.Context, limit int) ([]relay.Transaction, error) {
	if err := s.check(OpListSubmitted); err != nil {
		return nil, err
	}
	return s.Store.ListSubmitted(ctx, limit)
}

func (s *FaultyStore) SetBlockNumber(ctx context.Context, id string, block uint64) error {
	if err := s.check(OpSetBlockNumber); err != nil {
		return err
	}
	return s.Store.SetBlockNumber(ctx, id, block)
}

func (s *FaultyStore) MarkConfirmed(ctx context.Context, id string, block uint64, executedAt time.Time) (bool, error) {
	if err := s.check(OpMarkConfirmed); err != nil {
		return false, err
	}
	return s.Store.MarkConfirmed(ctx, id, block, executedAt)
}

func (s *FaultyStore) MarkFailed(ctx context.Context, id string, message string) (bool, error) {
	if err := s.check(OpMarkFailed); err != nil {
		return false, err
	}
	return s.Store.MarkFailed(ctx, id, message)
}

func (s *FaultyStore) CountByExecutorSince(ctx context.Context, executor string, since time.Time) (int, error) {
	if err := s.check(OpCountByExecutor); err != nil {
		return 0, err
	}
	return s.Store.CountByExecutorSince(ctx, executor, since)
}

func (s *FaultyStore) GetProposal(ctx context.Context, id string) (relay.Proposal, error) {
	if err := s.check(OpGetProposal); err != nil {
		return relay.Proposal{}, err
	}
	return s.Store.GetProposal(ctx, id)
}

func (s *FaultyStore) CurrentNonce(ctx context.Context, executor string) (uint64, error) {
	if err := s.check(OpCurrentNonce); err != nil {
		return 0, err
	}
	return s.Store.CurrentNonce(ctx, executor)
}

func (s *FaultyStore) CompareAndIncrementNonce(ctx context.Context, executor string, expected uint64) error {
	if err := s.check(OpCompareAndIncrement); err != nil {
		return err
	}
	return s.Store.CompareAndIncrementNonce(ctx, executor, expected)
}

func (s *FaultyStore) CompareAndDecrementNonce(ctx context.Context, executor string, expected uint64) error {
	if err := s.check(OpCompareAndDecrement); err != nil {
		return err
	}
	return s.Store.CompareAndDecrementNonce(ctx, executor, expected)
}
