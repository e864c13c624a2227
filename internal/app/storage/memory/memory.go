package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/domain/relay"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	transactions map[string]relay.Transaction
	proposals    map[string]relay.Proposal
	nonces       map[string]uint64
	now          func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		transactions: make(map[string]relay.Transaction),
		proposals:    make(map[string]relay.Proposal),
		nonces:       make(map[string]uint64),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// --- TransactionStore -------------------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx relay.Transaction) (relay.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := s.now()
	if tx.SubmittedAt.IsZero() {
		tx.SubmittedAt = now
	}
	if tx.Status == "" {
		tx.Status = relay.StatusSubmitted
	}
	tx.Executor = strings.ToLower(tx.Executor)
	tx.UpdatedAt = now

	s.transactions[tx.ID] = cloneTx(tx)
	if _, ok := s.proposals[tx.ProposalID]; !ok {
		s.proposals[tx.ProposalID] = relay.Proposal{ID: tx.ProposalID, Status: relay.ProposalPending, UpdatedAt: now}
	}
	return cloneTx(tx), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (relay.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return relay.Transaction{}, storage.ErrNotFound
	}
	return cloneTx(tx), nil
}

func (s *Store) ListTransactionsByProposal(_ context.Context, proposalID string) ([]relay.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []relay.Transaction
	for _, tx := range s.transactions {
		if tx.ProposalID == proposalID {
			out = append(out, cloneTx(tx))
		}
	}
	sortBySubmitted(out)
	return out, nil
}

func (s *Store) ListSubmitted(_ context.Context, limit int) ([]relay.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []relay.Transaction
	for _, tx := range s.transactions {
		if tx.Status == relay.StatusSubmitted && tx.TxHash != nil {
			out = append(out, cloneTx(tx))
		}
	}
	sortBySubmitted(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetBlockNumber(_ context.Context, id string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return storage.ErrNotFound
	}
	tx.BlockNumber = &block
	tx.UpdatedAt = s.now()
	s.transactions[id] = tx
	return nil
}

func (s *Store) MarkConfirmed(_ context.Context, id string, block uint64, executedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if tx.Status != relay.StatusSubmitted {
		return false, nil
	}

	now := s.now()
	tx.Status = relay.StatusConfirmed
	tx.BlockNumber = &block
	tx.ExecutedAt = &executedAt
	tx.UpdatedAt = now
	s.transactions[id] = tx

	hash := tx.Hash()
	s.proposals[tx.ProposalID] = relay.Proposal{
		ID:             tx.ProposalID,
		Status:         relay.ProposalExecuted,
		ExecutedTxHash: &hash,
		ExecutedAt:     &executedAt,
		UpdatedAt:      now,
	}
	return true, nil
}

func (s *Store) MarkFailed(_ context.Context, id string, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if tx.Status != relay.StatusSubmitted {
		return false, nil
	}
	tx.Status = relay.StatusFailed
	tx.ErrorMessage = &message
	tx.UpdatedAt = s.now()
	s.transactions[id] = tx
	return true, nil
}

func (s *Store) CountByExecutorSince(_ context.Context, executor string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	executor = strings.ToLower(executor)
	count := 0
	for _, tx := range s.transactions {
		if tx.Executor == executor && !tx.SubmittedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// --- ProposalStore ----------------------------------------------------------

func (s *Store) GetProposal(_ context.Context, id string) (relay.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return relay.Proposal{}, storage.ErrNotFound
	}
	return p, nil
}

// --- NonceStore -------------------------------------------------------------

func (s *Store) CurrentNonce(_ context.Context, executor string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[strings.ToLower(executor)], nil
}

func (s *Store) CompareAndIncrementNonce(_ context.Context, executor string, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(executor)
	if s.nonces[key] != expected {
		return storage.ErrNonceMismatch
	}
	s.nonces[key] = expected + 1
	return nil
}

func (s *Store) CompareAndDecrementNonce(_ context.Context, executor string, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(executor)
	if s.nonces[key] != expected+1 {
		return storage.ErrNonceMismatch
	}
	s.nonces[key] = expected
	return nil
}

// --- helpers ----------------------------------------------------------------

func cloneTx(tx relay.Transaction) relay.Transaction {
	out := tx
	if tx.TxHash != nil {
		v := *tx.TxHash
		out.TxHash = &v
	}
	if tx.ErrorMessage != nil {
		v := *tx.ErrorMessage
		out.ErrorMessage = &v
	}
	if tx.BlockNumber != nil {
		v := *tx.BlockNumber
		out.BlockNumber = &v
	}
	if tx.ExecutedAt != nil {
		v := *tx.ExecutedAt
		out.ExecutedAt = &v
	}
	return out
}

func sortBySubmitted(txs []relay.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].SubmittedAt.Equal(txs[j].SubmittedAt) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].SubmittedAt.Before(txs[j].SubmittedAt)
	})
}
