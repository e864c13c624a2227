package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/domain/relay"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const transactionColumns = `id, proposal_id, executor, nonce, tx_hash, status, error_message,
	block_number, submitted_at, executed_at, updated_at`

// --- TransactionStore -------------------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, tx relay.Transaction) (relay.Transaction, error) {
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

	err := s.inTx(ctx, func(dbtx *sqlx.Tx) error {
		if _, err := dbtx.ExecContext(ctx, `
			INSERT INTO relayed_transactions (id, proposal_id, executor, nonce, tx_hash, status,
				error_message, block_number, submitted_at, executed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, tx.ID, tx.ProposalID, tx.Executor, tx.Nonce, tx.TxHash, tx.Status,
			tx.ErrorMessage, tx.BlockNumber, tx.SubmittedAt, tx.ExecutedAt, tx.UpdatedAt); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		if _, err := dbtx.ExecContext(ctx, `
			INSERT INTO proposals (id, status, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, tx.ProposalID, relay.ProposalPending, now); err != nil {
			return fmt.Errorf("ensure proposal: %w", err)
		}
		return nil
	})
	if err != nil {
		return relay.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (relay.Transaction, error) {
	var tx relay.Transaction
	err := s.db.GetContext(ctx, &tx, `
		SELECT `+transactionColumns+`
		FROM relayed_transactions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return relay.Transaction{}, storage.ErrNotFound
	}
	return tx, err
}

func (s *Store) ListTransactionsByProposal(ctx context.Context, proposalID string) ([]relay.Transaction, error) {
	var txs []relay.Transaction
	err := s.db.SelectContext(ctx, &txs, `
		SELECT `+transactionColumns+`
		FROM relayed_transactions
		WHERE proposal_id = $1
		ORDER BY submitted_at, id
	`, proposalID)
	return txs, err
}

func (s *Store) ListSubmitted(ctx context.Context, limit int) ([]relay.Transaction, error) {
	var txs []relay.Transaction
	err := s.db.SelectContext(ctx, &txs, `
		SELECT `+transactionColumns+`
		FROM relayed_transactions
		WHERE status = $1 AND tx_hash IS NOT NULL
		ORDER BY submitted_at, id
		LIMIT $2
	`, relay.StatusSubmitted, limit)
	return txs, err
}

func (s *Store) SetBlockNumber(ctx context.Context, id string, block uint64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE relayed_transactions
		SET block_number = $2, updated_at = $3
		WHERE id = $1
	`, id, block, s.now())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) MarkConfirmed(ctx context.Context, id string, block uint64, executedAt time.Time) (bool, error) {
	var moved bool
	err := s.inTx(ctx, func(dbtx *sqlx.Tx) error {
		now := s.now()
		var row struct {
			ProposalID string  `db:"proposal_id"`
			TxHash     *string `db:"tx_hash"`
		}
		err := dbtx.GetContext(ctx, &row, `
			UPDATE relayed_transactions
			SET status = $2, block_number = $3, executed_at = $4, updated_at = $5
			WHERE id = $1 AND status = $6
			RETURNING proposal_id, tx_hash
		`, id, relay.StatusConfirmed, block, executedAt, now, relay.StatusSubmitted)
		if errors.Is(err, sql.ErrNoRows) {
			return s.requireExists(ctx, dbtx, id)
		}
		if err != nil {
			return fmt.Errorf("confirm transaction: %w", err)
		}

		if _, err := dbtx.ExecContext(ctx, `
			INSERT INTO proposals (id, status, executed_tx_hash, executed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET status = EXCLUDED.status,
				executed_tx_hash = EXCLUDED.executed_tx_hash,
				executed_at = EXCLUDED.executed_at,
				updated_at = EXCLUDED.updated_at
		`, row.ProposalID, relay.ProposalExecuted, row.TxHash, executedAt, now); err != nil {
			return fmt.Errorf("mark proposal executed: %w", err)
		}
		moved = true
		return nil
	})
	return moved, err
}

func (s *Store) MarkFailed(ctx context.Context, id string, message string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE relayed_transactions
		SET status = $2, error_message = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, relay.StatusFailed, message, s.now(), relay.StatusSubmitted)
	if err != nil {
		return false, err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return true, nil
	}
	return false, s.requireExists(ctx, s.db, id)
}

func (s *Store) CountByExecutorSince(ctx context.Context, executor string, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*)
		FROM relayed_transactions
		WHERE executor = $1 AND submitted_at >= $2
	`, strings.ToLower(executor), since)
	return n, err
}

// --- ProposalStore ----------------------------------------------------------

func (s *Store) GetProposal(ctx context.Context, id string) (relay.Proposal, error) {
	var p relay.Proposal
	err := s.db.GetContext(ctx, &p, `
		SELECT id, status, executed_tx_hash, executed_at, updated_at
		FROM proposals
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return relay.Proposal{}, storage.ErrNotFound
	}
	return p, err
}

// --- NonceStore -------------------------------------------------------------

func (s *Store) CurrentNonce(ctx context.Context, executor string) (uint64, error) {
	var n uint64
	err := s.db.GetContext(ctx, &n, `
		SELECT next_nonce FROM executor_nonces WHERE executor = $1
	`, strings.ToLower(executor))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *Store) CompareAndIncrementNonce(ctx context.Context, executor string, expected uint64) error {
	key := strings.ToLower(executor)
	now := s.now()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO executor_nonces (executor, next_nonce, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (executor) DO NOTHING
	`, key, now); err != nil {
		return fmt.Errorf("ensure nonce row: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE executor_nonces
		SET next_nonce = next_nonce + 1, updated_at = $3
		WHERE executor = $1 AND next_nonce = $2
	`, key, expected, now)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNonceMismatch
	}
	return nil
}

func (s *Store) CompareAndDecrementNonce(ctx context.Context, executor string, expected uint64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE executor_nonces
		SET next_nonce = next_nonce - 1, updated_at = $3
		WHERE executor = $1 AND next_nonce = $2
	`, strings.ToLower(executor), expected+1, s.now())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNonceMismatch
	}
	return nil
}

// --- helpers ----------------------------------------------------------------

func (s *Store) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	dbtx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(dbtx); err != nil {
		_ = dbtx.Rollback()
		return err
	}
	return dbtx.Commit()
}

// requireExists distinguishes "already terminal" (nil) from "missing row".
func (s *Store) requireExists(ctx context.Context, q sqlx.QueryerContext, id string) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `
		SELECT EXISTS (SELECT 1 FROM relayed_transactions WHERE id = $1)
	`, id); err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}
