package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/domain/relay"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
)

func strPtr(s string) *string { return &s }

func TestTransactionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.CreateTransaction(ctx, relay.Transaction{
		ProposalID: "0xbeef",
		Executor:   "0xAAA",
		Nonce:      5,
		TxHash:     strPtr("0x01"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, relay.StatusSubmitted, tx.Status)
	assert.Equal(t, "0xaaa", tx.Executor)

	pending, err := s.ListSubmitted(ctx, 20)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	ok, err := s.MarkConfirmed(ctx, tx.ID, 42, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// terminal rows never move again
	ok, err = s.MarkFailed(ctx, tx.ID, relay.RevertedMessage)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.MarkConfirmed(ctx, tx.ID, 43, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusConfirmed, got.Status)
	assert.Equal(t, uint64(42), *got.BlockNumber)

	p, err := s.GetProposal(ctx, "0xbeef")
	require.NoError(t, err)
	assert.Equal(t, relay.ProposalExecuted, p.Status)
	assert.Equal(t, "0x01", *p.ExecutedTxHash)

	pending, err = s.ListSubmitted(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestListSubmittedSkipsRowsWithoutHashAndHonoursLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.CreateTransaction(ctx, relay.Transaction{
			ProposalID:  "p",
			Executor:    "0xa",
			TxHash:      strPtr("0x0" + string(rune('1'+i))),
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := s.CreateTransaction(ctx, relay.Transaction{ProposalID: "p", Executor: "0xa"})
	require.NoError(t, err)

	got, err := s.ListSubmitted(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "0x01", got[0].Hash())
	assert.Equal(t, "0x03", got[2].Hash())
}

func TestCountByExecutorSince(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	_, _ = s.CreateTransaction(ctx, relay.Transaction{ProposalID: "p", Executor: "0xA", SubmittedAt: now.Add(-25 * time.Hour)})
	_, _ = s.CreateTransaction(ctx, relay.Transaction{ProposalID: "p", Executor: "0xA", SubmittedAt: now.Add(-time.Hour)})
	_, _ = s.CreateTransaction(ctx, relay.Transaction{ProposalID: "p", Executor: "0xa", SubmittedAt: now})
	_, _ = s.CreateTransaction(ctx, relay.Transaction{ProposalID: "p", Executor: "0xB", SubmittedAt: now})

	n, err := s.CountByExecutorSince(ctx, "0xa", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMissingRecords(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetTransaction(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.MarkConfirmed(ctx, "nope", 1, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.SetBlockNumber(ctx, "nope", 1), storage.ErrNotFound)
	_, err = s.GetProposal(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNonceCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CompareAndIncrementNonce(ctx, "0xA", 0))
	assert.ErrorIs(t, s.CompareAndIncrementNonce(ctx, "0xa", 0), storage.ErrNonceMismatch)

	n, err := s.CurrentNonce(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	assert.ErrorIs(t, s.CompareAndDecrementNonce(ctx, "0xa", 1), storage.ErrNonceMismatch)
	require.NoError(t, s.CompareAndDecrementNonce(ctx, "0xa", 0))
	n, _ = s.CurrentNonce(ctx, "0xa")
	assert.Equal(t, uint64(0), n)
}

func TestConcurrentNonceIncrementSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.CompareAndIncrementNonce(ctx, "0xa", 0) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
