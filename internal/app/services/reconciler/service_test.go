package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/domain/relay"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/metrics"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage/memory"
	svcerrors "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/errors"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/pkg/testutil"
)

// flakyChain fails receipt lookups for selected hashes.
type flakyChain struct {
	*testutil.MockChain
	broken map[common.Hash]bool
}

func (f *flakyChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.broken[hash] {
		return nil, errors.New("upstream 502")
	}
	return f.MockChain.TransactionReceipt(ctx, hash)
}

type lostRaceStore struct{ *memory.Store }

func (lostRaceStore) MarkConfirmed(context.Context, string, uint64, time.Time) (bool, error) {
	return false, nil
}

func seed(t *testing.T, store *memory.Store, n int) []relay.Transaction {
	t.Helper()
	out := make([]relay.Transaction, 0, n)
	for i := 0; i < n; i++ {
		hash := common.HexToHash(fmt.Sprintf("0x%064x", i+1)).Hex()
		rec, err := store.CreateTransaction(context.Background(), relay.Transaction{
			ProposalID: common.HexToHash(fmt.Sprintf("0x%x", 0xbeef+i)).Hex(),
			Executor:   "0xaaa",
			Nonce:      uint64(i),
			TxHash:     &hash,
			Status:     relay.StatusSubmitted,
		})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func newWatcher(t *testing.T, store *memory.Store, backend *testutil.MockChain) *Service {
	t.Helper()
	svc, err := New(store, backend, 0, nil)
	require.NoError(t, err)
	return svc.WithMetrics(metrics.New())
}

func TestRunConfirmsSuccessfulReceipt(t *testing.T) {
	store := memory.New()
	mc := testutil.NewMockChain(31337)
	recs := seed(t, store, 1)
	block := mc.Mine(common.HexToHash(recs[0].Hash()), types.ReceiptStatusSuccessful)

	summary, err := newWatcher(t, store, mc).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, relay.StatusConfirmed, summary.Results[0].Status)

	got, err := store.GetTransaction(context.Background(), recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusConfirmed, got.Status)
	require.NotNil(t, got.BlockNumber)
	assert.Equal(t, block, *got.BlockNumber)
	require.NotNil(t, got.ExecutedAt)
	assert.Equal(t, int64(1_700_000_000+block*12), got.ExecutedAt.Unix())

	proposal, err := store.GetProposal(context.Background(), recs[0].ProposalID)
	require.NoError(t, err)
	assert.Equal(t, relay.ProposalExecuted, proposal.Status)
}

func TestRunFailsRevertedReceipt(t *testing.T) {
	store := memory.New()
	mc := testutil.NewMockChain(31337)
	recs := seed(t, store, 1)
	mc.Mine(common.HexToHash(recs[0].Hash()), types.ReceiptStatusFailed)

	summary, err := newWatcher(t, store, mc).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	got, err := store.GetTransaction(context.Background(), recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, relay.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "Tx Reverted on-chain", *got.ErrorMessage)
}

func TestRunLeavesPendingUntouched(t *testing.T) {
	store := memory.New()
	recs := seed(t, store, 2)

	summary, err := newWatcher(t, store, testutil.NewMockChain(31337)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	require.Len(t, summary.Results, 2)
	for _, r := range summary.Results {
		assert.Equal(t, relay.StatusSubmitted, r.Status)
		assert.Empty(t, r.Error)
	}

	got, _ := store.GetTransaction(context.Background(), recs[0].ID)
	assert.Equal(t, relay.StatusSubmitted, got.Status)
}

func TestRunIsIdempotent(t *testing.T) {
	store := memory.New()
	mc := testutil.NewMockChain(31337)
	recs := seed(t, store, 3)
	mc.Mine(common.HexToHash(recs[0].Hash()), types.ReceiptStatusSuccessful)
	mc.Mine(common.HexToHash(recs[1].Hash()), types.ReceiptStatusFailed)
	w := newWatcher(t, store, mc)

	first, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)

	second, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	require.Len(t, second.Results, 1, "terminal rows are not re-queried")
	assert.Equal(t, recs[2].ID, second.Results[0].ID)
}

func TestRunTerminalStateIsFinal(t *testing.T) {
	store := memory.New()
	mc := testutil.NewMockChain(31337)
	recs := seed(t, store, 1)
	hash := common.HexToHash(recs[0].Hash())
	mc.Mine(hash, types.ReceiptStatusFailed)
	w := newWatcher(t, store, mc)

	_, err := w.Run(context.Background())
	require.NoError(t, err)

	// a later, contradicting receipt must not flip the terminal state
	mc.Mine(hash, types.ReceiptStatusSuccessful)
	_, err = w.Run(context.Background())
	require.NoError(t, err)

	got, _ := store.GetTransaction(context.Background(), recs[0].ID)
	assert.Equal(t, relay.StatusFailed, got.Status)
}

func TestRunIsolatesItemErrors(t *testing.T) {
	store := memory.New()
	mc := testutil.NewMockChain(31337)
	recs := seed(t, store, 3)
	for _, r := range recs {
		mc.Mine(common.HexToHash(r.Hash()), types.ReceiptStatusSuccessful)
	}
	backend := &flakyChain{MockChain: mc, broken: map[common.Hash]bool{common.HexToHash(recs[1].Hash()): true}}

	svc, err := New(store, backend, 0, nil)
	require.NoError(t, err)
	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	var errored int
	for _, r := range summary.Results {
		if r.Error != "" {
			errored++
			assert.Equal(t, recs[1].ID, r.ID)
			assert.Equal(t, relay.StatusSubmitted, r.Status)
		}
	}
	assert.Equal(t, 1, errored)

	got, _ := store.GetTransaction(context.Background(), recs[1].ID)
	assert.Equal(t, relay.StatusSubmitted, got.Status, "left for the next run")
}

func TestRunRespectsBatchSize(t *testing.T) {
	store := memory.New()
	seed(t, store, DefaultBatchSize+5)

	summary, err := newWatcher(t, store, testutil.NewMockChain(31337)).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Results, DefaultBatchSize)
}

func TestRunLoadFailure(t *testing.T) {
	store := testutil.NewFaultyStore(memory.New())
	store.Fail(testutil.OpListSubmitted, errors.New("connection reset"))
	svc, err := New(store, testutil.NewMockChain(31337), 0, nil)
	require.NoError(t, err)
	_, err = svc.Run(context.Background())
	assert.True(t, svcerrors.IsKind(err, svcerrors.KindPersistence))
}

func TestRunLostRaceNotCounted(t *testing.T) {
	store := memory.New()
	mc := testutil.NewMockChain(31337)
	recs := seed(t, store, 1)
	mc.Mine(common.HexToHash(recs[0].Hash()), types.ReceiptStatusSuccessful)

	svc, err := New(lostRaceStore{store}, mc, 0, nil)
	require.NoError(t, err)
	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, testutil.NewMockChain(1), 0, nil)
	assert.Error(t, err)
	_, err = New(memory.New(), nil, 0, nil)
	assert.Error(t, err)
}
