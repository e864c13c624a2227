package testutil

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MockChain is an in-memory chain backend. Transactions are only mined when
// the test calls Mine or when AutoMine is set.
type MockChain struct {
	mu sync.Mutex

	chainID  *big.Int
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	blocks   map[uint64]uint64 // number -> unix time
	sent     []*types.Transaction
	head     uint64

	// BaseFee switches between EIP-1559 (non-nil) and legacy pricing.
	BaseFee  *big.Int
	GasPrice *big.Int
	GasTip   *big.Int

	// AutoMine mines every accepted transaction with this receipt status.
	AutoMine *uint64

	SendErr    error
	BalanceErr error
	ReceiptErr error
	HeaderErr  error
	NonceErr   error
}

// NewMockChain creates a chain at block 100 with a 1 gwei base fee.
func NewMockChain(chainID int64) *MockChain {
	return &MockChain{
		chainID:  big.NewInt(chainID),
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
		blocks:   make(map[uint64]uint64),
		head:     100,
		BaseFee:  big.NewInt(1_000_000_000),
		GasPrice: big.NewInt(2_000_000_000),
		GasTip:   big.NewInt(100_000_000),
	}
}

// SetBalance sets the balance of addr.
func (m *MockChain) SetBalance(addr common.Address, wei *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] = new(big.Int).Set(wei)
}

// SetPendingNonce overrides the pending nonce reported for addr.
func (m *MockChain) SetPendingNonce(addr common.Address, nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[addr] = nonce
}

// Sent returns every transaction accepted by SendTransaction.
func (m *MockChain) Sent() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Transaction, len(m.sent))
	copy(out, m.sent)
	return out
}

// Mine records a receipt for hash in a new block and returns the block number.
func (m *MockChain) Mine(hash common.Hash, status uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mineLocked(hash, status)
}

func (m *MockChain) mineLocked(hash common.Hash, status uint64) uint64 {
	m.head++
	m.blocks[m.head] = 1_700_000_000 + m.head*12
	m.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(m.head),
		GasUsed:     21000,
	}
	return m.head
}

func (m *MockChain) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.chainID), nil
}

func (m *MockChain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceErr != nil {
		return nil, m.BalanceErr
	}
	if bal, ok := m.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (m *MockChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NonceErr != nil {
		return 0, m.NonceErr
	}
	return m.nonces[account], nil
}

func (m *MockChain) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.GasPrice), nil
}

func (m *MockChain) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.GasTip), nil
}

func (m *MockChain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HeaderErr != nil {
		return nil, m.HeaderErr
	}
	n := m.head
	if number != nil {
		n = number.Uint64()
	}
	ts, ok := m.blocks[n]
	if !ok {
		ts = 1_700_000_000 + n*12
	}
	h := &types.Header{Number: new(big.Int).SetUint64(n), Time: ts}
	if m.BaseFee != nil {
		h.BaseFee = new(big.Int).Set(m.BaseFee)
	}
	return h, nil
}

func (m *MockChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	from, err := types.Sender(types.LatestSignerForChainID(m.chainID), tx)
	if err != nil {
		return err
	}
	if tx.Nonce() >= m.nonces[from] {
		m.nonces[from] = tx.Nonce() + 1
	}
	m.sent = append(m.sent, tx)
	if m.AutoMine != nil {
		m.mineLocked(tx.Hash(), *m.AutoMine)
	}
	return nil
}

func (m *MockChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReceiptErr != nil {
		return nil, m.ReceiptErr
	}
	r, ok := m.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	cp := *r
	return &cp, nil
}

// Status is a helper for AutoMine.
func Status(s uint64) *uint64 { return &s }
