// Package chain provides EVM chain access for the relayer: RPC dialing, the
// executor contract binding, fee estimation, transaction signing with a
// serialized account nonce, and receipt polling.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of the JSON-RPC client the relayer depends on.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Config holds client configuration.
type Config struct {
	RPCURL      string
	ChainID     int64
	DialTimeout time.Duration
}

// Dial connects to the RPC endpoint and verifies that it serves the expected
// chain. A zero ChainID skips the check.
func Dial(ctx context.Context, cfg Config) (*ethclient.Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	if cfg.ChainID != 0 {
		got, err := client.ChainID(dialCtx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("query chain id: %w", err)
		}
		if got.Cmp(big.NewInt(cfg.ChainID)) != 0 {
			client.Close()
			return nil, fmt.Errorf("rpc serves chain %s, expected %d", got, cfg.ChainID)
		}
	}
	return client, nil
}

// Balance returns the latest balance of account.
func Balance(ctx context.Context, b Backend, account common.Address) (*big.Int, error) {
	bal, err := b.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", account.Hex(), err)
	}
	return bal, nil
}

// BlockTime returns the timestamp of the given block.
func BlockTime(ctx context.Context, b Backend, number uint64) (time.Time, error) {
	header, err := b.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}
