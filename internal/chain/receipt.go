package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrConfirmationTimeout is returned when no receipt appears before the wait
// deadline. The transaction may still be mined later.
var ErrConfirmationTimeout = errors.New("timed out waiting for receipt")

// FetchReceipt returns the receipt for hash, or (nil, nil) while the
// transaction is still pending.
func FetchReceipt(ctx context.Context, b Backend, hash common.Hash) (*types.Receipt, error) {
	receipt, err := b.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

// WaitForReceipt polls until a receipt for hash is available, timeout elapses
// or ctx is done. RPC errors while polling are retried; the last one is
// attached to the timeout error.
func WaitForReceipt(ctx context.Context, b Backend, hash common.Hash, timeout, poll time.Duration) (*types.Receipt, error) {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := FetchReceipt(ctx, b, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %s (last error: %v)", ErrConfirmationTimeout, hash.Hex(), lastErr)
			}
			return nil, fmt.Errorf("%w: %s", ErrConfirmationTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

// Succeeded reports whether the receipt records successful execution.
func Succeeded(r *types.Receipt) bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}
