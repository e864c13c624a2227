package chain

import (
	"context"
	"fmt"
	"math/big"
)

// FeeData holds either EIP-1559 caps or a legacy gas price.
type FeeData struct {
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasPrice  *big.Int
}

// Dynamic reports whether the fees describe an EIP-1559 transaction.
func (f FeeData) Dynamic() bool {
	return f.GasFeeCap != nil
}

// MaxCost returns the upper bound the sender pays for gasLimit units.
func (f FeeData) MaxCost(gasLimit uint64) *big.Int {
	price := f.GasPrice
	if f.Dynamic() {
		price = f.GasFeeCap
	}
	if price == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(price, new(big.Int).SetUint64(gasLimit))
}

// SuggestFees uses EIP-1559 pricing when the latest header carries a base fee,
// with a fee cap of twice the base fee plus the tip.
func SuggestFees(ctx context.Context, b Backend) (FeeData, error) {
	head, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeData{}, fmt.Errorf("latest header: %w", err)
	}

	if head.BaseFee != nil {
		tip, err := b.SuggestGasTipCap(ctx)
		if err != nil {
			return FeeData{}, fmt.Errorf("suggest tip: %w", err)
		}
		feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		return FeeData{GasTipCap: tip, GasFeeCap: feeCap}, nil
	}

	price, err := b.SuggestGasPrice(ctx)
	if err != nil {
		return FeeData{}, fmt.Errorf("suggest gas price: %w", err)
	}
	return FeeData{GasPrice: price}, nil
}
