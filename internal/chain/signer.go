package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the relayer account and serializes submissions from it so that
// concurrent requests never reuse an account nonce.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer

	// permit channel; holding the single permit owns next
	permit chan struct{}
	next   *uint64
}

// NewSigner parses a hex private key with or without 0x prefix.
func NewSigner(hexKey string, chainID *big.Int) (*Signer, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}
	return NewSignerFromKey(key, chainID), nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(key *ecdsa.PrivateKey, chainID *big.Int) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		signer:  types.LatestSignerForChainID(chainID),
		permit:  make(chan struct{}, 1),
	}
}

// Address returns the relayer account address.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer signs for.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// CallRequest describes a contract call to submit.
type CallRequest struct {
	To       common.Address
	Data     []byte
	GasLimit uint64
}

// Send signs and broadcasts req. Submissions from the account are serialized;
// a caller waiting for its turn gives up when ctx is done.
func (s *Signer) Send(ctx context.Context, b Backend, req CallRequest) (*types.Transaction, error) {
	select {
	case s.permit <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.permit }()

	nonce, err := s.accountNonce(ctx, b)
	if err != nil {
		return nil, err
	}

	fees, err := SuggestFees(ctx, b)
	if err != nil {
		return nil, err
	}

	tx, err := s.sign(req, nonce, fees)
	if err != nil {
		return nil, err
	}

	if err := b.SendTransaction(ctx, tx); err != nil {
		// the node's pending view is authoritative again after a failed send
		s.next = nil
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	n := nonce + 1
	s.next = &n
	return tx, nil
}

// accountNonce returns the larger of the node's pending nonce and the locally
// tracked one, covering nodes that lag behind our own broadcasts.
func (s *Signer) accountNonce(ctx context.Context, b Backend) (uint64, error) {
	pending, err := b.PendingNonceAt(ctx, s.address)
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", err)
	}
	if s.next != nil && *s.next > pending {
		return *s.next, nil
	}
	return pending, nil
}

func (s *Signer) sign(req CallRequest, nonce uint64, fees FeeData) (*types.Transaction, error) {
	to := req.To
	var inner types.TxData
	if fees.Dynamic() {
		inner = &types.DynamicFeeTx{
			ChainID:   s.chainID,
			Nonce:     nonce,
			GasTipCap: fees.GasTipCap,
			GasFeeCap: fees.GasFeeCap,
			Gas:       req.GasLimit,
			To:        &to,
			Data:      req.Data,
		}
	} else {
		inner = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      req.GasLimit,
			To:       &to,
			Data:     req.Data,
		}
	}

	tx, err := types.SignNewTx(s.key, s.signer, inner)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}
