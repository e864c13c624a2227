// Package intent builds, signs and verifies EIP-712 execution intents for the
// gasless proposal executor.
//
// An intent authorizes the relayer to execute a governance proposal on behalf
// of an executor. The typed-data layout is
//
//	Execute(address executor,bytes32 proposalId,uint256 nonce,uint256 deadline)
//
// under the domain (name, version, chainId, verifyingContract).
package intent

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DefaultDomainName    = "GaslessExecutor"
	DefaultDomainVersion = "1"

	primaryType = "Execute"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrIntentExpired    = errors.New("intent deadline has passed")
	ErrInvalidProposal  = errors.New("invalid proposal id")
)

// Domain is the EIP-712 domain separator input.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain fills in the default name and version.
func NewDomain(chainID *big.Int, contract common.Address) Domain {
	return Domain{
		Name:              DefaultDomainName,
		Version:           DefaultDomainVersion,
		ChainID:           chainID,
		VerifyingContract: contract,
	}
}

// ExecutionIntent is the message an executor signs.
type ExecutionIntent struct {
	Executor   common.Address
	ProposalID common.Hash
	Nonce      uint64
	Deadline   int64
}

var executeTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	primaryType: {
		{Name: "executor", Type: "address"},
		{Name: "proposalId", Type: "bytes32"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// TypedData returns the EIP-712 structure a wallet is asked to sign.
func TypedData(d Domain, in ExecutionIntent) apitypes.TypedData {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return apitypes.TypedData{
		Types:       executeTypes,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"executor":   in.Executor.Hex(),
			"proposalId": in.ProposalID.Hex(),
			"nonce":      strconv.FormatUint(in.Nonce, 10),
			"deadline":   strconv.FormatInt(in.Deadline, 10),
		},
	}
}

// Hash returns the digest that is signed: keccak256("\x19\x01" || domainSeparator || structHash).
func Hash(d Domain, in ExecutionIntent) (common.Hash, error) {
	if in.Deadline < 0 {
		return common.Hash{}, fmt.Errorf("negative deadline %d", in.Deadline)
	}
	digest, _, err := apitypes.TypedDataAndHash(TypedData(d, in))
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash typed data: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// Sign produces a 65-byte [R || S || V] signature with V in {27, 28}, the form
// wallets return from eth_signTypedData_v4.
func Sign(d Domain, in ExecutionIntent, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := Hash(d, in)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that produced sig over the intent.
func Recover(d Domain, in ExecutionIntent, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[crypto.RecoveryIDOffset], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: malformed values", ErrInvalidSignature)
	}

	digest, err := Hash(d, in)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sig was produced by the intent's executor.
func Verify(d Domain, in ExecutionIntent, sig []byte) error {
	signer, err := Recover(d, in, sig)
	if err != nil {
		return err
	}
	if signer != in.Executor {
		return fmt.Errorf("%w: signed by %s, not executor %s", ErrInvalidSignature, signer.Hex(), in.Executor.Hex())
	}
	return nil
}

// CheckDeadline rejects intents whose deadline is not strictly in the future.
func CheckDeadline(in ExecutionIntent, now time.Time) error {
	if in.Deadline <= now.Unix() {
		return ErrIntentExpired
	}
	return nil
}

// ParseProposalID decodes a hex proposal identifier of at most 32 bytes,
// left-padding shorter values.
func ParseProposalID(s string) (common.Hash, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if raw == "" {
		return common.Hash{}, fmt.Errorf("%w: empty", ErrInvalidProposal)
	}
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	if len(b) > common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %d bytes exceeds 32", ErrInvalidProposal, len(b))
	}
	return common.BytesToHash(b), nil
}

// ParseSignature decodes a 0x-prefixed 65-byte hex signature.
func ParseSignature(s string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(b) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(b))
	}
	return b, nil
}
