package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ExecutorABI describes the on-chain entry point the relayer calls.
const ExecutorABI = `[
  {
    "type": "function",
    "name": "executeWithSignature",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "executor",   "type": "address"},
      {"name": "proposalId", "type": "bytes32"},
      {"name": "nonce",      "type": "uint256"},
      {"name": "deadline",   "type": "uint256"},
      {"name": "signature",  "type": "bytes"}
    ],
    "outputs": []
  }
]`

const executeMethod = "executeWithSignature"

// ExecutorContract packs calls to the gasless executor contract.
type ExecutorContract struct {
	address common.Address
	abi     abi.ABI
}

// NewExecutorContract parses the contract ABI and binds it to address.
func NewExecutorContract(address common.Address) (*ExecutorContract, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("executor contract address required")
	}
	parsed, err := abi.JSON(strings.NewReader(ExecutorABI))
	if err != nil {
		return nil, fmt.Errorf("parse executor abi: %w", err)
	}
	return &ExecutorContract{address: address, abi: parsed}, nil
}

// Address returns the contract address.
func (c *ExecutorContract) Address() common.Address {
	return c.address
}

// PackExecute encodes executeWithSignature calldata.
func (c *ExecutorContract) PackExecute(executor common.Address, proposalID common.Hash, nonce uint64, deadline int64, signature []byte) ([]byte, error) {
	data, err := c.abi.Pack(executeMethod,
		executor,
		[32]byte(proposalID),
		new(big.Int).SetUint64(nonce),
		big.NewInt(deadline),
		signature,
	)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", executeMethod, err)
	}
	return data, nil
}
