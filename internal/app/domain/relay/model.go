package relay

import "time"

// Status is the lifecycle state of a relayed transaction.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// RevertedMessage is recorded on transactions whose receipt reports failure.
const RevertedMessage = "Tx Reverted on-chain"

// Transaction is one relay attempt that reached the network. It is created in
// SUBMITTED state right after broadcast and moves exactly once to CONFIRMED or
// FAILED.
type Transaction struct {
	ID           string     `json:"id" db:"id"`
	ProposalID   string     `json:"proposalId" db:"proposal_id"`
	Executor     string     `json:"executor" db:"executor"`
	Nonce        uint64     `json:"nonce" db:"nonce"`
	TxHash       *string    `json:"txHash" db:"tx_hash"`
	Status       Status     `json:"status" db:"status"`
	ErrorMessage *string    `json:"errorMessage" db:"error_message"`
	BlockNumber  *uint64    `json:"blockNumber" db:"block_number"`
	SubmittedAt  time.Time  `json:"submittedAt" db:"submitted_at"`
	ExecutedAt   *time.Time `json:"executedAt" db:"executed_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// Hash returns the transaction hash or "" when none was recorded.
func (t Transaction) Hash() string {
	if t.TxHash == nil {
		return ""
	}
	return *t.TxHash
}

// ProposalStatus tracks whether a governance proposal was executed on-chain.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "PENDING"
	ProposalExecuted ProposalStatus = "EXECUTED"
)

// Proposal is the execution view of a governance proposal.
type Proposal struct {
	ID             string         `json:"id" db:"id"`
	Status         ProposalStatus `json:"status" db:"status"`
	ExecutedTxHash *string        `json:"executedTxHash" db:"executed_tx_hash"`
	ExecutedAt     *time.Time     `json:"executedAt" db:"executed_at"`
	UpdatedAt      time.Time      `json:"updatedAt" db:"updated_at"`
}
