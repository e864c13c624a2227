// Package relayer submits signed execution intents on-chain from the funded
// relayer account.
package relayer

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/domain/relay"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/metrics"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/services/nonce"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/chain"
	svcerrors "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/errors"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/pkg/intent"
)

// Relay outcomes recorded in metrics.
const (
	OutcomeConfirmed   = "confirmed"
	OutcomePending     = "pending"
	OutcomeReverted    = "reverted"
	OutcomeUnderfunded = "underfunded"
	OutcomeRejected    = "rejected"
	OutcomeChainError  = "chain_error"
	OutcomeStoreError  = "store_error"
)

// Config tunes submission and the bounded confirmation wait.
type Config struct {
	GasLimit       uint64
	MinBalance     *big.Int
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Dependencies are the collaborators the relayer needs; all are required.
type Dependencies struct {
	Backend  chain.Backend
	Signer   *chain.Signer
	Contract *chain.ExecutorContract
	Nonces   *nonce.Service
	Store    storage.TransactionStore
}

// Request is a signed execution intent as received from a client.
type Request struct {
	Executor   string
	ProposalID string
	Nonce      uint64
	Deadline   int64
	Signature  string
}

// Result is returned once the transaction has been broadcast and recorded.
// Confirmed is false when the wait timed out; the watcher resolves it later.
type Result struct {
	Success     bool    `json:"success"`
	TxHash      string  `json:"txHash"`
	BlockNumber *uint64 `json:"blockNumber,omitempty"`
	Confirmed   bool    `json:"confirmed"`
	RecordID    string  `json:"recordId"`
}

// Health describes the relayer account.
type Health struct {
	Relayer    string `json:"relayer"`
	ChainID    string `json:"chainId"`
	BalanceWei string `json:"balanceWei"`
	MinimumWei string `json:"minimumWei"`
	Funded     bool   `json:"funded"`
}

// Service executes intents.
type Service struct {
	cfg     Config
	deps    Dependencies
	domain  intent.Domain
	log     *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New validates the dependencies and builds a relayer.
func New(cfg Config, domain intent.Domain, deps Dependencies, log *logging.Logger) (*Service, error) {
	switch {
	case deps.Backend == nil:
		return nil, svcerrors.Configuration("relayer: chain backend not configured")
	case deps.Signer == nil:
		return nil, svcerrors.Configuration("relayer: signing key not configured")
	case deps.Contract == nil:
		return nil, svcerrors.Configuration("relayer: contract address not configured")
	case deps.Nonces == nil || deps.Store == nil:
		return nil, svcerrors.Configuration("relayer: storage not configured")
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 500_000
	}
	if cfg.MinBalance == nil {
		cfg.MinBalance = new(big.Int)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if log == nil {
		log = logging.NewDefault("relayer")
	}
	return &Service{
		cfg:    cfg,
		deps:   deps,
		domain: domain,
		log:    log,
		now:    time.Now,
	}, nil
}

// WithMetrics attaches collectors.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Address returns the relayer account.
func (s *Service) Address() common.Address {
	return s.deps.Signer.Address()
}

// Execute verifies the intent, consumes its nonce and relays it on-chain.
//
// Nothing is persisted unless the transaction was broadcast. After broadcast
// the record exists in SUBMITTED state whatever happens during the
// confirmation wait.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	in, sig, err := s.parse(req)
	if err != nil {
		s.record(OutcomeRejected)
		return nil, err
	}

	if err := intent.CheckDeadline(in, s.now()); err != nil {
		s.record(OutcomeRejected)
		return nil, svcerrors.IntentExpired(in.Deadline)
	}

	if err := intent.Verify(s.domain, in, sig); err != nil {
		s.log.LogSecurityEvent(ctx, "invalid_signature", map[string]interface{}{
			"executor":    in.Executor.Hex(),
			"proposal_id": in.ProposalID.Hex(),
			"nonce":       in.Nonce,
		})
		s.record(OutcomeRejected)
		return nil, svcerrors.InvalidSignature(err)
	}

	if err := s.deps.Nonces.Consume(ctx, in.Executor, in.Nonce); err != nil {
		s.record(OutcomeRejected)
		return nil, err
	}

	tx, err := s.submit(ctx, in, sig)
	if err != nil {
		s.release(ctx, in)
		return nil, err
	}
	hash := tx.Hash().Hex()

	// the transaction is on the wire; bookkeeping must not be cut short by
	// the caller going away
	bg := context.WithoutCancel(ctx)
	entry := s.log.WithContext(ctx).WithField("tx_hash", hash).WithField("executor", in.Executor.Hex())

	rec, err := s.deps.Store.CreateTransaction(bg, relay.Transaction{
		ProposalID: in.ProposalID.Hex(),
		Executor:   strings.ToLower(in.Executor.Hex()),
		Nonce:      in.Nonce,
		TxHash:     &hash,
		Status:     relay.StatusSubmitted,
	})
	if err != nil {
		entry.WithError(err).WithField("proposal_id", in.ProposalID.Hex()).
			Error("broadcast transaction not recorded; manual reconciliation required")
		s.record(OutcomeStoreError)
		return nil, svcerrors.Persistence("record submitted transaction", err).WithDetails("tx_hash", hash)
	}
	entry = entry.WithField("record_id", rec.ID)
	entry.Info("relayed transaction submitted")

	res := &Result{Success: true, TxHash: hash, RecordID: rec.ID}

	started := time.Now()
	receipt, err := chain.WaitForReceipt(ctx, s.deps.Backend, tx.Hash(), s.cfg.ConfirmTimeout, s.cfg.PollInterval)
	if err != nil {
		entry.WithError(err).Warn("confirmation wait ended without receipt; left for watcher")
		s.observeWait(OutcomePending, started)
		s.record(OutcomePending)
		return res, nil
	}

	if !chain.Succeeded(receipt) {
		entry.Warn("relayed transaction reverted")
		s.observeWait(OutcomeReverted, started)
		s.record(OutcomeReverted)
		return nil, svcerrors.ExecutionReverted(hash).WithDetails("record_id", rec.ID)
	}

	block := receipt.BlockNumber.Uint64()
	if err := s.deps.Store.SetBlockNumber(bg, rec.ID, block); err != nil {
		entry.WithError(err).Warn("record block number")
	}
	s.observeWait(OutcomeConfirmed, started)
	s.record(OutcomeConfirmed)

	res.BlockNumber = &block
	res.Confirmed = true
	entry.WithField("block_number", block).Info("relayed transaction confirmed")
	return res, nil
}

// Health reports the relayer balance against the configured minimum.
func (s *Service) Health(ctx context.Context) (Health, error) {
	bal, err := chain.Balance(ctx, s.deps.Backend, s.Address())
	if err != nil {
		return Health{}, svcerrors.TransientChain("balance", err)
	}
	if s.metrics != nil {
		s.metrics.SetRelayerBalance(bal)
	}
	return Health{
		Relayer:    s.Address().Hex(),
		ChainID:    s.deps.Signer.ChainID().String(),
		BalanceWei: bal.String(),
		MinimumWei: s.cfg.MinBalance.String(),
		Funded:     bal.Cmp(s.cfg.MinBalance) >= 0,
	}, nil
}

func (s *Service) parse(req Request) (intent.ExecutionIntent, []byte, error) {
	var missing []string
	if strings.TrimSpace(req.Executor) == "" {
		missing = append(missing, "executor")
	}
	if strings.TrimSpace(req.ProposalID) == "" {
		missing = append(missing, "proposalId")
	}
	if strings.TrimSpace(req.Signature) == "" {
		missing = append(missing, "signature")
	}
	if len(missing) > 0 {
		return intent.ExecutionIntent{}, nil, svcerrors.MissingParameters(missing...)
	}

	if !common.IsHexAddress(req.Executor) {
		return intent.ExecutionIntent{}, nil, svcerrors.InvalidParameter("executor", "not a hex address")
	}
	proposalID, err := intent.ParseProposalID(req.ProposalID)
	if err != nil {
		return intent.ExecutionIntent{}, nil, svcerrors.InvalidParameter("proposalId", err.Error())
	}
	sig, err := intent.ParseSignature(req.Signature)
	if err != nil {
		return intent.ExecutionIntent{}, nil, svcerrors.InvalidSignature(err)
	}

	return intent.ExecutionIntent{
		Executor:   common.HexToAddress(req.Executor),
		ProposalID: proposalID,
		Nonce:      req.Nonce,
		Deadline:   req.Deadline,
	}, sig, nil
}

// submit checks funding then signs and broadcasts the contract call.
func (s *Service) submit(ctx context.Context, in intent.ExecutionIntent, sig []byte) (*types.Transaction, error) {
	bal, err := chain.Balance(ctx, s.deps.Backend, s.Address())
	if err != nil {
		s.record(OutcomeChainError)
		return nil, svcerrors.TransientChain("balance", err)
	}
	if s.metrics != nil {
		s.metrics.SetRelayerBalance(bal)
	}
	if bal.Cmp(s.cfg.MinBalance) < 0 {
		s.log.WithContext(ctx).
			WithField("balance_wei", bal.String()).
			WithField("minimum_wei", s.cfg.MinBalance.String()).
			Error("relayer balance below operating minimum")
		s.record(OutcomeUnderfunded)
		return nil, svcerrors.RelayerUnderfunded(bal.String(), s.cfg.MinBalance.String())
	}

	data, err := s.deps.Contract.PackExecute(in.Executor, in.ProposalID, in.Nonce, in.Deadline, sig)
	if err != nil {
		s.record(OutcomeRejected)
		return nil, svcerrors.Internal("encode contract call", err)
	}

	tx, err := s.deps.Signer.Send(ctx, s.deps.Backend, chain.CallRequest{
		To:       s.deps.Contract.Address(),
		Data:     data,
		GasLimit: s.cfg.GasLimit,
	})
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("relay submission failed")
		s.record(OutcomeChainError)
		return nil, svcerrors.TransientChain("submit", err)
	}
	return tx, nil
}

func (s *Service) release(ctx context.Context, in intent.ExecutionIntent) {
	if err := s.deps.Nonces.Release(context.WithoutCancel(ctx), in.Executor, in.Nonce); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("executor", in.Executor.Hex()).Error("release nonce")
	}
}

func (s *Service) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordRelay(outcome)
	}
}

func (s *Service) observeWait(result string, started time.Time) {
	if s.metrics != nil {
		s.metrics.RecordConfirmationWait(result, time.Since(started))
	}
}
