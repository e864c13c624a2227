// Package reconciler resolves SUBMITTED relayed transactions to their
// terminal state from on-chain receipts.
package reconciler

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/domain/relay"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/metrics"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/chain"
	svcerrors "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/errors"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
)

// DefaultBatchSize bounds how many SUBMITTED rows one run examines.
const DefaultBatchSize = 20

// Result describes one examined transaction.
type Result struct {
	ID     string       `json:"id"`
	TxHash string       `json:"txHash"`
	Status relay.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Summary is returned by Run. Processed counts transitions made in this run.
type Summary struct {
	Processed int      `json:"processed"`
	Results   []Result `json:"results"`
}

// Service is the reconciliation watcher.
type Service struct {
	store   storage.TransactionStore
	backend chain.Backend
	batch   int
	log     *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New constructs a watcher. batch <= 0 uses DefaultBatchSize.
func New(store storage.TransactionStore, backend chain.Backend, batch int, log *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, svcerrors.Configuration("watcher: storage not configured")
	}
	if backend == nil {
		return nil, svcerrors.Configuration("watcher: chain backend not configured")
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	if log == nil {
		log = logging.NewDefault("watcher")
	}
	return &Service{store: store, backend: backend, batch: batch, log: log, now: time.Now}, nil
}

// WithMetrics attaches collectors.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Run examines one batch. A failure on one transaction is recorded in its
// Result and leaves it SUBMITTED for the next run; only a failure to load the
// batch aborts the run.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	rows, err := s.store.ListSubmitted(ctx, s.batch)
	if err != nil {
		return nil, svcerrors.Persistence("load submitted transactions", err)
	}

	summary := &Summary{Results: make([]Result, 0, len(rows))}
	var confirmed, failed, itemErrors int

	for _, tx := range rows {
		res, changed := s.reconcile(ctx, tx)
		if res.Error != "" {
			itemErrors++
		}
		if changed {
			summary.Processed++
			switch res.Status {
			case relay.StatusConfirmed:
				confirmed++
			case relay.StatusFailed:
				failed++
			}
		}
		summary.Results = append(summary.Results, res)
	}

	if s.metrics != nil {
		s.metrics.RecordWatcherRun(confirmed, failed, itemErrors)
	}
	entry := s.log.WithContext(ctx).
		WithField("examined", len(rows)).
		WithField("confirmed", confirmed).
		WithField("failed", failed).
		WithField("errors", itemErrors)
	if len(rows) > 0 {
		entry.Info("reconciliation run completed")
	} else {
		entry.Debug("reconciliation run found nothing pending")
	}
	return summary, nil
}

func (s *Service) reconcile(ctx context.Context, tx relay.Transaction) (Result, bool) {
	res := Result{ID: tx.ID, TxHash: tx.Hash(), Status: tx.Status}
	entry := s.log.WithContext(ctx).WithField("record_id", tx.ID).WithField("tx_hash", res.TxHash)

	receipt, err := chain.FetchReceipt(ctx, s.backend, common.HexToHash(res.TxHash))
	if err != nil {
		entry.WithError(err).Warn("receipt fetch failed; will retry next run")
		res.Error = err.Error()
		return res, false
	}
	if receipt == nil {
		return res, false
	}

	var changed bool
	if chain.Succeeded(receipt) {
		block := receipt.BlockNumber.Uint64()
		executedAt, terr := chain.BlockTime(ctx, s.backend, block)
		if terr != nil {
			executedAt = s.now().UTC()
		}
		changed, err = s.store.MarkConfirmed(ctx, tx.ID, block, executedAt)
		if changed {
			res.Status = relay.StatusConfirmed
		}
	} else {
		changed, err = s.store.MarkFailed(ctx, tx.ID, relay.RevertedMessage)
		if changed {
			res.Status = relay.StatusFailed
		}
	}

	if err != nil {
		entry.WithError(err).Error("status transition not persisted")
		res.Error = err.Error()
		return res, false
	}
	if !changed {
		// another run got there first
		if cur, gerr := s.store.GetTransaction(ctx, tx.ID); gerr == nil {
			res.Status = cur.Status
		}
		return res, false
	}
	entry.WithField("status", res.Status).Info("relayed transaction reconciled")
	return res, true
}
