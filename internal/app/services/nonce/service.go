// Package nonce serves and consumes per-executor intent nonces.
package nonce

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
	svcerrors "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/errors"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
)

// Service wraps the authoritative nonce counter.
type Service struct {
	store storage.NonceStore
	log   *logging.Logger
}

// New constructs a nonce service.
func New(store storage.NonceStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("nonce")
	}
	return &Service{store: store, log: log}
}

// Peek returns the next nonce the executor should sign. It has no side
// effects; uniqueness is enforced by Consume.
func (s *Service) Peek(ctx context.Context, executor common.Address) (uint64, error) {
	n, err := s.store.CurrentNonce(ctx, key(executor))
	if err != nil {
		return 0, svcerrors.Transient("nonce read", err)
	}
	return n, nil
}

// Consume atomically advances the executor's counter from nonce to nonce+1.
// Exactly one of several concurrent calls presenting the same nonce succeeds.
func (s *Service) Consume(ctx context.Context, executor common.Address, nonce uint64) error {
	err := s.store.CompareAndIncrementNonce(ctx, key(executor), nonce)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNonceMismatch):
		s.log.LogSecurityEvent(ctx, "nonce_mismatch", map[string]interface{}{
			"executor": executor.Hex(),
			"nonce":    nonce,
		})
		return svcerrors.NonceMismatch(executor.Hex(), nonce)
	default:
		return svcerrors.Persistence("consume nonce", err)
	}
}

// Release returns a consumed nonce whose intent was never broadcast. It is a
// no-op when another intent has consumed the following nonce meanwhile.
func (s *Service) Release(ctx context.Context, executor common.Address, nonce uint64) error {
	err := s.store.CompareAndDecrementNonce(ctx, key(executor), nonce)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNonceMismatch):
		s.log.WithContext(ctx).WithField("executor", executor.Hex()).WithField("nonce", nonce).
			Warn("nonce moved on before release; leaving counter as is")
		return nil
	default:
		return svcerrors.Persistence("release nonce", err)
	}
}

func key(executor common.Address) string {
	return strings.ToLower(executor.Hex())
}
