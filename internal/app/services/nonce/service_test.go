package nonce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage/memory"
	svcerrors "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/errors"
)

var executor = common.HexToAddress("0xAAAaaAAAaaAAAaaAAAaaAAAaaAAAaaAAAaaAAAaa")

type brokenStore struct{ storage.NonceStore }

func (brokenStore) CurrentNonce(context.Context, string) (uint64, error) {
	return 0, errors.New("connection reset")
}

func (brokenStore) CompareAndIncrementNonce(context.Context, string, uint64) error {
	return errors.New("connection reset")
}

func TestPeekIsReadOnly(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n, err := svc.Peek(ctx, executor)
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		if n != 0 {
			t.Fatalf("expected nonce 0, got %d", n)
		}
	}
}

func TestConsumeAdvances(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if err := svc.Consume(ctx, executor, 0); err != nil {
		t.Fatalf("consume 0: %v", err)
	}
	n, _ := svc.Peek(ctx, executor)
	if n != 1 {
		t.Fatalf("expected nonce 1 after consume, got %d", n)
	}

	err := svc.Consume(ctx, executor, 0)
	if !svcerrors.IsKind(err, svcerrors.KindValidation) {
		t.Fatalf("expected validation error on replay, got %v", err)
	}
	if svcerrors.HTTPStatus(err) != 409 {
		t.Fatalf("expected 409, got %d", svcerrors.HTTPStatus(err))
	}
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	svc := New(memory.New(), nil)
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.Consume(context.Background(), executor, 0) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestRelease(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	_ = svc.Consume(ctx, executor, 0)
	if err := svc.Release(ctx, executor, 0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n, _ := svc.Peek(ctx, executor); n != 0 {
		t.Fatalf("expected nonce 0 after release, got %d", n)
	}

	// counter moved on: release is a no-op
	_ = svc.Consume(ctx, executor, 0)
	_ = svc.Consume(ctx, executor, 1)
	if err := svc.Release(ctx, executor, 0); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if n, _ := svc.Peek(ctx, executor); n != 2 {
		t.Fatalf("expected nonce 2, got %d", n)
	}
}

func TestStoreErrors(t *testing.T) {
	svc := New(brokenStore{}, nil)
	_, err := svc.Peek(context.Background(), executor)
	if !svcerrors.IsKind(err, svcerrors.KindTransientChain) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if se, _ := svcerrors.As(err); !se.Retryable() {
		t.Fatalf("expected retryable error")
	}

	err = svc.Consume(context.Background(), executor, 0)
	if !svcerrors.IsKind(err, svcerrors.KindPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}
