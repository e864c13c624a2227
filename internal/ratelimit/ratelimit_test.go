package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
)

type fakeActions struct {
	mu    sync.Mutex
	count int
	err   error
	since time.Time
}

func (f *fakeActions) CountByExecutorSince(_ context.Context, _ string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	return f.count, f.err
}

type fakeRecorder struct{ scopes []string }

func (r *fakeRecorder) RecordRateLimitRejection(scope string) { r.scopes = append(r.scopes, scope) }

type failingCounter struct{}

func (failingCounter) Hit(context.Context, string, time.Duration) (Window, error) {
	return Window{}, errors.New("redis down")
}

func newTestLogger() (*logging.Logger, *test.Hook) {
	base, hook := test.NewNullLogger()
	return logging.Wrap("ratelimit", base), hook
}

// =============================================================================
// MemoryCounter
// =============================================================================

func TestMemoryCounterWindowRollsOver(t *testing.T) {
	now := time.Unix(1_000, 0)
	c := NewMemoryCounter()
	c.SetClock(func() time.Time { return now })

	for i := 1; i <= 3; i++ {
		w, err := c.Hit(context.Background(), "ip:1.2.3.4", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, w.Count)
		assert.Equal(t, now.Add(time.Hour), w.ResetAt)
	}

	// exactly at resetAt a fresh window opens
	now = now.Add(time.Hour)
	w, err := c.Hit(context.Background(), "ip:1.2.3.4", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, now.Add(time.Hour), w.ResetAt)
}

func TestMemoryCounterSweep(t *testing.T) {
	now := time.Unix(1_000, 0)
	c := NewMemoryCounter()
	c.SetClock(func() time.Time { return now })

	_, _ = c.Hit(context.Background(), "a", time.Minute)
	_, _ = c.Hit(context.Background(), "b", time.Hour)
	require.Equal(t, 2, c.Len())

	assert.Equal(t, 0, c.Sweep(now.Add(30*time.Second)))
	assert.Equal(t, 1, c.Sweep(now.Add(time.Minute)))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Sweep(now.Add(2*time.Hour)))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCounterConcurrentHits(t *testing.T) {
	c := NewMemoryCounter()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Hit(context.Background(), "k", time.Hour)
		}()
	}
	wg.Wait()

	w, err := c.Hit(context.Background(), "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 101, w.Count)
}

// =============================================================================
// RedisCounter
// =============================================================================

func newRedisCounter(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounter(client, "test:"), mr
}

func TestRedisCounterCountsAndExpires(t *testing.T) {
	c, mr := newRedisCounter(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		w, err := c.Hit(ctx, "ip:1.2.3.4", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, w.Count)
	}
	assert.Equal(t, time.Hour, mr.TTL("test:ip:1.2.3.4"))

	mr.FastForward(time.Hour)
	w, err := c.Hit(ctx, "ip:1.2.3.4", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Count)
}

func TestRedisCounterRearmsMissingTTL(t *testing.T) {
	c, mr := newRedisCounter(t)
	require.NoError(t, mr.Set("test:k", "5"))

	w, err := c.Hit(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 6, w.Count)
	assert.Equal(t, time.Minute, mr.TTL("test:k"))
}

func TestRedisCounterUnavailable(t *testing.T) {
	c, mr := newRedisCounter(t)
	mr.Close()
	_, err := c.Hit(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}

// =============================================================================
// Limiter
// =============================================================================

func TestLimiterActorBoundary(t *testing.T) {
	actions := &fakeActions{count: 9}
	log, _ := newTestLogger()
	l := New(DefaultConfig(), NewMemoryCounter(), actions, log)

	d, err := l.Check(context.Background(), "0xAAA", "1.1.1.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "10th action must be accepted")

	actions.count = 10
	d, err = l.Check(context.Background(), "0xAAA", "1.1.1.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "11th action must be rejected")
	assert.Equal(t, ScopeActor, d.Scope)
	assert.Equal(t, "Rate limit exceeded: maximum 10 relayed actions per 24 hours", d.Reason)
}

func TestLimiterActorWindowStart(t *testing.T) {
	actions := &fakeActions{}
	now := time.Unix(100_000, 0)
	l := New(DefaultConfig(), nil, actions, nil)
	l.now = func() time.Time { return now }

	_, err := l.Check(context.Background(), "0xAAA", "")
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), actions.since)
}

func TestLimiterIPBoundary(t *testing.T) {
	rec := &fakeRecorder{}
	log, hook := newTestLogger()
	cfg := DefaultConfig()
	cfg.IPLimit = 3
	l := New(cfg, NewMemoryCounter(), &fakeActions{}, log).WithMetrics(rec)

	for i := 0; i < 3; i++ {
		d, err := l.Check(context.Background(), "", "9.9.9.9")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Check(context.Background(), "", "9.9.9.9")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonIP, d.Reason)
	assert.Equal(t, []string{ScopeIP}, rec.scopes)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "rate_limit_exceeded", entry.Data["security_event"])

	// other IPs are independent
	d, err = l.Check(context.Background(), "", "8.8.8.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiterActorRejectionStillConsumesIPQuota(t *testing.T) {
	counter := NewMemoryCounter()
	cfg := DefaultConfig()
	cfg.IPLimit = 2
	l := New(cfg, counter, &fakeActions{count: 10}, nil)

	for i := 0; i < 2; i++ {
		d, err := l.Check(context.Background(), "0xAAA", "1.1.1.1")
		require.NoError(t, err)
		assert.Equal(t, ScopeActor, d.Scope)
	}
	d, err := l.Check(context.Background(), "0xBBB", "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, ScopeIP, d.Scope)
}

func TestLimiterFailClosedByDefault(t *testing.T) {
	l := New(DefaultConfig(), nil, &fakeActions{err: errors.New("db down")}, nil)
	_, err := l.Check(context.Background(), "0xAAA", "1.1.1.1")
	assert.Error(t, err)

	l = New(DefaultConfig(), failingCounter{}, &fakeActions{}, nil)
	_, err = l.Check(context.Background(), "0xAAA", "1.1.1.1")
	assert.Error(t, err)
}

func TestLimiterFailOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailOpen = true
	log, hook := newTestLogger()
	l := New(cfg, failingCounter{}, &fakeActions{err: errors.New("db down")}, log)

	d, err := l.Check(context.Background(), "0xAAA", "1.1.1.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Len(t, hook.AllEntries(), 2)
}
