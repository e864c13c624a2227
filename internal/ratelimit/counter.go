// Package ratelimit gates relay requests per source IP and per executor.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is one fixed counting window for a key.
type Window struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// IPCounter counts hits per key inside fixed windows.
type IPCounter interface {
	// Hit records one hit for key and returns the window after the increment.
	// A fresh window opens when now >= ResetAt.
	Hit(ctx context.Context, key string, window time.Duration) (Window, error)
}

// MemoryCounter is the process-local IPCounter. Counts are not shared
// between processes; use RedisCounter when running more than one instance.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*Window
	now     func() time.Time
}

var _ IPCounter = (*MemoryCounter)(nil)

// NewMemoryCounter creates an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*Window),
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (c *MemoryCounter) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryCounter) Hit(_ context.Context, key string, window time.Duration) (Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		w = &Window{Key: key, ResetAt: now.Add(window)}
		c.windows[key] = w
	}
	w.Count++
	return *w, nil
}

// Sweep evicts windows that have expired at now and returns how many were removed.
func (c *MemoryCounter) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, w := range c.windows {
		if !now.Before(w.ResetAt) {
			delete(c.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked windows.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}
