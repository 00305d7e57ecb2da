// Package ratelimit provides the in-process per-IP request counter used in
// front of the gateway routes. State lives in one process; running several
// gateway instances needs a shared counter store instead.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-chi/httprate"

	"github.com/dashbite/apigw/internal/metrics"
)

var _ httprate.LimitCounter = (*Counter)(nil)

type entry struct {
	window time.Time
	count  int
}

// Counter is a fixed-window request counter keyed by client. It satisfies
// httprate.LimitCounter, reporting no previous-window traffic so httprate's
// sliding estimate collapses to a plain fixed window. The map is bounded and
// expired windows are swept periodically.
type Counter struct {
	mu         sync.Mutex
	entries    map[string]*entry
	limit      int
	window     time.Duration
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Counter.
type Option func(*Counter)

// WithMaxEntries bounds the number of tracked clients.
func WithMaxEntries(n int) Option {
	return func(c *Counter) { c.maxEntries = n }
}

// WithClock overrides the time source used by Allow and Sweep.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Counter) { c.logger = l }
}

// NewCounter returns a counter admitting limit requests per window.
func NewCounter(limit int, window time.Duration, opts ...Option) *Counter {
	c := &Counter{
		entries:    make(map[string]*entry),
		limit:      limit,
		window:     window,
		maxEntries: 100_000,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config is called by httprate with the limiter's settings.
func (c *Counter) Config(requestLimit int, windowLength time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = requestLimit
	c.window = windowLength
}

// Increment adds one request for key in currentWindow.
func (c *Counter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

// IncrementBy adds amount requests for key in currentWindow.
func (c *Counter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(key, currentWindow, amount)
	return nil
}

// Get returns the count for key in currentWindow. The previous-window count
// is always zero.
func (c *Counter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.window.Equal(currentWindow) {
		return e.count, 0, nil
	}
	return 0, 0, nil
}

// Allow records a request for key at the current time and reports whether it
// is within the limit. It is the counter's standalone API; HTTP traffic goes
// through httprate.
func (c *Counter) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.now().UTC().Truncate(c.window)
	if e, ok := c.entries[key]; ok && e.window.Equal(w) && e.count >= c.limit {
		return false
	}
	c.add(key, w, 1)
	return true
}

// Len returns the number of tracked clients.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// add must be called with mu held.
func (c *Counter) add(key string, window time.Time, amount int) {
	e, ok := c.entries[key]
	if !ok {
		if len(c.entries) >= c.maxEntries {
			c.sweepLocked(c.now())
		}
		if len(c.entries) >= c.maxEntries {
			c.evictOneLocked()
		}
		e = &entry{window: window}
		c.entries[key] = e
	}
	if !e.window.Equal(window) {
		e.window = window
		e.count = 0
	}
	e.count += amount
}

// Sweep removes entries whose window ended before now and returns how many
// were removed.
func (c *Counter) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *Counter) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !e.window.Add(c.window).After(now) {
			delete(c.entries, k)
			removed++
		}
	}
	metrics.IPLimiterEntries.Set(float64(len(c.entries)))
	return removed
}

// evictOneLocked drops the entry with the oldest window.
func (c *Counter) evictOneLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.window.Before(oldest) {
			oldestKey, oldest = k, e.window
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (c *Counter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("ip limiter sweep", "removed", n, "tracked", c.Len())
			}
		}
	}
}
