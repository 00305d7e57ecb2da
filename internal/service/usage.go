package service

import (
	"context"
	"time"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/store"
)

// UsageWindow is the length of a daily quota window.
const UsageWindow = 24 * time.Hour

// RateLimitResult is the outcome of a quota check.
type RateLimitResult struct {
	Allowed   bool       `json:"allowed"`
	Limit     int64      `json:"limit"`
	Remaining int64      `json:"remaining"`
	ResetAt   time.Time  `json:"reset_at"`
	Tier      model.Tier `json:"tier"`
}

// UsageTracker enforces each key's daily quota with a fixed 24h window that
// starts at the key's last reset.
type UsageTracker struct {
	store *store.Store
	now   func() time.Time
}

// UsageOption configures a UsageTracker.
type UsageOption func(*UsageTracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) UsageOption {
	return func(u *UsageTracker) { u.now = now }
}

func NewUsageTracker(st *store.Store, opts ...UsageOption) *UsageTracker {
	u := &UsageTracker{store: st, now: time.Now}
	for _, o := range opts {
		o(u)
	}
	return u
}

// CheckRateLimit decides whether key may make one more request. When the
// window has elapsed the counter is reset and the triggering request is
// admitted. Remaining counts the requests left after this one. The check is
// read-then-decide, so a concurrent burst can briefly over-admit.
func (u *UsageTracker) CheckRateLimit(ctx context.Context, key *model.APIKey) (RateLimitResult, error) {
	now := u.now().UTC()
	limit := key.Tier.Limits().DailyLimit
	res := RateLimitResult{Limit: limit, Tier: key.Tier}

	if now.Sub(key.LastResetAt) >= UsageWindow {
		// A concurrent request may win the reset; either way a new window
		// has just begun.
		if _, err := u.store.ResetAPIKeyUsage(ctx, key.ID, now, now.Add(-UsageWindow)); err != nil {
			return res, err
		}
		key.DailyRequests = 0
		key.LastResetAt = now
		res.Allowed = true
		res.Remaining = limit - 1
		res.ResetAt = now.Add(UsageWindow)
		return res, nil
	}

	res.ResetAt = key.LastResetAt.Add(UsageWindow).UTC()
	if key.DailyRequests < limit {
		res.Allowed = true
		res.Remaining = limit - key.DailyRequests - 1
	}
	return res, nil
}

// RecordUsage counts one request against key using the store's atomic increment.
func (u *UsageTracker) RecordUsage(ctx context.Context, key *model.APIKey) error {
	if err := u.store.IncrementAPIKeyUsage(ctx, key.ID, u.now()); err != nil {
		return err
	}
	key.DailyRequests++
	return nil
}
