package model

import "time"

// Public identifier and secret prefixes. Sandbox keys use the "test" variants.
const (
	PublicKeyPrefixLive = "pk_live_"
	PublicKeyPrefixTest = "pk_test_"
	SecretPrefixLive    = "sk_live_"
	SecretPrefixTest    = "sk_test_"
)

// APIKey is a third-party credential pair. Only the public identifier and an
// adaptive hash of the secret are persisted; the plaintext secret is returned
// once at creation or rotation and never again.
type APIKey struct {
	ID            string     `json:"id" db:"id"`
	OwnerID       string     `json:"owner_id" db:"owner_id"`
	Name          string     `json:"name" db:"name"`
	PublicKey     string     `json:"public_key" db:"public_key"`
	SecretHash    string     `json:"-" db:"secret_hash"` // bcrypt hash, never expose
	Tier          Tier       `json:"tier" db:"tier"`
	IsSandbox     bool       `json:"is_sandbox" db:"is_sandbox"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	RateLimit     int        `json:"rate_limit" db:"rate_limit"`
	Permissions   Scope      `json:"permissions" db:"permissions"`
	DailyRequests int64      `json:"daily_requests" db:"daily_requests"`
	LastResetAt   time.Time  `json:"last_reset_at" db:"last_reset_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the key has an expiry that is at or before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}
