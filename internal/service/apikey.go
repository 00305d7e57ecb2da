package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dashbite/apigw/internal/metrics"
	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/store"
)

var (
	ErrUnknownKey     = errors.New("unknown api key")
	ErrKeyInactive    = errors.New("api key inactive")
	ErrKeyExpired     = errors.New("api key expired")
	ErrSecretRequired = errors.New("api secret required")
	ErrInvalidSecret  = errors.New("invalid api secret")
	ErrInvalidTier    = errors.New("invalid tier")
)

const (
	publicKeyBytes = 12 // 24 hex chars
	secretBytes    = 32 // 64 hex chars; with prefix stays within bcrypt's 72-byte input limit
	maxKeyAttempts = 3
)

// KeyManager issues, rotates and deactivates API key pairs and authenticates
// presented credentials.
type KeyManager struct {
	store    *store.Store
	hashCost int
	logger   *slog.Logger
	now      func() time.Time
}

// KeyOption configures a KeyManager.
type KeyOption func(*KeyManager)

// WithHashCost sets the bcrypt cost used for secrets.
func WithHashCost(cost int) KeyOption {
	return func(m *KeyManager) { m.hashCost = cost }
}

// WithKeyLogger sets the logger.
func WithKeyLogger(l *slog.Logger) KeyOption {
	return func(m *KeyManager) { m.logger = l }
}

func NewKeyManager(st *store.Store, opts ...KeyOption) *KeyManager {
	m := &KeyManager{
		store:    st,
		hashCost: bcrypt.DefaultCost,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateKeyParams describes a new key.
type CreateKeyParams struct {
	OwnerID   string
	Name      string
	Tier      model.Tier
	Sandbox   bool
	ExpiresAt *time.Time
}

// CreateAPIKey issues a new key pair. The plaintext secret is returned once
// and only its hash is stored; a lost secret can only be replaced by rotation.
func (m *KeyManager) CreateAPIKey(ctx context.Context, p CreateKeyParams) (*model.APIKey, string, error) {
	tier, err := model.ParseTier(string(p.Tier))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidTier, err)
	}
	limits := tier.Limits()

	for attempt := 1; ; attempt++ {
		publicKey, secret, hash, err := m.generatePair(p.Sandbox)
		if err != nil {
			return nil, "", err
		}
		key := &model.APIKey{
			OwnerID:     p.OwnerID,
			Name:        p.Name,
			PublicKey:   publicKey,
			SecretHash:  hash,
			Tier:        tier,
			IsSandbox:   p.Sandbox,
			IsActive:    true,
			RateLimit:   limits.RatePerMinute,
			Permissions: limits.Scopes,
			ExpiresAt:   p.ExpiresAt,
		}
		err = m.store.CreateAPIKey(ctx, key)
		if errors.Is(err, store.ErrConflict) && attempt < maxKeyAttempts {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		metrics.APIKeysIssued.WithLabelValues(string(tier), "create").Inc()
		m.logger.Info("api key created", "key_id", key.ID, "owner_id", key.OwnerID, "tier", tier, "sandbox", p.Sandbox)
		return key, secret, nil
	}
}

// RotateAPIKey replaces both the public identifier and the secret in one
// update. The previous pair stops authenticating immediately.
func (m *KeyManager) RotateAPIKey(ctx context.Context, id string) (*model.APIKey, string, error) {
	key, err := m.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, "", err
	}

	for attempt := 1; ; attempt++ {
		publicKey, secret, hash, err := m.generatePair(key.IsSandbox)
		if err != nil {
			return nil, "", err
		}
		err = m.store.ReplaceAPIKeyCredentials(ctx, id, publicKey, hash)
		if errors.Is(err, store.ErrConflict) && attempt < maxKeyAttempts {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		key.PublicKey = publicKey
		key.SecretHash = hash
		metrics.APIKeysIssued.WithLabelValues(string(key.Tier), "rotate").Inc()
		m.logger.Info("api key rotated", "key_id", id)
		return key, secret, nil
	}
}

// DeactivateAPIKey soft-deletes a key. It is idempotent and returns
// store.ErrNotFound when the key does not exist.
func (m *KeyManager) DeactivateAPIKey(ctx context.Context, id string) error {
	if err := m.store.SetAPIKeyActive(ctx, id, false); err != nil {
		return err
	}
	m.logger.Info("api key deactivated", "key_id", id)
	return nil
}

// ChangeTier moves a key to another tier, resetting its permissions to the
// tier's grant. grantAdmin additionally grants the admin super-scope.
func (m *KeyManager) ChangeTier(ctx context.Context, id string, tier model.Tier, grantAdmin bool) (*model.APIKey, error) {
	t, err := model.ParseTier(string(tier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTier, err)
	}
	limits := t.Limits()
	perms := limits.Scopes
	if grantAdmin {
		perms |= model.ScopeAdmin
	}
	if err := m.store.UpdateAPIKeyTier(ctx, id, t, limits.RatePerMinute, perms); err != nil {
		return nil, err
	}
	return m.store.GetAPIKey(ctx, id)
}

// Get returns a key by ID.
func (m *KeyManager) Get(ctx context.Context, id string) (*model.APIKey, error) {
	return m.store.GetAPIKey(ctx, id)
}

// List returns keys for an owner, or all keys when ownerID is empty.
func (m *KeyManager) List(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	return m.store.ListAPIKeys(ctx, ownerID)
}

// Lookup resolves a public identifier. Unknown identifiers return ErrUnknownKey.
func (m *KeyManager) Lookup(ctx context.Context, publicKey string) (*model.APIKey, error) {
	key, err := m.store.GetAPIKeyByPublicKey(ctx, publicKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownKey
		}
		return nil, err
	}
	return key, nil
}

// CheckUsable reports whether a key may be used right now.
func (m *KeyManager) CheckUsable(key *model.APIKey) error {
	if !key.IsActive {
		return ErrKeyInactive
	}
	if key.Expired(m.now()) {
		return ErrKeyExpired
	}
	return nil
}

// VerifySecret compares a presented secret with the stored hash.
func (m *KeyManager) VerifySecret(key *model.APIKey, secret string) error {
	if secret == "" {
		return ErrSecretRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return ErrInvalidSecret
	}
	return nil
}

// Authenticate runs the full credential check used by the CLI and tests:
// lookup, usability, then the secret when one is given or required.
func (m *KeyManager) Authenticate(ctx context.Context, publicKey, secret string, requireSecret bool) (*model.APIKey, error) {
	key, err := m.Lookup(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	if err := m.CheckUsable(key); err != nil {
		return nil, err
	}
	if secret != "" || requireSecret {
		if err := m.VerifySecret(key, secret); err != nil {
			return nil, err
		}
	}
	return key, nil
}

func (m *KeyManager) generatePair(sandbox bool) (publicKey, secret, hash string, err error) {
	pkPrefix, skPrefix := model.PublicKeyPrefixLive, model.SecretPrefixLive
	if sandbox {
		pkPrefix, skPrefix = model.PublicKeyPrefixTest, model.SecretPrefixTest
	}
	pub, err := randomHex(publicKeyBytes)
	if err != nil {
		return "", "", "", err
	}
	sec, err := randomHex(secretBytes)
	if err != nil {
		return "", "", "", err
	}
	secret = skPrefix + sec
	h, err := bcrypt.GenerateFromPassword([]byte(secret), m.hashCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hash api secret: %w", err)
	}
	return pkPrefix + pub, secret, string(h), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
