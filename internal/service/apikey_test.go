package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/store"
)

func newTestKeys(t *testing.T) (*KeyManager, *store.Store, string) {
	t.Helper()
	st := newTestStore(t)
	owner := &model.Owner{Email: "dev@example.com", PasswordHash: "x", IsActive: true}
	if err := st.CreateOwner(context.Background(), owner); err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}
	return NewKeyManager(st, WithHashCost(bcrypt.MinCost)), st, owner.ID
}

func TestCreateAPIKey(t *testing.T) {
	km, st, ownerID := newTestKeys(t)
	ctx := context.Background()

	key, secret, err := km.CreateAPIKey(ctx, CreateKeyParams{OwnerID: ownerID, Name: "shop", Tier: model.TierStarter})
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if !strings.HasPrefix(key.PublicKey, model.PublicKeyPrefixLive) {
		t.Errorf("public key %q missing live prefix", key.PublicKey)
	}
	if !strings.HasPrefix(secret, model.SecretPrefixLive) {
		t.Errorf("secret %q missing live prefix", secret)
	}
	if len(secret) > 72 {
		t.Errorf("secret length %d exceeds bcrypt input limit", len(secret))
	}
	if key.Permissions != model.TierStarter.Limits().Scopes {
		t.Errorf("permissions = %v, want starter scopes", key.Permissions)
	}
	if key.RateLimit != 60 {
		t.Errorf("rate limit = %d, want 60", key.RateLimit)
	}

	stored, err := st.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if stored.SecretHash == secret || strings.Contains(stored.SecretHash, secret) {
		t.Fatal("plaintext secret persisted")
	}
	if err := km.VerifySecret(stored, secret); err != nil {
		t.Errorf("VerifySecret: %v", err)
	}
}

func TestCreateSandboxKey(t *testing.T) {
	km, _, ownerID := newTestKeys(t)

	key, secret, err := km.CreateAPIKey(context.Background(), CreateKeyParams{OwnerID: ownerID, Sandbox: true})
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if !strings.HasPrefix(key.PublicKey, model.PublicKeyPrefixTest) || !strings.HasPrefix(secret, model.SecretPrefixTest) {
		t.Errorf("sandbox pair %q / %q missing test prefixes", key.PublicKey, secret)
	}
	if key.Tier != model.TierFree {
		t.Errorf("default tier = %q, want free", key.Tier)
	}
}

func TestCreateAPIKeyInvalidTier(t *testing.T) {
	km, _, ownerID := newTestKeys(t)

	_, _, err := km.CreateAPIKey(context.Background(), CreateKeyParams{OwnerID: ownerID, Tier: "platinum"})
	if !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("err = %v, want ErrInvalidTier", err)
	}
}

func TestRotateInvalidatesOldPair(t *testing.T) {
	km, _, ownerID := newTestKeys(t)
	ctx := context.Background()

	key, oldSecret, _ := km.CreateAPIKey(ctx, CreateKeyParams{OwnerID: ownerID, Tier: model.TierPro})
	oldPublic := key.PublicKey

	rotated, newSecret, err := km.RotateAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("RotateAPIKey: %v", err)
	}
	if rotated.ID != key.ID {
		t.Errorf("rotation changed id: %q != %q", rotated.ID, key.ID)
	}
	if rotated.PublicKey == oldPublic || newSecret == oldSecret {
		t.Fatal("rotation must replace both values")
	}

	if _, err := km.Authenticate(ctx, oldPublic, oldSecret, true); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("old pair err = %v, want ErrUnknownKey", err)
	}
	if _, err := km.Authenticate(ctx, rotated.PublicKey, oldSecret, true); !errors.Is(err, ErrInvalidSecret) {
		t.Errorf("new public + old secret err = %v, want ErrInvalidSecret", err)
	}
	if _, err := km.Authenticate(ctx, rotated.PublicKey, newSecret, true); err != nil {
		t.Errorf("new pair: %v", err)
	}

	if _, _, err := km.RotateAPIKey(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rotate missing err = %v, want ErrNotFound", err)
	}
}

func TestDeactivateAPIKey(t *testing.T) {
	km, _, ownerID := newTestKeys(t)
	ctx := context.Background()

	key, secret, _ := km.CreateAPIKey(ctx, CreateKeyParams{OwnerID: ownerID})

	if err := km.DeactivateAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("DeactivateAPIKey: %v", err)
	}
	if err := km.DeactivateAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("second DeactivateAPIKey: %v", err)
	}
	if err := km.DeactivateAPIKey(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deactivate missing err = %v, want ErrNotFound", err)
	}

	if _, err := km.Authenticate(ctx, key.PublicKey, secret, true); !errors.Is(err, ErrKeyInactive) {
		t.Errorf("deactivated key err = %v, want ErrKeyInactive", err)
	}
}

func TestAuthenticateExpiredAndSecretRules(t *testing.T) {
	km, _, ownerID := newTestKeys(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	expired, _, _ := km.CreateAPIKey(ctx, CreateKeyParams{OwnerID: ownerID, ExpiresAt: &past})
	if _, err := km.Authenticate(ctx, expired.PublicKey, "", false); !errors.Is(err, ErrKeyExpired) {
		t.Errorf("expired key err = %v, want ErrKeyExpired", err)
	}

	key, _, _ := km.CreateAPIKey(ctx, CreateKeyParams{OwnerID: ownerID})
	if _, err := km.Authenticate(ctx, key.PublicKey, "", false); err != nil {
		t.Errorf("public-only read: %v", err)
	}
	if _, err := km.Authenticate(ctx, key.PublicKey, "", true); !errors.Is(err, ErrSecretRequired) {
		t.Errorf("missing secret err = %v, want ErrSecretRequired", err)
	}
	if _, err := km.Authenticate(ctx, key.PublicKey, "sk_live_wrong", false); !errors.Is(err, ErrInvalidSecret) {
		t.Errorf("wrong optional secret err = %v, want ErrInvalidSecret", err)
	}
}

func TestChangeTier(t *testing.T) {
	km, _, ownerID := newTestKeys(t)
	ctx := context.Background()

	key, _, _ := km.CreateAPIKey(ctx, CreateKeyParams{OwnerID: ownerID})
	updated, err := km.ChangeTier(ctx, key.ID, model.TierEnterprise, true)
	if err != nil {
		t.Fatalf("ChangeTier: %v", err)
	}
	if updated.Tier != model.TierEnterprise {
		t.Errorf("tier = %q, want enterprise", updated.Tier)
	}
	if !updated.Permissions.Has(model.ScopeAdmin | model.ScopeWhitelabel) {
		t.Errorf("permissions = %v, want whitelabel and admin", updated.Permissions)
	}

	if _, err := km.ChangeTier(ctx, key.ID, "gold", false); !errors.Is(err, ErrInvalidTier) {
		t.Errorf("invalid tier err = %v, want ErrInvalidTier", err)
	}
}
