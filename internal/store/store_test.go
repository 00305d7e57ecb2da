package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dashbite/apigw/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createOwner(t *testing.T, s *Store, email string) *model.Owner {
	t.Helper()
	o := &model.Owner{Email: email, PasswordHash: "hash", Name: "Dev", IsActive: true}
	if err := s.CreateOwner(context.Background(), o); err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}
	return o
}

func createKey(t *testing.T, s *Store, ownerID, publicKey string) *model.APIKey {
	t.Helper()
	limits := model.TierFree.Limits()
	k := &model.APIKey{
		OwnerID:     ownerID,
		Name:        "integration",
		PublicKey:   publicKey,
		SecretHash:  "bcrypt-hash",
		Tier:        model.TierFree,
		IsActive:    true,
		RateLimit:   limits.RatePerMinute,
		Permissions: limits.Scopes,
	}
	if err := s.CreateAPIKey(context.Background(), k); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return k
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open("oracle", "whatever"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOwnerCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasAnyOwner(ctx)
	if err != nil {
		t.Fatalf("HasAnyOwner: %v", err)
	}
	if has {
		t.Fatal("expected no owners in a fresh store")
	}

	o := createOwner(t, s, "dev@example.com")
	if o.ID == "" {
		t.Fatal("expected ID after create")
	}

	got, err := s.GetOwnerByEmail(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("GetOwnerByEmail: %v", err)
	}
	if got.ID != o.ID {
		t.Errorf("got ID %q, want %q", got.ID, o.ID)
	}

	dup := &model.Owner{Email: "dev@example.com", PasswordHash: "x", IsActive: true}
	if err := s.CreateOwner(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate email err = %v, want ErrConflict", err)
	}

	if err := s.UpdateOwnerLastLogin(ctx, o.ID); err != nil {
		t.Fatalf("UpdateOwnerLastLogin: %v", err)
	}
	got, _ = s.GetOwner(ctx, o.ID)
	if got.LastLoginAt == nil {
		t.Error("expected last_login_at to be set")
	}

	if _, err := s.GetOwner(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOwner(missing) err = %v, want ErrNotFound", err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := createOwner(t, s, "dev@example.com")
	k := createKey(t, s, o.ID, "pk_test_aaaa")

	got, err := s.GetAPIKeyByPublicKey(ctx, "pk_test_aaaa")
	if err != nil {
		t.Fatalf("GetAPIKeyByPublicKey: %v", err)
	}
	if got.ID != k.ID {
		t.Errorf("got ID %q, want %q", got.ID, k.ID)
	}
	if got.Tier != model.TierFree {
		t.Errorf("tier = %q, want free", got.Tier)
	}
	if got.Permissions != model.ScopeRead {
		t.Errorf("permissions = %v, want read", got.Permissions)
	}

	// Public identifiers are unique.
	dup := &model.APIKey{OwnerID: o.ID, PublicKey: "pk_test_aaaa", SecretHash: "x", Tier: model.TierFree}
	if err := s.CreateAPIKey(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate public key err = %v, want ErrConflict", err)
	}

	// Credential replacement invalidates the old identifier.
	if err := s.ReplaceAPIKeyCredentials(ctx, k.ID, "pk_test_bbbb", "new-hash"); err != nil {
		t.Fatalf("ReplaceAPIKeyCredentials: %v", err)
	}
	if _, err := s.GetAPIKeyByPublicKey(ctx, "pk_test_aaaa"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old public key lookup err = %v, want ErrNotFound", err)
	}
	got, err = s.GetAPIKeyByPublicKey(ctx, "pk_test_bbbb")
	if err != nil {
		t.Fatalf("lookup rotated key: %v", err)
	}
	if got.SecretHash != "new-hash" {
		t.Errorf("secret hash = %q, want new-hash", got.SecretHash)
	}

	// Deactivation is idempotent.
	for i := 0; i < 2; i++ {
		if err := s.SetAPIKeyActive(ctx, k.ID, false); err != nil {
			t.Fatalf("SetAPIKeyActive #%d: %v", i+1, err)
		}
	}
	got, _ = s.GetAPIKey(ctx, k.ID)
	if got.IsActive {
		t.Error("expected key to be inactive")
	}
	if err := s.SetAPIKeyActive(ctx, "missing", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetAPIKeyActive(missing) err = %v, want ErrNotFound", err)
	}

	pro := model.TierPro.Limits()
	if err := s.UpdateAPIKeyTier(ctx, k.ID, model.TierPro, pro.RatePerMinute, pro.Scopes); err != nil {
		t.Fatalf("UpdateAPIKeyTier: %v", err)
	}
	got, _ = s.GetAPIKey(ctx, k.ID)
	if got.Tier != model.TierPro || got.RateLimit != 300 || !got.Permissions.Has(model.ScopeWidget) {
		t.Errorf("after tier change got %q/%d/%v", got.Tier, got.RateLimit, got.Permissions)
	}

	keys, err := s.ListAPIKeys(ctx, o.ID)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("got %d keys, want 1", len(keys))
	}
	keys, _ = s.ListAPIKeys(ctx, "someone-else")
	if len(keys) != 0 {
		t.Errorf("got %d keys for other owner, want 0", len(keys))
	}
}

func TestUsageCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := createOwner(t, s, "dev@example.com")
	k := createKey(t, s, o.ID, "pk_test_usage")

	for i := 0; i < 3; i++ {
		if err := s.IncrementAPIKeyUsage(ctx, k.ID, time.Now()); err != nil {
			t.Fatalf("IncrementAPIKeyUsage: %v", err)
		}
	}
	got, _ := s.GetAPIKey(ctx, k.ID)
	if got.DailyRequests != 3 {
		t.Errorf("daily_requests = %d, want 3", got.DailyRequests)
	}
	if got.LastUsedAt == nil {
		t.Error("expected last_used_at to be set")
	}

	// The window has not elapsed yet: cutoff is before last_reset_at.
	reset, err := s.ResetAPIKeyUsage(ctx, k.ID, time.Now(), got.LastResetAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ResetAPIKeyUsage: %v", err)
	}
	if reset {
		t.Error("expected no reset before the window elapsed")
	}

	later := got.LastResetAt.Add(25 * time.Hour)
	cutoff := later.Add(-24 * time.Hour)
	reset, err = s.ResetAPIKeyUsage(ctx, k.ID, later, cutoff)
	if err != nil {
		t.Fatalf("ResetAPIKeyUsage: %v", err)
	}
	if !reset {
		t.Fatal("expected reset after the window elapsed")
	}
	// A second caller racing on the same window must not reset again.
	reset, _ = s.ResetAPIKeyUsage(ctx, k.ID, later, cutoff)
	if reset {
		t.Error("window reset twice")
	}

	got, _ = s.GetAPIKey(ctx, k.ID)
	if got.DailyRequests != 0 {
		t.Errorf("daily_requests after reset = %d, want 0", got.DailyRequests)
	}
}

func TestWebhookFailureThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := createOwner(t, s, "dev@example.com")
	k := createKey(t, s, o.ID, "pk_test_hooks")

	w := &model.Webhook{
		APIKeyID: k.ID,
		URL:      "https://example.com/hook",
		Events:   []string{model.EventOrderCreated},
		Secret:   "whsec_x",
		IsActive: true,
	}
	if err := s.CreateWebhook(ctx, w); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}

	for i := 1; i <= 9; i++ {
		n, deactivated, err := s.RecordWebhookFailure(ctx, w.ID, 10)
		if err != nil {
			t.Fatalf("RecordWebhookFailure #%d: %v", i, err)
		}
		if n != i || deactivated {
			t.Fatalf("failure #%d: count=%d deactivated=%v", i, n, deactivated)
		}
	}

	if err := s.MarkWebhookDelivered(ctx, w.ID, time.Now()); err != nil {
		t.Fatalf("MarkWebhookDelivered: %v", err)
	}
	got, _ := s.GetWebhook(ctx, w.ID)
	if got.FailureCount != 0 || got.LastDeliveredAt == nil {
		t.Errorf("after success count=%d last_delivered=%v", got.FailureCount, got.LastDeliveredAt)
	}

	for i := 1; i <= 10; i++ {
		n, deactivated, err := s.RecordWebhookFailure(ctx, w.ID, 10)
		if err != nil {
			t.Fatalf("RecordWebhookFailure: %v", err)
		}
		if want := i == 10; deactivated != want {
			t.Errorf("failure #%d (count %d) deactivated=%v, want %v", i, n, deactivated, want)
		}
	}

	active, err := s.ListActiveWebhooks(ctx)
	if err != nil {
		t.Fatalf("ListActiveWebhooks: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("got %d active webhooks, want 0", len(active))
	}
}

func TestWebhookDeliveriesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := createOwner(t, s, "dev@example.com")
	k := createKey(t, s, o.ID, "pk_test_deliv")
	w := &model.Webhook{APIKeyID: k.ID, URL: "https://example.com", Events: []string{"*"}, Secret: "s", IsActive: true}
	if err := s.CreateWebhook(ctx, w); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		d := &model.WebhookDelivery{
			WebhookID:      w.ID,
			Event:          model.EventOrderCreated,
			Payload:        []byte(`{"event":"order.created"}`),
			ResponseStatus: 500,
			Attempt:        i,
			DeliveredAt:    base.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateWebhookDelivery(ctx, d); err != nil {
			t.Fatalf("CreateWebhookDelivery: %v", err)
		}
	}

	got, err := s.ListWebhookDeliveries(ctx, w.ID, 2)
	if err != nil {
		t.Fatalf("ListWebhookDeliveries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(got))
	}
	if got[0].Attempt != 3 || got[1].Attempt != 2 {
		t.Errorf("order = %d,%d, want 3,2", got[0].Attempt, got[1].Attempt)
	}
	if string(got[0].Payload) != `{"event":"order.created"}` {
		t.Errorf("payload = %s", got[0].Payload)
	}
}

func TestAuditLogsByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := createOwner(t, s, "dev@example.com")
	k1 := createKey(t, s, o.ID, "pk_test_one")
	k2 := createKey(t, s, o.ID, "pk_test_two")

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{k1.ID, k1.ID, k2.ID} {
		keyID := id
		entry := &model.APIAuditLog{
			APIKeyID:   &keyID,
			Method:     "GET",
			Path:       "/api/v1/restaurants",
			StatusCode: 200,
			IPAddress:  "10.0.0.1",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateAuditLog(ctx, entry); err != nil {
			t.Fatalf("CreateAuditLog: %v", err)
		}
	}

	logs, err := s.ListAuditLogs(ctx, k1.ID, 10)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}
	if !logs[0].CreatedAt.After(logs[1].CreatedAt) {
		t.Error("expected newest first")
	}

	all, _ := s.ListAuditLogs(ctx, "", 10)
	if len(all) != 3 {
		t.Errorf("got %d logs overall, want 3", len(all))
	}
}

func TestInboundOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := createOwner(t, s, "dev@example.com")
	k := createKey(t, s, o.ID, "pk_test_orders")

	order := &model.InboundOrder{
		APIKeyID:        k.ID,
		ExternalID:      "ext-1",
		RestaurantID:    "r1",
		CustomerName:    "Sam",
		DeliveryAddress: "1 Main St",
		Items:           []model.OrderItem{{Name: "Burger", Quantity: 2, UnitPriceCents: 900}},
		TotalCents:      1800,
		Status:          model.OrderStatusReceived,
	}
	if err := s.CreateInboundOrder(ctx, order); err != nil {
		t.Fatalf("CreateInboundOrder: %v", err)
	}

	again := *order
	if err := s.CreateInboundOrder(ctx, &again); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate external id err = %v, want ErrConflict", err)
	}

	if err := s.UpdateInboundOrderStatus(ctx, order.ID, model.OrderStatusAccepted); err != nil {
		t.Fatalf("UpdateInboundOrderStatus: %v", err)
	}
	got, err := s.GetInboundOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetInboundOrder: %v", err)
	}
	if got.Status != model.OrderStatusAccepted {
		t.Errorf("status = %q, want accepted", got.Status)
	}
	if len(got.Items) != 1 || got.Items[0].Name != "Burger" {
		t.Errorf("items = %+v", got.Items)
	}

	list, _ := s.ListInboundOrders(ctx, "", 50)
	if len(list) != 1 {
		t.Errorf("got %d orders, want 1", len(list))
	}
}
