package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/store"
)

var (
	ErrInvalidURL   = errors.New("webhook url must be an absolute http or https url")
	ErrNoEvents     = errors.New("at least one event is required")
	ErrUnknownEvent = errors.New("unknown event")
)

// SecretPrefix precedes every signing secret.
const SecretPrefix = "whsec_"

// Registry manages webhook subscriptions. Deletes are soft so delivery
// history keeps its subscription.
type Registry struct {
	store  *store.Store
	logger *slog.Logger
}

func NewRegistry(st *store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: st, logger: logger.With("component", "webhook_registry")}
}

// Create registers an active subscription for apiKeyID and mints its signing
// secret. The secret is returned separately because it is never serialized
// with the webhook afterwards.
func (r *Registry) Create(ctx context.Context, apiKeyID, rawURL string, events []string) (*model.Webhook, string, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, "", err
	}
	evs, err := normalizeEvents(events)
	if err != nil {
		return nil, "", err
	}
	secret, err := newSecret()
	if err != nil {
		return nil, "", err
	}

	w := &model.Webhook{
		APIKeyID: apiKeyID,
		URL:      rawURL,
		Events:   evs,
		Secret:   secret,
		IsActive: true,
	}
	if err := r.store.CreateWebhook(ctx, w); err != nil {
		return nil, "", err
	}
	r.logger.Info("webhook created", "webhook_id", w.ID, "api_key_id", apiKeyID, "events", evs)
	return w, secret, nil
}

// Get returns a webhook by ID.
func (r *Registry) Get(ctx context.Context, id string) (*model.Webhook, error) {
	return r.store.GetWebhook(ctx, id)
}

// ForEvent returns the active subscriptions interested in event, either by
// name or through the wildcard.
func (r *Registry) ForEvent(ctx context.Context, event string) ([]model.Webhook, error) {
	active, err := r.store.ListActiveWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Webhook
	for _, w := range active {
		if w.Subscribes(event) {
			out = append(out, w)
		}
	}
	return out, nil
}

// ListForKey returns a key's webhooks newest first. An empty apiKeyID lists all.
func (r *Registry) ListForKey(ctx context.Context, apiKeyID string) ([]model.Webhook, error) {
	return r.store.ListWebhooks(ctx, apiKeyID)
}

// UpdateParams holds optional webhook changes; nil fields are left alone.
type UpdateParams struct {
	URL      *string
	Events   []string
	IsActive *bool
}

// Update applies p to the webhook. Reactivating clears nothing; the failure
// counter is only reset by a successful delivery.
func (r *Registry) Update(ctx context.Context, id string, p UpdateParams) (*model.Webhook, error) {
	w, err := r.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.URL != nil {
		if err := validateURL(*p.URL); err != nil {
			return nil, err
		}
		w.URL = *p.URL
	}
	if p.Events != nil {
		evs, err := normalizeEvents(p.Events)
		if err != nil {
			return nil, err
		}
		w.Events = evs
	}
	if p.IsActive != nil {
		w.IsActive = *p.IsActive
	}
	if err := r.store.UpdateWebhook(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Deactivate soft-deletes a webhook.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	if err := r.store.DeactivateWebhook(ctx, id); err != nil {
		return err
	}
	r.logger.Info("webhook deactivated", "webhook_id", id)
	return nil
}

// Deliveries returns a webhook's delivery attempts newest first.
func (r *Registry) Deliveries(ctx context.Context, id string, limit int) ([]model.WebhookDelivery, error) {
	return r.store.ListWebhookDeliveries(ctx, id, limit)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidURL
	}
	return nil
}

func normalizeEvents(events []string) ([]string, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if !model.IsKnownEvent(e) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e)
		}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out, nil
}

func newSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(b), nil
}
