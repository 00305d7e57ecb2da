package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/server/middleware"
	"github.com/dashbite/apigw/internal/store"
	"github.com/dashbite/apigw/internal/webhook"
)

// WebhookHandler lets key holders manage their own subscriptions and
// verifies inbound signed callbacks.
type WebhookHandler struct {
	registry    *webhook.Registry
	maxBodySize int64
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(registry *webhook.Registry, maxBodySize int64) *WebhookHandler {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &WebhookHandler{registry: registry, maxBodySize: maxBodySize}
}

type webhookRequest struct {
	URL      *string  `json:"url"`
	Events   []string `json:"events"`
	IsActive *bool    `json:"is_active"`
}

// webhookWithSecret is returned once, on creation.
type webhookWithSecret struct {
	*model.Webhook
	Secret string `json:"secret"`
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, webhook.ErrInvalidURL),
		errors.Is(err, webhook.ErrNoEvents),
		errors.Is(err, webhook.ErrUnknownEvent):
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, err.Error(),
			map[string]interface{}{"known_events": model.KnownEvents})
	default:
		writeStoreError(w, err, "Webhook")
	}
}

// List GET /api/v1/webhooks
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	kc := middleware.GetAPIKey(r.Context())
	hooks, err := h.registry.ListForKey(r.Context(), kc.Key.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to list webhooks: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: hooks,
		Meta:     &model.ResponseMeta{Count: len(hooks)},
	})
}

// Create POST /api/v1/webhooks
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	kc := middleware.GetAPIKey(r.Context())

	var req webhookRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.URL == nil {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "url is required")
		return
	}

	hook, secret, err := h.registry.Create(r.Context(), kc.Key.ID, *req.URL, req.Events)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, webhookWithSecret{Webhook: hook, Secret: secret})
}

// Get GET /api/v1/webhooks/{webhookId}
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

// Update PUT /api/v1/webhooks/{webhookId}
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}

	var req webhookRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}

	updated, err := h.registry.Update(r.Context(), hook.ID, webhook.UpdateParams{
		URL:      req.URL,
		Events:   req.Events,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete deactivates the webhook; its delivery history is kept.
// DELETE /api/v1/webhooks/{webhookId}
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}
	if err := h.registry.Deactivate(r.Context(), hook.ID); err != nil {
		writeStoreError(w, err, "Webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      hook.ID,
	})
}

// Deliveries GET /api/v1/webhooks/{webhookId}/deliveries
func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}
	limit := listLimit(r, 50, 500)
	deliveries, err := h.registry.Deliveries(r.Context(), hook.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to list deliveries: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: deliveries,
		Meta:     &model.ResponseMeta{Count: len(deliveries), Limit: limit},
	})
}

func (h *WebhookHandler) ownedWebhook(w http.ResponseWriter, r *http.Request) (*model.Webhook, bool) {
	kc := middleware.GetAPIKey(r.Context())
	hook, err := h.registry.Get(r.Context(), chi.URLParam(r, "webhookId"))
	if err != nil {
		writeStoreError(w, err, "Webhook")
		return nil, false
	}
	if hook.APIKeyID != kc.Key.ID && !kc.Key.Permissions.Has(model.ScopeAdmin) {
		writeError(w, http.StatusNotFound, model.ErrTypeNotFound, "Webhook not found")
		return nil, false
	}
	return hook, true
}

// Callback verifies a payload signed with a webhook's secret, as a receiver
// would. It lets integrators check their signing code against the gateway.
// POST /api/v1/callbacks/{webhookId}
func (h *WebhookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	hook, err := h.registry.Get(r.Context(), chi.URLParam(r, "webhookId"))
	if errors.Is(err, store.ErrNotFound) {
		// Unknown ids look the same as bad signatures.
		writeError(w, http.StatusUnauthorized, model.ErrTypeInvalidSignature, "Invalid webhook signature")
		return
	}
	if err != nil {
		writeStoreError(w, err, "Webhook")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, model.ErrTypeInvalidRequest, "Request body too large")
		return
	}

	if !webhook.Verify(hook.Secret, body, r.Header.Get(webhook.HeaderSignature)) {
		writeError(w, http.StatusUnauthorized, model.ErrTypeInvalidSignature, "Invalid webhook signature")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":     "accepted",
		"webhook_id": hook.ID,
		"event":      r.Header.Get(webhook.HeaderEvent),
	})
}
