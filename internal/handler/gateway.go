package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dashbite/apigw/internal/core"
	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/server/middleware"
	"github.com/dashbite/apigw/internal/store"
)

// GatewayHandler serves the third-party surface: proxied reads from the core
// service, key introspection and inbound orders.
type GatewayHandler struct {
	core      *core.Client
	store     *store.Store
	publisher EventPublisher
	alcohol   core.AlcoholWindow
	logger    *slog.Logger
	now       func() time.Time
}

// NewGatewayHandler creates a new GatewayHandler.
func NewGatewayHandler(client *core.Client, st *store.Store, publisher EventPublisher, alcohol core.AlcoholWindow, logger *slog.Logger) *GatewayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayHandler{
		core:      client,
		store:     st,
		publisher: publisher,
		alcohol:   alcohol,
		logger:    logger,
		now:       time.Now,
	}
}

// ---------------------------------------------------------------------------
// Proxied reads
// ---------------------------------------------------------------------------

// writeUpstream relays a core service response.
func writeUpstream(w http.ResponseWriter, raw json.RawMessage, err error, what string) {
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, model.ErrTypeNotFound, what+" not found")
			return
		}
		writeError(w, http.StatusBadGateway, model.ErrTypeUpstream, "Core service unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// ListRestaurants GET /api/v1/restaurants
func (h *GatewayHandler) ListRestaurants(w http.ResponseWriter, r *http.Request) {
	raw, err := h.core.Restaurants(r.Context(), r.URL.Query())
	writeUpstream(w, raw, err, "Restaurants")
}

// GetRestaurant GET /api/v1/restaurants/{id}
func (h *GatewayHandler) GetRestaurant(w http.ResponseWriter, r *http.Request) {
	raw, err := h.core.Restaurant(r.Context(), chi.URLParam(r, "id"))
	writeUpstream(w, raw, err, "Restaurant")
}

// GetMenu GET /api/v1/restaurants/{id}/menu
func (h *GatewayHandler) GetMenu(w http.ResponseWriter, r *http.Request) {
	raw, err := h.core.Menu(r.Context(), chi.URLParam(r, "id"))
	writeUpstream(w, raw, err, "Menu")
}

// GetOrder GET /api/v1/orders/{id}
func (h *GatewayHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	raw, err := h.core.Order(r.Context(), chi.URLParam(r, "id"))
	writeUpstream(w, raw, err, "Order")
}

// ListDrivers GET /api/v1/drivers
func (h *GatewayHandler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	raw, err := h.core.Drivers(r.Context(), r.URL.Query())
	writeUpstream(w, raw, err, "Drivers")
}

// GetTax GET /api/v1/tax
func (h *GatewayHandler) GetTax(w http.ResponseWriter, r *http.Request) {
	raw, err := h.core.Tax(r.Context(), r.URL.Query())
	writeUpstream(w, raw, err, "Tax rate")
}

// ListNFTs GET /api/v1/nfts
func (h *GatewayHandler) ListNFTs(w http.ResponseWriter, r *http.Request) {
	raw, err := h.core.NFTs(r.Context(), r.URL.Query())
	writeUpstream(w, raw, err, "NFTs")
}

// ---------------------------------------------------------------------------
// Key introspection
// ---------------------------------------------------------------------------

type meResponse struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Tier           model.Tier  `json:"tier"`
	Scopes         model.Scope `json:"scopes"`
	IsSandbox      bool        `json:"is_sandbox"`
	RateLimit      int         `json:"rate_limit"`
	DailyLimit     int64       `json:"daily_limit"`
	DailyRequests  int64       `json:"daily_requests"`
	Remaining      int64       `json:"remaining"`
	ResetAt        time.Time   `json:"reset_at"`
	SecretVerified bool        `json:"secret_verified"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
}

// Me describes the calling key and its quota after this request.
// GET /api/v1/me
func (h *GatewayHandler) Me(w http.ResponseWriter, r *http.Request) {
	kc := middleware.GetAPIKey(r.Context())
	key := kc.Key
	writeJSON(w, http.StatusOK, meResponse{
		ID:             key.ID,
		Name:           key.Name,
		Tier:           key.Tier,
		Scopes:         key.Permissions,
		IsSandbox:      key.IsSandbox,
		RateLimit:      key.RateLimit,
		DailyLimit:     kc.Quota.Limit,
		DailyRequests:  key.DailyRequests,
		Remaining:      kc.Quota.Remaining,
		ResetAt:        kc.Quota.ResetAt,
		SecretVerified: kc.SecretVerified,
		ExpiresAt:      key.ExpiresAt,
	})
}

// ---------------------------------------------------------------------------
// Inbound orders
// ---------------------------------------------------------------------------

type inboundOrderRequest struct {
	ExternalID      string            `json:"external_id"`
	RestaurantID    string            `json:"restaurant_id"`
	CustomerName    string            `json:"customer_name"`
	DeliveryAddress string            `json:"delivery_address"`
	Items           []model.OrderItem `json:"items"`
	ScheduledFor    *time.Time        `json:"scheduled_for"`
}

// Upper bounds keep the order total well inside int64.
const (
	maxOrderItems     = 500
	maxItemQuantity   = 10000
	maxUnitPriceCents = 1_000_000_000
)

// validate returns one message per problem.
func (req *inboundOrderRequest) validate() []string {
	var problems []string
	required := []struct{ name, val string }{
		{"external_id", req.ExternalID},
		{"restaurant_id", req.RestaurantID},
		{"customer_name", req.CustomerName},
		{"delivery_address", req.DeliveryAddress},
	}
	for _, f := range required {
		if strings.TrimSpace(f.val) == "" {
			problems = append(problems, f.name+" is required")
		}
	}
	if len(req.Items) == 0 {
		problems = append(problems, "items must not be empty")
	}
	if len(req.Items) > maxOrderItems {
		problems = append(problems, "items must not exceed "+itoa(maxOrderItems)+" entries")
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.Name) == "" {
			problems = append(problems, "items["+itoa(i)+"].name is required")
		}
		if it.Quantity <= 0 || it.Quantity > maxItemQuantity {
			problems = append(problems, "items["+itoa(i)+"].quantity must be between 1 and "+itoa(maxItemQuantity))
		}
		if it.UnitPriceCents < 0 || it.UnitPriceCents > maxUnitPriceCents {
			problems = append(problems, "items["+itoa(i)+"].unit_price_cents must be between 0 and "+itoa(maxUnitPriceCents))
		}
	}
	return problems
}

// CreateInboundOrder accepts an order from an integration and announces it
// with order.created.
// POST /api/v1/orders/inbound
func (h *GatewayHandler) CreateInboundOrder(w http.ResponseWriter, r *http.Request) {
	kc := middleware.GetAPIKey(r.Context())

	var req inboundOrderRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if problems := req.validate(); len(problems) > 0 {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Invalid order",
			map[string]interface{}{"errors": problems})
		return
	}

	order := &model.InboundOrder{
		APIKeyID:        kc.Key.ID,
		ExternalID:      req.ExternalID,
		RestaurantID:    req.RestaurantID,
		CustomerName:    req.CustomerName,
		DeliveryAddress: req.DeliveryAddress,
		Items:           req.Items,
		Status:          model.OrderStatusReceived,
		ScheduledFor:    req.ScheduledFor,
	}
	for _, it := range req.Items {
		order.TotalCents += int64(it.Quantity) * it.UnitPriceCents
		if it.IsAlcohol {
			order.ContainsAlcohol = true
		}
	}

	if order.ContainsAlcohol {
		at := h.now()
		if req.ScheduledFor != nil {
			at = *req.ScheduledFor
		}
		if !h.alcohol.Allows(at) {
			loc := h.alcohol.Location
			if loc == nil {
				loc = time.UTC
			}
			writeError(w, http.StatusUnprocessableEntity, model.ErrTypeAlcoholWindow,
				"Alcohol cannot be delivered at this time", map[string]interface{}{
					"delivery_time": at.In(loc).Format(time.RFC3339),
					"window_start":  h.alcohol.StartHour,
					"window_end":    h.alcohol.EndHour,
					"timezone":      loc.String(),
				})
			return
		}
	}

	if err := h.store.CreateInboundOrder(r.Context(), order); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, model.ErrTypeInvalidRequest,
				"An order with external_id "+req.ExternalID+" already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to store order: "+err.Error())
		return
	}

	h.publish(r, model.EventOrderCreated, order)
	writeJSON(w, http.StatusCreated, order)
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus moves an inbound order to a new status and emits
// order.updated, plus order.delivered or order.cancelled for those states.
// PATCH /api/v1/orders/{id}/status
func (h *GatewayHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	kc := middleware.GetAPIKey(r.Context())

	var req orderStatusRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if !model.ValidOrderStatus(req.Status) {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Unknown order status: "+req.Status)
		return
	}

	order, err := h.store.GetInboundOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "Order")
		return
	}
	if order.APIKeyID != kc.Key.ID && !kc.Key.Permissions.Has(model.ScopeAdmin) {
		writeError(w, http.StatusNotFound, model.ErrTypeNotFound, "Order not found")
		return
	}

	previous := order.Status
	if err := h.store.UpdateInboundOrderStatus(r.Context(), order.ID, req.Status); err != nil {
		writeStoreError(w, err, "Order")
		return
	}
	order.Status = req.Status

	payload := map[string]interface{}{
		"id":              order.ID,
		"external_id":     order.ExternalID,
		"status":          order.Status,
		"previous_status": previous,
	}
	h.publish(r, model.EventOrderUpdated, payload)
	switch order.Status {
	case model.OrderStatusDelivered:
		h.publish(r, model.EventOrderDelivered, payload)
	case model.OrderStatusCancelled:
		h.publish(r, model.EventOrderCancelled, payload)
	}

	writeJSON(w, http.StatusOK, order)
}

// publish dispatches an event; failures are logged and never fail the request.
func (h *GatewayHandler) publish(r *http.Request, event string, data interface{}) {
	if h.publisher == nil {
		return
	}
	if _, err := h.publisher.Dispatch(r.Context(), event, data); err != nil {
		h.logger.Error("event dispatch failed", "event", event, "error", err,
			"request_id", middleware.GetRequestID(r.Context()))
	}
}
