package handler

import (
	"net/http"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/service"
	"github.com/dashbite/apigw/internal/store"
	"github.com/dashbite/apigw/internal/webhook"
)

// AdminHandler serves the platform-wide views for keys holding the admin
// scope.
type AdminHandler struct {
	store    *store.Store
	keys     *service.KeyManager
	registry *webhook.Registry
	audit    *service.AuditLogger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(st *store.Store, keys *service.KeyManager, registry *webhook.Registry, audit *service.AuditLogger) *AdminHandler {
	return &AdminHandler{store: st, keys: keys, registry: registry, audit: audit}
}

// ListKeys GET /api/v1/admin/keys
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context(), queryString(r, "owner_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to list API keys: "+err.Error())
		return
	}
	if want, ok := queryFlag(r, "active"); ok {
		filtered := keys[:0]
		for _, k := range keys {
			if k.IsActive == want {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// ListWebhooks GET /api/v1/admin/webhooks
func (h *AdminHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.registry.ListForKey(r.Context(), queryString(r, "api_key_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to list webhooks: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: hooks,
		Meta:     &model.ResponseMeta{Count: len(hooks)},
	})
}

// ListInboundOrders GET /api/v1/admin/inbound-orders
func (h *AdminHandler) ListInboundOrders(w http.ResponseWriter, r *http.Request) {
	limit := listLimit(r, 100, 1000)
	orders, err := h.store.ListInboundOrders(r.Context(), queryString(r, "api_key_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to list orders: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: orders,
		Meta:     &model.ResponseMeta{Count: len(orders), Limit: limit},
	})
}

// ListAuditLogs GET /api/v1/admin/audit-logs?api_key_id=&limit=
func (h *AdminHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := listLimit(r, 100, 1000)
	logs, err := h.audit.ListForKey(r.Context(), queryString(r, "api_key_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to list audit logs: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: logs,
		Meta:     &model.ResponseMeta{Count: len(logs), Limit: limit},
	})
}
