package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/server/middleware"
	"github.com/dashbite/apigw/internal/service"
	"github.com/dashbite/apigw/internal/store"
)

// EventPublisher fans an event out to webhook subscribers.
type EventPublisher interface {
	Dispatch(ctx context.Context, event string, data interface{}) (int, error)
}

// SystemHandler serves the owner-facing management API: sessions, owners,
// API keys and event publication.
type SystemHandler struct {
	store     *store.Store
	authSvc   *service.AuthService
	keys      *service.KeyManager
	audit     *service.AuditLogger
	publisher EventPublisher
	jwtTTL    time.Duration
	logger    *slog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(st *store.Store, authSvc *service.AuthService, keys *service.KeyManager,
	audit *service.AuditLogger, publisher EventPublisher, jwtTTL time.Duration, logger *slog.Logger) *SystemHandler {
	if jwtTTL <= 0 {
		jwtTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHandler{
		store:     st,
		authSvc:   authSvc,
		keys:      keys,
		audit:     audit,
		publisher: publisher,
		jwtTTL:    jwtTTL,
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token        string `json:"session_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	OwnerID      string `json:"owner_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	IsSuperAdmin bool   `json:"is_super_admin"`
}

// Login authenticates an owner and returns a JWT session token.
// POST /api/v1/system/owner/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Email and password are required")
		return
	}

	owner, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, model.ErrTypeUnauthorized, "Invalid credentials")
		case errors.Is(err, service.ErrOwnerInactive):
			writeError(w, http.StatusUnauthorized, model.ErrTypeUnauthorized, "Account is disabled")
		default:
			writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Authentication error: "+err.Error())
		}
		return
	}

	token, err := h.authSvc.IssueJWT(r.Context(), owner, h.jwtTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to issue token: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:        token,
		TokenType:    "bearer",
		ExpiresIn:    int(h.jwtTTL.Seconds()),
		OwnerID:      owner.ID,
		Email:        owner.Email,
		Name:         owner.Name,
		IsSuperAdmin: owner.IsSuperAdmin,
	})
}

// Logout invalidates the current session. Since JWTs are stateless, this is
// a no-op on the server side. Clients should discard their token.
// DELETE /api/v1/system/owner/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// Session returns the authenticated owner.
// GET /api/v1/system/owner/session
func (h *SystemHandler) Session(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetOwner(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, model.ErrTypeUnauthorized, "Authentication required")
		return
	}
	owner, err := h.store.GetOwner(r.Context(), p.OwnerID)
	if err != nil {
		writeStoreError(w, err, "Owner")
		return
	}
	writeJSON(w, http.StatusOK, owner)
}

// ---------------------------------------------------------------------------
// Owner management (super admin)
// ---------------------------------------------------------------------------

type createOwnerRequest struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Password     string `json:"password"`
	IsSuperAdmin bool   `json:"is_super_admin"`
}

// ListOwners returns all owner accounts.
// GET /api/v1/system/owner
func (h *SystemHandler) ListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.store.ListOwners(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to list owners: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: owners,
		Meta:     &model.ResponseMeta{Count: len(owners)},
	})
}

// CreateOwner registers a developer account.
// POST /api/v1/system/owner
func (h *SystemHandler) CreateOwner(w http.ResponseWriter, r *http.Request) {
	var req createOwnerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "A valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Password must be at least 8 characters")
		return
	}

	owner, err := h.authSvc.CreateOwner(r.Context(), req.Email, req.Name, req.Password, req.IsSuperAdmin)
	if err != nil {
		writeStoreError(w, err, "Owner")
		return
	}
	writeJSON(w, http.StatusCreated, owner)
}

// ---------------------------------------------------------------------------
// API key management
// ---------------------------------------------------------------------------

type createKeyRequest struct {
	Name      string     `json:"name"`
	Tier      string     `json:"tier"`
	Sandbox   bool       `json:"sandbox"`
	ExpiresAt *time.Time `json:"expires_at"`
	OwnerID   string     `json:"owner_id"`
}

// keyWithSecret is returned by create and rotate; it is the only time the
// plaintext secret leaves the server.
type keyWithSecret struct {
	*model.APIKey
	Secret string `json:"secret"`
}

// ListAPIKeys returns the caller's keys. Super admins see every key, or one
// owner's with ?owner_id=.
// GET /api/v1/system/api-key
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetOwner(r.Context())
	ownerID := p.OwnerID
	if p.IsSuperAdmin {
		ownerID = queryString(r, "owner_id")
	}

	keys, err := h.keys.List(r.Context(), ownerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to list API keys: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// CreateAPIKey issues a key pair for the caller. Only super admins choose the
// tier or issue keys for another owner; everyone else gets a free key.
// POST /api/v1/system/api-key
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetOwner(r.Context())

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Key name is required")
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "expires_at must be in the future")
		return
	}

	params := service.CreateKeyParams{
		OwnerID:   p.OwnerID,
		Name:      req.Name,
		Tier:      model.TierFree,
		Sandbox:   req.Sandbox,
		ExpiresAt: req.ExpiresAt,
	}
	if p.IsSuperAdmin {
		params.Tier = model.Tier(req.Tier)
		if req.OwnerID != "" {
			if _, err := h.store.GetOwner(r.Context(), req.OwnerID); err != nil {
				writeStoreError(w, err, "Owner")
				return
			}
			params.OwnerID = req.OwnerID
		}
	} else if req.Tier != "" && req.Tier != string(model.TierFree) {
		writeError(w, http.StatusForbidden, model.ErrTypeForbidden, "Only a super admin may issue paid-tier keys")
		return
	}

	key, secret, err := h.keys.CreateAPIKey(r.Context(), params)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTier) {
			writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to create API key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, keyWithSecret{APIKey: key, Secret: secret})
}

// GetAPIKey returns one of the caller's keys.
// GET /api/v1/system/api-key/{keyId}
func (h *SystemHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// RotateAPIKey replaces a key's public identifier and secret.
// POST /api/v1/system/api-key/{keyId}/rotate
func (h *SystemHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	rotated, secret, err := h.keys.RotateAPIKey(r.Context(), key.ID)
	if err != nil {
		writeStoreError(w, err, "API key")
		return
	}
	writeJSON(w, http.StatusOK, keyWithSecret{APIKey: rotated, Secret: secret})
}

// DeactivateAPIKey soft-deletes a key.
// DELETE /api/v1/system/api-key/{keyId}
func (h *SystemHandler) DeactivateAPIKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	if err := h.keys.DeactivateAPIKey(r.Context(), key.ID); err != nil {
		writeStoreError(w, err, "API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key deactivated",
		"id":      key.ID,
	})
}

type changeTierRequest struct {
	Tier       string `json:"tier"`
	GrantAdmin bool   `json:"grant_admin"`
}

// ChangeTier moves a key to another tier.
// PUT /api/v1/system/api-key/{keyId}/tier
func (h *SystemHandler) ChangeTier(w http.ResponseWriter, r *http.Request) {
	var req changeTierRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Tier == "" {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "tier is required")
		return
	}

	key, err := h.keys.ChangeTier(r.Context(), chi.URLParam(r, "keyId"), model.Tier(req.Tier), req.GrantAdmin)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTier) {
			writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, err.Error())
			return
		}
		writeStoreError(w, err, "API key")
		return
	}
	h.logger.Info("api key tier changed", "key_id", key.ID, "tier", key.Tier, "admin", req.GrantAdmin)
	writeJSON(w, http.StatusOK, key)
}

// KeyAuditLogs returns a key's recent request journal, newest first.
// GET /api/v1/system/api-key/{keyId}/audit-logs
func (h *SystemHandler) KeyAuditLogs(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	limit := listLimit(r, 100, 1000)
	logs, err := h.audit.ListForKey(r.Context(), key.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to list audit logs: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: logs,
		Meta:     &model.ResponseMeta{Count: len(logs), Limit: limit},
	})
}

// ownedKey loads the {keyId} key and checks the caller may manage it. Keys of
// other owners are reported as not found.
func (h *SystemHandler) ownedKey(w http.ResponseWriter, r *http.Request) (*model.APIKey, bool) {
	p := middleware.GetOwner(r.Context())
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "keyId"))
	if err != nil {
		writeStoreError(w, err, "API key")
		return nil, false
	}
	if p == nil || (!p.IsSuperAdmin && key.OwnerID != p.OwnerID) {
		writeError(w, http.StatusNotFound, model.ErrTypeNotFound, "API key not found")
		return nil, false
	}
	return key, true
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

type publishEventRequest struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// PublishEvent hands a platform event to the webhook dispatcher. Delivery is
// asynchronous; the response only reports how many subscriptions matched.
// POST /api/v1/system/events
func (h *SystemHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Event == model.EventWildcard || !model.IsKnownEvent(req.Event) {
		writeError(w, http.StatusBadRequest, model.ErrTypeInvalidRequest, "Unknown event: "+req.Event,
			map[string]interface{}{"known_events": model.KnownEvents})
		return
	}

	n, err := h.publisher.Dispatch(r.Context(), req.Event, req.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to publish event: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event":     req.Event,
		"scheduled": n,
	})
}
