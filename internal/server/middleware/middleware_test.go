package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/ratelimit"
	"github.com/dashbite/apigw/internal/service"
	"github.com/dashbite/apigw/internal/store"
)

type gateEnv struct {
	store *store.Store
	keys  *service.KeyManager
	audit *service.AuditLogger
	gate  *Gate
	owner string
}

func newGateEnv(t *testing.T) *gateEnv {
	t.Helper()
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	owner := &model.Owner{Email: "owner@example.com", PasswordHash: "x", IsActive: true}
	if err := st.CreateOwner(context.Background(), owner); err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}

	keys := service.NewKeyManager(st, service.WithHashCost(bcrypt.MinCost))
	audit := service.NewAuditLogger(st, nil, 64)
	audit.Start()
	t.Cleanup(func() { audit.Shutdown(context.Background()) })

	return &gateEnv{
		store: st,
		keys:  keys,
		audit: audit,
		gate:  NewGate(keys, service.NewUsageTracker(st), audit, nil),
		owner: owner.ID,
	}
}

func (e *gateEnv) createKey(t *testing.T, tier model.Tier) (*model.APIKey, string) {
	t.Helper()
	key, secret, err := e.keys.CreateAPIKey(context.Background(), service.CreateKeyParams{
		OwnerID: e.owner,
		Name:    "test",
		Tier:    tier,
	})
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return key, secret
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return resp.Error
}

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if respID := rr.Header().Get("X-Request-ID"); respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestRequestIDReplacesUnusableClientID(t *testing.T) {
	for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("x", 129)} {
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", bad)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("X-Request-ID"); got == bad || len(got) != 36 {
			t.Errorf("client ID %q: expected a generated UUID, got %q", bad, got)
		}
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Gate tests
// ---------------------------------------------------------------------------

func TestGateMissingKey(t *testing.T) {
	env := newGateEnv(t)
	handler := env.gate.Require(SecretOptional)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/restaurants", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Type != model.ErrTypeMissingAPIKey {
		t.Errorf("expected type %q, got %q", model.ErrTypeMissingAPIKey, e.Type)
	}
}

func TestGateUnknownKey(t *testing.T) {
	env := newGateEnv(t)
	handler := env.gate.Require(SecretOptional)(okHandler())

	req := httptest.NewRequest("GET", "/restaurants", nil)
	req.Header.Set(HeaderAPIKey, "pk_live_doesnotexist")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Type != model.ErrTypeInvalidAPIKey {
		t.Errorf("expected type %q, got %q", model.ErrTypeInvalidAPIKey, e.Type)
	}
}

func TestGateInactiveKey(t *testing.T) {
	env := newGateEnv(t)
	key, _ := env.createKey(t, model.TierFree)
	if err := env.keys.DeactivateAPIKey(context.Background(), key.ID); err != nil {
		t.Fatalf("DeactivateAPIKey: %v", err)
	}
	handler := env.gate.Require(SecretOptional)(okHandler())

	req := httptest.NewRequest("GET", "/restaurants", nil)
	req.Header.Set(HeaderAPIKey, key.PublicKey)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Type != model.ErrTypeAPIKeyInactive {
		t.Errorf("expected type %q, got %q", model.ErrTypeAPIKeyInactive, e.Type)
	}
}

func TestGateExpiredKey(t *testing.T) {
	env := newGateEnv(t)
	past := time.Now().Add(-time.Hour)
	key, _, err := env.keys.CreateAPIKey(context.Background(), service.CreateKeyParams{
		OwnerID:   env.owner,
		Tier:      model.TierFree,
		ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	handler := env.gate.Require(SecretOptional)(okHandler())

	req := httptest.NewRequest("GET", "/restaurants", nil)
	req.Header.Set(HeaderAPIKey, key.PublicKey)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Type != model.ErrTypeAPIKeyExpired {
		t.Errorf("expected type %q, got %q", model.ErrTypeAPIKeyExpired, e.Type)
	}
}

func TestGateSecretRequired(t *testing.T) {
	env := newGateEnv(t)
	key, _ := env.createKey(t, model.TierStarter)
	handler := env.gate.Require(SecretRequired)(okHandler())

	req := httptest.NewRequest("POST", "/orders/inbound", nil)
	req.Header.Set(HeaderAPIKey, key.PublicKey)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Type != model.ErrTypeAPISecretRequired {
		t.Errorf("expected type %q, got %q", model.ErrTypeAPISecretRequired, e.Type)
	}
}

func TestGateWrongSecret(t *testing.T) {
	env := newGateEnv(t)
	key, _ := env.createKey(t, model.TierStarter)

	// A wrong secret is rejected even where the secret is optional.
	for _, policy := range []SecretPolicy{SecretOptional, SecretRequired} {
		handler := env.gate.Require(policy)(okHandler())
		req := httptest.NewRequest("GET", "/restaurants", nil)
		req.Header.Set(HeaderAPIKey, key.PublicKey)
		req.Header.Set(HeaderAPISecret, "sk_live_wrong")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("policy %d: expected 401, got %d", policy, rr.Code)
		}
		if e := decodeError(t, rr); e.Type != model.ErrTypeInvalidAPISecret {
			t.Errorf("policy %d: expected type %q, got %q", policy, model.ErrTypeInvalidAPISecret, e.Type)
		}
	}
}

func TestGateAdmitsAndAudits(t *testing.T) {
	env := newGateEnv(t)
	key, secret := env.createKey(t, model.TierStarter)

	var seen *KeyContext
	handler := env.gate.Require(SecretRequired)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAPIKey(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("POST", "/orders/inbound", nil)
	req.Header.Set(HeaderAPIKey, key.PublicKey)
	req.Header.Set(HeaderAPISecret, secret)
	req.Header.Set("User-Agent", "shop-plugin/2.1")
	req.RemoteAddr = "203.0.113.9:5123"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen == nil || seen.Key.ID != key.ID || !seen.SecretVerified {
		t.Fatalf("expected verified key context, got %+v", seen)
	}
	if got := rr.Header().Get(HeaderRateLimitLimit); got != "10000" {
		t.Errorf("expected limit header 10000, got %q", got)
	}
	if got := rr.Header().Get(HeaderRateLimitRemaining); got != "9999" {
		t.Errorf("expected remaining header 9999, got %q", got)
	}
	if _, err := strconv.ParseInt(rr.Header().Get(HeaderRateLimitReset), 10, 64); err != nil {
		t.Errorf("reset header not unix seconds: %v", err)
	}

	stored, err := env.store.GetAPIKey(context.Background(), key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if stored.DailyRequests != 1 {
		t.Errorf("expected 1 recorded request, got %d", stored.DailyRequests)
	}

	if err := env.audit.Shutdown(context.Background()); err != nil {
		t.Fatalf("audit shutdown: %v", err)
	}
	logs, err := env.audit.ListForKey(context.Background(), key.ID, 10)
	if err != nil {
		t.Fatalf("ListForKey: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(logs))
	}
	got := logs[0]
	if got.StatusCode != http.StatusCreated || got.Method != "POST" || got.Path != "/orders/inbound" {
		t.Errorf("unexpected audit record %+v", got)
	}
	if got.IPAddress != "203.0.113.9" || got.UserAgent != "shop-plugin/2.1" {
		t.Errorf("unexpected client fields %q %q", got.IPAddress, got.UserAgent)
	}
}

func TestGateAuditsPanickingHandler(t *testing.T) {
	env := newGateEnv(t)
	key, _ := env.createKey(t, model.TierFree)

	handler := env.gate.Require(SecretOptional)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest("GET", "/menu", nil)
	req.Header.Set(HeaderAPIKey, key.PublicKey)
	rr := httptest.NewRecorder()

	func() {
		defer func() {
			if rec := recover(); rec != "boom" {
				t.Errorf("expected panic to propagate, got %v", rec)
			}
		}()
		handler.ServeHTTP(rr, req)
	}()

	if err := env.audit.Shutdown(context.Background()); err != nil {
		t.Fatalf("audit shutdown: %v", err)
	}
	logs, err := env.audit.ListForKey(context.Background(), key.ID, 10)
	if err != nil {
		t.Fatalf("ListForKey: %v", err)
	}
	if len(logs) != 1 || logs[0].StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected one 500 audit record, got %+v", logs)
	}
}

func TestLoggerTagsAdmittedKey(t *testing.T) {
	env := newGateEnv(t)
	key, _ := env.createKey(t, model.TierFree)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := Logger(logger)(env.gate.Require(SecretOptional)(okHandler()))

	req := httptest.NewRequest("GET", "/menu", nil)
	req.Header.Set(HeaderAPIKey, key.PublicKey)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["api_key_id"] != key.ID {
		t.Errorf("api_key_id = %v, want %q", line["api_key_id"], key.ID)
	}
}

func TestGateDailyQuota(t *testing.T) {
	env := newGateEnv(t)
	key, _ := env.createKey(t, model.TierFree)
	ctx := context.Background()
	for i := 0; i < 999; i++ {
		if err := env.store.IncrementAPIKeyUsage(ctx, key.ID, time.Now()); err != nil {
			t.Fatalf("IncrementAPIKeyUsage: %v", err)
		}
	}
	handler := env.gate.Require(SecretOptional)(okHandler())

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/restaurants", nil)
		req.Header.Set(HeaderAPIKey, key.PublicKey)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	rr := call()
	if rr.Code != http.StatusOK {
		t.Fatalf("request 1000: expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get(HeaderRateLimitRemaining); got != "0" {
		t.Errorf("request 1000: expected remaining 0, got %q", got)
	}

	rr = call()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("request 1001: expected 429, got %d", rr.Code)
	}
	e := decodeError(t, rr)
	if e.Type != model.ErrTypeRateLimitExceeded {
		t.Errorf("expected type %q, got %q", model.ErrTypeRateLimitExceeded, e.Type)
	}
	if e.Context["remaining"] != float64(0) {
		t.Errorf("expected remaining 0 in context, got %v", e.Context["remaining"])
	}
	if e.Context["tier"] != string(model.TierFree) {
		t.Errorf("expected tier free in context, got %v", e.Context["tier"])
	}
	if e.Context["upgrade"] == "" || e.Context["reset_at"] == nil {
		t.Errorf("expected upgrade hint and reset_at, got %v", e.Context)
	}
}

// ---------------------------------------------------------------------------
// RequireScopes tests
// ---------------------------------------------------------------------------

func withKey(r *http.Request, key *model.APIKey) *http.Request {
	return r.WithContext(WithAPIKey(r.Context(), &KeyContext{Key: key}))
}

func TestRequireScopesAllows(t *testing.T) {
	handler := RequireScopes(model.ScopeWrite)(okHandler())
	key := &model.APIKey{Tier: model.TierStarter, Permissions: model.ScopeRead | model.ScopeWrite}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, withKey(httptest.NewRequest("POST", "/orders/inbound", nil), key))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRequireScopesAdminImpliesAll(t *testing.T) {
	handler := RequireScopes(model.ScopeWhitelabel)(okHandler())
	key := &model.APIKey{Tier: model.TierFree, Permissions: model.ScopeAdmin}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, withKey(httptest.NewRequest("GET", "/", nil), key))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for admin key, got %d", rr.Code)
	}
}

func TestRequireScopesRejects(t *testing.T) {
	handler := RequireScopes(model.ScopeWrite)(okHandler())
	key := &model.APIKey{Tier: model.TierFree, Permissions: model.ScopeRead}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, withKey(httptest.NewRequest("POST", "/orders/inbound", nil), key))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	e := decodeError(t, rr)
	if e.Type != model.ErrTypeInsufficientScope {
		t.Errorf("expected type %q, got %q", model.ErrTypeInsufficientScope, e.Type)
	}
	scopes, _ := e.Context["required_scopes"].([]interface{})
	if len(scopes) != 1 || scopes[0] != "write" {
		t.Errorf("expected required_scopes [write], got %v", e.Context["required_scopes"])
	}
	if e.Context["tier"] != "free" {
		t.Errorf("expected tier free, got %v", e.Context["tier"])
	}
}

func TestRequireScopesWithoutGate(t *testing.T) {
	handler := RequireScopes(model.ScopeRead)(okHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Owner authentication tests
// ---------------------------------------------------------------------------

func TestAuthenticateOwnerBearer(t *testing.T) {
	env := newGateEnv(t)
	authSvc := service.NewAuthService(env.store, "test-secret", bcrypt.MinCost)
	owner, err := env.store.GetOwner(context.Background(), env.owner)
	if err != nil {
		t.Fatalf("GetOwner: %v", err)
	}
	token, err := authSvc.IssueJWT(context.Background(), owner, time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	var p *service.OwnerPrincipal
	handler := Authenticate(authSvc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p = GetOwner(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/v1/system/api-key", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if p == nil || p.OwnerID != env.owner {
		t.Errorf("expected principal for %s, got %+v", env.owner, p)
	}
}

func TestAuthenticateRejectsAPIKey(t *testing.T) {
	env := newGateEnv(t)
	authSvc := service.NewAuthService(env.store, "test-secret", bcrypt.MinCost)
	handler := Authenticate(authSvc)(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/system/api-key", nil)
	req.Header.Set(HeaderAPIKey, "pk_live_abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/system/api-key", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for garbage token, got %d", rr.Code)
	}
}

func TestRequireSuperAdmin(t *testing.T) {
	handler := RequireSuperAdmin()(okHandler())

	tests := []struct {
		name string
		p    *service.OwnerPrincipal
		want int
	}{
		{"unauthenticated", nil, http.StatusForbidden},
		{"regular owner", &service.OwnerPrincipal{OwnerID: "o1"}, http.StatusForbidden},
		{"super admin", &service.OwnerPrincipal{OwnerID: "o2", IsSuperAdmin: true}, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/system/events", nil)
			if tc.p != nil {
				req = req.WithContext(context.WithValue(req.Context(), OwnerPrincipalKey, tc.p))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// IP rate limit tests
// ---------------------------------------------------------------------------

func TestRateLimitByIP(t *testing.T) {
	counter := ratelimit.NewCounter(2, time.Minute)
	handler := RateLimitByIP(2, counter)(okHandler())

	call := func(addr string) int {
		req := httptest.NewRequest("GET", "/restaurants", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if c := call("198.51.100.1:1000"); c != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", c)
	}
	if c := call("198.51.100.1:1001"); c != http.StatusOK {
		t.Fatalf("second request: expected 200, got %d", c)
	}
	if c := call("198.51.100.1:1002"); c != http.StatusTooManyRequests {
		t.Fatalf("third request: expected 429, got %d", c)
	}
	if c := call("198.51.100.2:1000"); c != http.StatusOK {
		t.Errorf("other address: expected 200, got %d", c)
	}
	if counter.Len() != 2 {
		t.Errorf("expected 2 tracked addresses, got %d", counter.Len())
	}
}
