package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dashbite/apigw/internal/core"
	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/server/middleware"
	"github.com/dashbite/apigw/internal/service"
	"github.com/dashbite/apigw/internal/store"
	"github.com/dashbite/apigw/internal/webhook"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

type publishedEvent struct {
	Event string
	Data  interface{}
}

// recordingPublisher captures dispatched events instead of delivering them.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Dispatch(ctx context.Context, event string, data interface{}) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Event: event, Data: data})
	return 1, nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Event
	}
	return out
}

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store     *store.Store
	authSvc   *service.AuthService
	keys      *service.KeyManager
	audit     *service.AuditLogger
	registry  *webhook.Registry
	publisher *recordingPublisher
	gateway   *GatewayHandler
	upstream  *http.ServeMux
	router    chi.Router
}

// newTestEnv creates a fresh environment with an in-memory store, a fake core
// service and a router carrying the same middleware as the server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	upstream := http.NewServeMux()
	coreSrv := httptest.NewServer(upstream)
	t.Cleanup(coreSrv.Close)

	authSvc := service.NewAuthService(st, testJWTSecret, bcrypt.MinCost)
	keys := service.NewKeyManager(st, service.WithHashCost(bcrypt.MinCost))
	usage := service.NewUsageTracker(st)
	audit := service.NewAuditLogger(st, nil, 64)
	audit.Start()
	t.Cleanup(func() { audit.Shutdown(context.Background()) })
	registry := webhook.NewRegistry(st, nil)
	pub := &recordingPublisher{}

	sysHandler := NewSystemHandler(st, authSvc, keys, audit, pub, time.Hour, nil)
	gwHandler := NewGatewayHandler(core.NewClient(coreSrv.URL, 2*time.Second), st, pub, core.DefaultAlcoholWindow(), nil)
	whHandler := NewWebhookHandler(registry, 1<<20)
	adminHandler := NewAdminHandler(st, keys, registry, audit)
	gate := middleware.NewGate(keys, usage, audit, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Post("/owner/session", sysHandler.Login)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(authSvc))
				r.Get("/owner/session", sysHandler.Session)
				r.Delete("/owner/session", sysHandler.Logout)
				r.Get("/api-key", sysHandler.ListAPIKeys)
				r.Post("/api-key", sysHandler.CreateAPIKey)
				r.Get("/api-key/{keyId}", sysHandler.GetAPIKey)
				r.Delete("/api-key/{keyId}", sysHandler.DeactivateAPIKey)
				r.Post("/api-key/{keyId}/rotate", sysHandler.RotateAPIKey)
				r.Get("/api-key/{keyId}/audit-logs", sysHandler.KeyAuditLogs)
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireSuperAdmin())
					r.Get("/owner", sysHandler.ListOwners)
					r.Post("/owner", sysHandler.CreateOwner)
					r.Put("/api-key/{keyId}/tier", sysHandler.ChangeTier)
					r.Post("/events", sysHandler.PublishEvent)
				})
			})
		})

		r.Post("/callbacks/{webhookId}", whHandler.Callback)

		r.Group(func(r chi.Router) {
			r.Use(gate.Require(middleware.SecretOptional), middleware.RequireScopes(model.ScopeRead))
			r.Get("/restaurants", gwHandler.ListRestaurants)
			r.Get("/restaurants/{id}", gwHandler.GetRestaurant)
			r.Get("/orders/{id}", gwHandler.GetOrder)
			r.Get("/me", gwHandler.Me)
		})
		r.Group(func(r chi.Router) {
			r.Use(gate.Require(middleware.SecretRequired), middleware.RequireScopes(model.ScopeWrite))
			r.Post("/orders/inbound", gwHandler.CreateInboundOrder)
			r.Patch("/orders/{id}/status", gwHandler.UpdateOrderStatus)
		})
		r.Group(func(r chi.Router) {
			r.Use(gate.Require(middleware.SecretRequired), middleware.RequireScopes(model.ScopeWebhook))
			r.Get("/webhooks", whHandler.List)
			r.Post("/webhooks", whHandler.Create)
			r.Get("/webhooks/{webhookId}", whHandler.Get)
			r.Put("/webhooks/{webhookId}", whHandler.Update)
			r.Delete("/webhooks/{webhookId}", whHandler.Delete)
			r.Get("/webhooks/{webhookId}/deliveries", whHandler.Deliveries)
		})
		r.Group(func(r chi.Router) {
			r.Use(gate.Require(middleware.SecretRequired), middleware.RequireScopes(model.ScopeAdmin))
			r.Get("/admin/keys", adminHandler.ListKeys)
			r.Get("/admin/webhooks", adminHandler.ListWebhooks)
			r.Get("/admin/inbound-orders", adminHandler.ListInboundOrders)
			r.Get("/admin/audit-logs", adminHandler.ListAuditLogs)
		})
	})

	return &testEnv{
		store:     st,
		authSvc:   authSvc,
		keys:      keys,
		audit:     audit,
		registry:  registry,
		publisher: pub,
		gateway:   gwHandler,
		upstream:  upstream,
		router:    r,
	}
}

// seedOwner creates an owner account and returns it with a session token.
func (e *testEnv) seedOwner(t *testing.T, email string, superAdmin bool) (*model.Owner, string) {
	t.Helper()
	owner, err := e.authSvc.CreateOwner(context.Background(), email, "Test Owner", testPassword, superAdmin)
	if err != nil {
		t.Fatalf("seedOwner: %v", err)
	}
	token, err := e.authSvc.IssueJWT(context.Background(), owner, time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	return owner, token
}

// credentials is a key pair as a client would hold it.
type credentials struct {
	key    *model.APIKey
	secret string
}

// seedKey issues a key of the given tier, optionally with the admin scope.
func (e *testEnv) seedKey(t *testing.T, ownerID string, tier model.Tier, admin bool) credentials {
	t.Helper()
	ctx := context.Background()
	key, secret, err := e.keys.CreateAPIKey(ctx, service.CreateKeyParams{OwnerID: ownerID, Name: "integration", Tier: tier})
	if err != nil {
		t.Fatalf("seedKey: %v", err)
	}
	if admin {
		if key, err = e.keys.ChangeTier(ctx, key.ID, tier, true); err != nil {
			t.Fatalf("grant admin: %v", err)
		}
	}
	return credentials{key: key, secret: secret}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// asOwner returns bearer headers for do.
func asOwner(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

// asKey returns API key headers for do; the secret is sent when non-empty.
func asKey(c credentials, withSecret bool) []string {
	h := []string{middleware.HeaderAPIKey, c.key.PublicKey}
	if withSecret {
		h = append(h, middleware.HeaderAPISecret, c.secret)
	}
	return h
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertErrorType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v; body = %s", err, rr.Body.String())
	}
	if resp.Error.Type != want {
		t.Errorf("error type = %q, want %q", resp.Error.Type, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
