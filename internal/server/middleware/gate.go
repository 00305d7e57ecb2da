package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dashbite/apigw/internal/metrics"
	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/service"
)

// Credential headers for third-party callers.
const (
	HeaderAPIKey    = "X-API-Key"
	HeaderAPISecret = "X-API-Secret"
)

// Quota headers set on every gated response.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// SecretPolicy says whether a route accepts the public identifier alone.
type SecretPolicy int

const (
	// SecretOptional admits public-identifier-only callers; a secret, if
	// sent, must still be correct.
	SecretOptional SecretPolicy = iota
	// SecretRequired demands the secret.
	SecretRequired
)

type contextKeyGate string

const apiKeyContextKey contextKeyGate = "api_key"

// KeyContext is what the gate attaches to an admitted request.
type KeyContext struct {
	Key            *model.APIKey
	SecretVerified bool
	Quota          service.RateLimitResult
}

// GetAPIKey returns the gate context of an admitted request, or nil.
func GetAPIKey(ctx context.Context) *KeyContext {
	if kc, ok := ctx.Value(apiKeyContextKey).(*KeyContext); ok {
		return kc
	}
	return nil
}

// WithAPIKey attaches kc to ctx.
func WithAPIKey(ctx context.Context, kc *KeyContext) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, kc)
}

// Gate authenticates third-party API keys, enforces their daily quota and
// journals admitted requests.
type Gate struct {
	keys   *service.KeyManager
	usage  *service.UsageTracker
	audit  *service.AuditLogger
	logger *slog.Logger
}

func NewGate(keys *service.KeyManager, usage *service.UsageTracker, audit *service.AuditLogger, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{keys: keys, usage: usage, audit: audit, logger: logger}
}

// Require returns middleware running the gate checks in order: key present,
// key known, key active and unexpired, secret valid, quota available.
func (g *Gate) Require(policy SecretPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			publicKey := r.Header.Get(HeaderAPIKey)
			if publicKey == "" {
				g.reject(w, http.StatusUnauthorized, model.ErrTypeMissingAPIKey,
					"API key required. Provide the "+HeaderAPIKey+" header.", nil)
				return
			}

			key, err := g.keys.Lookup(ctx, publicKey)
			if err != nil {
				if errors.Is(err, service.ErrUnknownKey) {
					g.reject(w, http.StatusUnauthorized, model.ErrTypeInvalidAPIKey, "Invalid API key", nil)
					return
				}
				g.logger.Error("api key lookup failed", "error", err)
				writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Internal error", nil)
				return
			}

			if err := g.keys.CheckUsable(key); err != nil {
				if errors.Is(err, service.ErrKeyExpired) {
					g.reject(w, http.StatusForbidden, model.ErrTypeAPIKeyExpired, "API key has expired", nil)
				} else {
					g.reject(w, http.StatusForbidden, model.ErrTypeAPIKeyInactive, "API key is inactive", nil)
				}
				return
			}

			secret := r.Header.Get(HeaderAPISecret)
			verified := false
			if secret != "" || policy == SecretRequired {
				if err := g.keys.VerifySecret(key, secret); err != nil {
					if errors.Is(err, service.ErrSecretRequired) {
						g.reject(w, http.StatusUnauthorized, model.ErrTypeAPISecretRequired,
							"This endpoint requires the "+HeaderAPISecret+" header", nil)
					} else {
						g.reject(w, http.StatusUnauthorized, model.ErrTypeInvalidAPISecret, "Invalid API secret", nil)
					}
					return
				}
				verified = true
			}

			quota, err := g.usage.CheckRateLimit(ctx, key)
			if err != nil {
				g.logger.Error("rate limit check failed", "key_id", key.ID, "error", err)
				writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Internal error", nil)
				return
			}
			setQuotaHeaders(w, quota)
			if !quota.Allowed {
				g.reject(w, http.StatusTooManyRequests, model.ErrTypeRateLimitExceeded,
					"Daily request limit reached", map[string]interface{}{
						"remaining": quota.Remaining,
						"reset_at":  quota.ResetAt.Format(time.RFC3339),
						"tier":      key.Tier,
						"upgrade":   upgradeHint(key.Tier.Next()),
					})
				return
			}

			if err := g.usage.RecordUsage(ctx, key); err != nil {
				g.logger.Warn("record usage failed", "key_id", key.ID, "error", err)
			}

			tagKey(ctx, key.ID)
			kc := &KeyContext{Key: key, SecretVerified: verified, Quota: quota}
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if rec := recover(); rec != nil {
					g.record(r, key.ID, http.StatusInternalServerError, time.Since(start))
					panic(rec)
				}
				g.record(r, key.ID, ww.status, time.Since(start))
			}()
			next.ServeHTTP(ww, r.WithContext(WithAPIKey(ctx, kc)))
		})
	}
}

func (g *Gate) reject(w http.ResponseWriter, status int, errType, message string, ctx map[string]interface{}) {
	metrics.GateRejections.WithLabelValues(errType).Inc()
	writeError(w, status, errType, message, ctx)
}

// record queues the audit entry; it never blocks the response.
func (g *Gate) record(r *http.Request, keyID string, status int, elapsed time.Duration) {
	if g.audit == nil {
		return
	}
	g.audit.Record(model.APIAuditLog{
		APIKeyID:       &keyID,
		Method:         r.Method,
		Path:           r.URL.Path,
		StatusCode:     status,
		ResponseTimeMs: elapsed.Milliseconds(),
		IPAddress:      clientIP(r),
		UserAgent:      r.UserAgent(),
	})
}

func setQuotaHeaders(w http.ResponseWriter, q service.RateLimitResult) {
	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.FormatInt(q.Limit, 10))
	h.Set(HeaderRateLimitRemaining, strconv.FormatInt(q.Remaining, 10))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(q.ResetAt.Unix(), 10))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
