package middleware

import (
	"net/http"

	"github.com/dashbite/apigw/internal/metrics"
	"github.com/dashbite/apigw/internal/model"
)

// RequireScopes admits keys holding any of the given scopes, or admin. It
// must run after Gate.Require.
func RequireScopes(scopes ...model.Scope) func(http.Handler) http.Handler {
	var required model.Scope
	for _, s := range scopes {
		required |= s
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			kc := GetAPIKey(r.Context())
			if kc == nil {
				writeError(w, http.StatusUnauthorized, model.ErrTypeMissingAPIKey, "API key required", nil)
				return
			}
			if !kc.Key.Permissions.Allows(scopes...) {
				metrics.GateRejections.WithLabelValues(model.ErrTypeInsufficientScope).Inc()
				writeError(w, http.StatusForbidden, model.ErrTypeInsufficientScope,
					"API key lacks the required scope", map[string]interface{}{
						"required_scopes": required.Names(),
						"tier":            kc.Key.Tier,
						"upgrade":         upgradeHint(kc.Key.Tier.UpgradeFor(scopes...)),
					})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
