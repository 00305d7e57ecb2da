package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/dashbite/apigw/internal/model"
)

// writeError writes the standard error envelope. Middleware cannot use the
// handler package's helpers without an import cycle.
func writeError(w http.ResponseWriter, status int, errType, message string, ctx map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{ //nolint:errcheck
		Error: model.ErrorDetail{
			Code:    status,
			Type:    errType,
			Message: message,
			Context: ctx,
		},
	})
}

// upgradeHint suggests the next step for a caller who hit a tier boundary.
func upgradeHint(next model.Tier) string {
	if next == "" {
		return "Contact support to raise your limits."
	}
	return "Upgrade to the " + string(next) + " tier for higher limits and more scopes."
}
