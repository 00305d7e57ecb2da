package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/service"
)

type contextKeyAuth string

const (
	// OwnerPrincipalKey is the context key for the authenticated owner.
	OwnerPrincipalKey contextKeyAuth = "owner_principal"
)

// Authenticate validates the owner bearer token in the Authorization header.
// API keys are not accepted here; they belong to the third-party gate.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, model.ErrTypeUnauthorized,
					"Authentication required. Provide a Bearer token.", nil)
				return
			}

			p, err := authSvc.ValidateJWT(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, service.ErrTokenExpired) {
					msg = "Token expired"
				}
				writeError(w, http.StatusUnauthorized, model.ErrTypeUnauthorized, msg, nil)
				return
			}

			ctx := context.WithValue(r.Context(), OwnerPrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSuperAdmin enforces super-admin access. It must run after Authenticate.
func RequireSuperAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetOwner(r.Context())
			if p == nil || !p.IsSuperAdmin {
				writeError(w, http.StatusForbidden, model.ErrTypeForbidden, "Super admin access required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetOwner extracts the authenticated owner from the context, or nil.
func GetOwner(ctx context.Context) *service.OwnerPrincipal {
	if p, ok := ctx.Value(OwnerPrincipalKey).(*service.OwnerPrincipal); ok {
		return p
	}
	return nil
}
