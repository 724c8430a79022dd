package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/andresilva/courier/internal/domain/tenant"
	"github.com/golang-jwt/jwt/v5"
)

// TenantHeader carries the tenant for trusted internal callers that do
// not present a token.
const TenantHeader = "X-Tenant-ID"

type tenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Tenant resolves the caller's tenant and stores it in the request
// context. A Bearer token with a tenant_id claim takes precedence over
// the X-Tenant-ID header. Requests without either proceed untenanted;
// the idempotent enqueue path rejects them later.
func Tenant(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if jwtSecret != "" && strings.HasPrefix(authHeader, "Bearer ") {
				tokenString := strings.TrimPrefix(authHeader, "Bearer ")

				claims := &tenantClaims{}
				token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
					}
					return []byte(jwtSecret), nil
				})
				if err != nil || !token.Valid {
					writeTenantError(w, "invalid token", "auth_invalid_token")
					return
				}
				if claims.TenantID == "" {
					writeTenantError(w, "token carries no tenant", "auth_missing_tenant")
					return
				}

				next.ServeHTTP(w, r.WithContext(tenant.WithTenant(r.Context(), claims.TenantID)))
				return
			}

			if id := r.Header.Get(TenantHeader); id != "" {
				next.ServeHTTP(w, r.WithContext(tenant.WithTenant(r.Context(), id)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeTenantError(w http.ResponseWriter, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}
