package middleware

import (
	"context"
	"net/http"
	"strings"

	apiContext "idsync/internal/api/context"
	"idsync/internal/pkg/errors"
	"idsync/internal/platform/auth"
)

type AuthMiddleware struct {
	tokenSvc *auth.TokenService
	apiKeys  *auth.APIKeyVerifier
}

func NewAuthMiddleware(tokenSvc *auth.TokenService, apiKeys *auth.APIKeyVerifier) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc, apiKeys: apiKeys}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing authorization header", nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
			return
		}

		var claims *auth.Claims
		var err error
		if strings.HasPrefix(parts[1], auth.APIKeyPrefix) {
			claims, err = m.apiKeys.Verify(parts[1])
		} else {
			claims, err = m.tokenSvc.ValidateToken(parts[1])
		}
		if err != nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired credentials", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}
