package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "idsync/internal/api/context"
	"idsync/internal/api/handlers"
	"idsync/internal/api/middleware"
)

type Dependencies struct {
	AuthHandler    *handlers.AuthHandler
	UserHandler    *handlers.UserHandler
	OrgHandler     *handlers.OrgHandler
	APIKeyHandler  *handlers.APIKeyHandler
	WebhookHandler *handlers.WebhookHandler
	HealthHandler  *handlers.HealthHandler
	AuthMiddleware *middleware.AuthMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	// Provider-facing cache invalidation endpoint, HMAC-authenticated
	router.POST("/webhook/", wrap(deps.WebhookHandler.Handle))

	router.GET("/health", wrap(deps.HealthHandler.Check))

	// OIDC login flow
	router.GET("/api/v1/auth/login", wrap(deps.AuthHandler.Login))
	router.GET("/api/v1/auth/callback", wrap(deps.AuthHandler.Callback))
	router.GET("/api/v1/auth/logout", wrap(deps.AuthHandler.Logout))

	authMid := deps.AuthMiddleware

	// Mirrored profile
	router.GET("/api/v1/users/me", chain(deps.UserHandler.Me, authMid.Handle))

	// Organizations
	router.GET("/api/v1/organizations", chain(deps.OrgHandler.List, authMid.Handle))
	router.GET("/api/v1/organizations/current", chain(deps.OrgHandler.GetCurrent, authMid.Handle))
	router.POST("/api/v1/organizations/activate", chain(deps.OrgHandler.Activate, authMid.Handle))

	// Service keys for the management API
	router.POST("/api/v1/keys", chain(deps.APIKeyHandler.Create, authMid.Handle))
	router.GET("/api/v1/keys", chain(deps.APIKeyHandler.List, authMid.Handle))
	router.DELETE("/api/v1/keys/:key_id", chain(deps.APIKeyHandler.Revoke, authMid.Handle))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
