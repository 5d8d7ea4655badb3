package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"idsync/internal/api"
	"idsync/internal/api/handlers"
	"idsync/internal/api/middleware"
	"idsync/internal/engine/profile"
	"idsync/internal/engine/pull"
	"idsync/internal/engine/reconcile"
	"idsync/internal/pkg/logger"
	"idsync/internal/platform/auth"
	"idsync/internal/platform/config"
	"idsync/internal/platform/database"
	"idsync/internal/platform/models"
	"idsync/internal/platform/repositories"
	"idsync/internal/workers"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	orgRepo := repositories.NewOrganizationRepository(db)
	entitlementRepo := repositories.NewEntitlementRepository(db)
	membershipRepo := repositories.NewMembershipRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)

	// Reconciliation engine
	orgReconciler := reconcile.NewOrganizationReconciler(db, orgRepo, entitlementRepo)
	if fields := cfg.Entitlements.ResourceFields; len(fields) > 0 {
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = f.Name
		}
		orgReconciler.SetResourceUpdater(reconcile.NewSchemaResourceUpdater(names))
	}
	membershipReconciler := reconcile.NewMembershipReconciler(membershipRepo, orgReconciler)
	userReconciler := reconcile.NewUserReconciler(db, userRepo, membershipReconciler, cfg.Provider.DisableCreateAgency)

	// Profile cache, dropped whenever a reconciliation touches the user
	cache := profile.NewCache(0)
	userReconciler.Subscribe(func(u *models.User, _ *reconcile.UserPayload) {
		cache.Invalidate(u.UUID)
	})

	// Pull pipeline shared with the webhook endpoint
	client := pull.NewClient(cfg.Provider, cfg.OIDC)
	coordinator := pull.NewCoordinator(client, userReconciler, orgReconciler, userRepo, orgRepo, cfg.Provider.DisableCreate)
	queue := workers.NewQueue(workers.NewTaskRepository(db), coordinator, cfg.Pull)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	apiKeyVerifier := auth.NewAPIKeyVerifier(apiKeyRepo)

	// Handlers
	authHandler, err := handlers.NewAuthHandler(context.Background(), cfg.OIDC, cfg.Provider,
		userReconciler, membershipRepo, tokenSvc)
	if err != nil {
		log.Fatalf("Failed to discover OIDC provider: %v", err)
	}
	userHandler := handlers.NewUserHandler(userRepo, membershipRepo, cache)
	orgHandler := handlers.NewOrgHandler(membershipRepo, entitlementRepo, cache, cfg.Entitlements.ResourceFields)
	apiKeyHandler := handlers.NewAPIKeyHandler(apiKeyRepo)
	webhookHandler := handlers.NewWebhookHandler(cfg.Provider.WebhookSecret, queue)
	healthHandler := handlers.NewHealthHandler(db)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenSvc, apiKeyVerifier)

	// Router
	deps := &api.Dependencies{
		AuthHandler:    authHandler,
		UserHandler:    userHandler,
		OrgHandler:     orgHandler,
		APIKeyHandler:  apiKeyHandler,
		WebhookHandler: webhookHandler,
		HealthHandler:  healthHandler,
		AuthMiddleware: authMiddleware,
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("Server starting on %s", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
