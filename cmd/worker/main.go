package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"idsync/internal/engine/pull"
	"idsync/internal/engine/reconcile"
	"idsync/internal/pkg/logger"
	"idsync/internal/platform/config"
	"idsync/internal/platform/database"
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

	userRepo := repositories.NewUserRepository(db)
	orgRepo := repositories.NewOrganizationRepository(db)
	entitlementRepo := repositories.NewEntitlementRepository(db)
	membershipRepo := repositories.NewMembershipRepository(db)

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

	client := pull.NewClient(cfg.Provider, cfg.OIDC)
	coordinator := pull.NewCoordinator(client, userReconciler, orgReconciler, userRepo, orgRepo, cfg.Provider.DisableCreate)
	queue := workers.NewQueue(workers.NewTaskRepository(db), coordinator, cfg.Pull)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Pull worker starting")
	queue.Run(ctx)
	log.Println("Pull worker stopped")
}
