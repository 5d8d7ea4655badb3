package reconcile

import (
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"idsync/internal/pkg/errors"
	"idsync/internal/platform/models"
	"idsync/internal/platform/repositories"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}

	schema := `
	CREATE TABLE users (
		uuid TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		email_failed INTEGER NOT NULL DEFAULT 0,
		email_verified INTEGER NOT NULL DEFAULT 0,
		use_autologin INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE entitlements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		slug TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		resources TEXT NOT NULL DEFAULT '{}'
	);
	CREATE TABLE organizations (
		uuid TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		slug TEXT UNIQUE,
		private INTEGER NOT NULL DEFAULT 0,
		individual INTEGER NOT NULL DEFAULT 1,
		entitlement_id INTEGER REFERENCES entitlements(id),
		card TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		max_users INTEGER NOT NULL DEFAULT 1,
		date_update TEXT,
		payment_failed INTEGER NOT NULL DEFAULT 0,
		verified_journalist INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE memberships (
		user_uuid TEXT NOT NULL,
		organization_uuid TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		admin INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_uuid, organization_uuid)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return db
}

func newOrgReconciler(db *sql.DB) *OrganizationReconciler {
	return NewOrganizationReconciler(db,
		repositories.NewOrganizationRepository(db),
		repositories.NewEntitlementRepository(db))
}

func orgPayload(t *testing.T, raw string) *OrganizationPayload {
	t.Helper()
	var p OrganizationPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	return &p
}

func TestOrganizationReconcile_Create(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newOrgReconciler(db)
	payload := orgPayload(t, `{
		"name": "Newsroom", "slug": "newsroom", "individual": false, "max_users": 5,
		"verified_journalist": true,
		"entitlements": [{"name": "Pro", "slug": "pro", "description": "Paid plan",
			"resources": {"minimum_users": 5}, "update_on": "2024-03-05"}]
	}`)

	org, created, err := r.Reconcile("org1", payload)
	if err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}
	if !created {
		t.Error("Expected organization to be created")
	}
	if org.Name != "Newsroom" || org.Slug != "newsroom" || org.Individual {
		t.Errorf("Unexpected organization fields: %+v", org)
	}
	if !org.VerifiedJournalist {
		t.Error("Expected verified_journalist to be set")
	}
	if org.Entitlement == nil || org.Entitlement.Slug != "pro" {
		t.Fatalf("Expected pro entitlement, got %+v", org.Entitlement)
	}
	if org.DateUpdate == nil || *org.DateUpdate != "2024-03-05" {
		t.Errorf("Expected date_update 2024-03-05, got %v", org.DateUpdate)
	}

	stored, err := repositories.NewEntitlementRepository(db).GetBySlug("pro")
	if err != nil || stored == nil {
		t.Fatalf("Expected stored entitlement, got %v, %v", stored, err)
	}
	if stored.Resources["minimum_users"] != float64(5) {
		t.Errorf("Expected minimum_users 5, got %v", stored.Resources["minimum_users"])
	}
}

func TestOrganizationReconcile_FreeFallback(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newOrgReconciler(db)
	payload := orgPayload(t, `{
		"name": "Jane", "slug": "jane", "individual": true, "max_users": 1, "entitlements": []
	}`)

	org, _, err := r.Reconcile("org1", payload)
	if err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}
	if org.Entitlement == nil || org.Entitlement.Slug != models.FreeEntitlementSlug {
		t.Fatalf("Expected free entitlement, got %+v", org.Entitlement)
	}
	if org.Entitlement.Name != "Free" {
		t.Errorf("Expected entitlement name Free, got %s", org.Entitlement.Name)
	}
	if org.DateUpdate != nil {
		t.Errorf("Expected nil date_update on free fallback, got %v", *org.DateUpdate)
	}
}

func TestOrganizationReconcile_FirstEntitlementWins(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newOrgReconciler(db)
	payload := orgPayload(t, `{
		"name": "Newsroom", "slug": "newsroom", "individual": false, "max_users": 5,
		"entitlements": [
			{"name": "Pro", "slug": "pro", "description": "", "resources": {}, "update_on": null},
			{"name": "Enterprise", "slug": "enterprise", "description": "", "resources": {}, "update_on": null}
		]
	}`)

	org, _, err := r.Reconcile("org1", payload)
	if err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}
	if org.Entitlement.Slug != "pro" {
		t.Errorf("Expected first entitlement pro to win, got %s", org.Entitlement.Slug)
	}
}

func TestOrganizationReconcile_PartialUpdate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newOrgReconciler(db)
	full := orgPayload(t, `{
		"name": "Newsroom", "slug": "newsroom", "individual": false, "max_users": 5,
		"card": "visa-4242", "verified_journalist": true, "entitlements": []
	}`)
	if _, _, err := r.Reconcile("org1", full); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	// required keys only; card and verified_journalist must survive
	partial := orgPayload(t, `{
		"name": "Newsroom Renamed", "slug": "newsroom", "individual": false, "max_users": 99,
		"entitlements": []
	}`)
	org, created, err := r.Reconcile("org1", partial)
	if err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}
	if created {
		t.Error("Expected existing organization")
	}
	if org.Name != "Newsroom Renamed" {
		t.Errorf("Expected name overwrite, got %s", org.Name)
	}
	if org.Card != "visa-4242" || !org.VerifiedJournalist {
		t.Errorf("Expected absent keys to keep stored values, got %+v", org)
	}
	if org.MaxUsers != 1 {
		t.Errorf("Expected max_users to stay locally managed, got %d", org.MaxUsers)
	}
}

func TestOrganizationReconcile_EntitlementOverwrite(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newOrgReconciler(db)
	first := orgPayload(t, `{
		"name": "Newsroom", "slug": "newsroom", "individual": false, "max_users": 5,
		"entitlements": [{"name": "Pro", "slug": "pro", "description": "Old",
			"resources": {"base_pages": 10}, "update_on": null}]
	}`)
	if _, _, err := r.Reconcile("org1", first); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	second := orgPayload(t, `{
		"name": "Newsroom", "slug": "newsroom", "individual": false, "max_users": 5,
		"entitlements": [{"name": "Pro Plus", "slug": "pro", "description": "New",
			"resources": {"base_pages": 20}, "update_on": null}]
	}`)
	if _, _, err := r.Reconcile("org1", second); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	stored, err := repositories.NewEntitlementRepository(db).GetBySlug("pro")
	if err != nil || stored == nil {
		t.Fatalf("Expected stored entitlement, got %v, %v", stored, err)
	}
	if stored.Name != "Pro Plus" || stored.Description != "New" {
		t.Errorf("Expected entitlement overwrite, got %+v", stored)
	}
	if stored.Resources["base_pages"] != float64(20) {
		t.Errorf("Expected resources overwrite, got %v", stored.Resources)
	}
}

func TestOrganizationReconcile_MissingFieldsRejectedBeforeWrite(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newOrgReconciler(db)
	payload := orgPayload(t, `{"slug": "newsroom"}`)

	_, _, err := r.Reconcile("org1", payload)
	if !errors.IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}

	exists, err := repositories.NewOrganizationRepository(db).Exists("org1")
	if err != nil {
		t.Fatalf("Failed to check existence: %v", err)
	}
	if exists {
		t.Error("Expected no organization row after rejected payload")
	}
}
