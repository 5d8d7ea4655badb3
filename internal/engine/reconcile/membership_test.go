package reconcile

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"idsync/internal/pkg/errors"
	"idsync/internal/platform/models"
	"idsync/internal/platform/repositories"
)

func newMembershipReconciler(db *sql.DB) *MembershipReconciler {
	return NewMembershipReconciler(repositories.NewMembershipRepository(db), newOrgReconciler(db))
}

func userPayload(t *testing.T, raw string) *UserPayload {
	t.Helper()
	var p UserPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}
	return &p
}

func insertTestUser(t *testing.T, db *sql.DB, uuid, username string) *models.User {
	t.Helper()
	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO users (uuid, username, created_at, updated_at) VALUES (?, ?, ?, ?)
	`, uuid, username, now, now)
	if err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}
	return &models.User{UUID: uuid, Username: username}
}

func insertTestOrg(t *testing.T, db *sql.DB, uuid, slug string, individual bool) {
	t.Helper()
	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO organizations (uuid, name, slug, individual, max_users, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, uuid, slug, slug, individual, now, now)
	if err != nil {
		t.Fatalf("Failed to insert organization: %v", err)
	}
}

func insertTestMembership(t *testing.T, db *sql.DB, userUUID, orgUUID string, active, admin bool) {
	t.Helper()
	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO memberships (user_uuid, organization_uuid, active, admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userUUID, orgUUID, active, admin, now, now)
	if err != nil {
		t.Fatalf("Failed to insert membership: %v", err)
	}
}

func listMemberships(t *testing.T, db *sql.DB, userUUID string) map[string]*models.Membership {
	t.Helper()
	memberships, err := repositories.NewMembershipRepository(db).ListForUser(userUUID)
	if err != nil {
		t.Fatalf("Failed to list memberships: %v", err)
	}
	byOrg := make(map[string]*models.Membership, len(memberships))
	for _, m := range memberships {
		byOrg[m.OrgUUID] = m
	}
	return byOrg
}

func TestMembershipReconcile_FirstNewMembershipActivates(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newMembershipReconciler(db)
	user := insertTestUser(t, db, "u1", "jane")

	payload := userPayload(t, `{"preferred_username": "jane", "organizations": [
		{"uuid": "ind1", "name": "jane", "slug": "jane", "individual": true, "max_users": 1, "entitlements": []},
		{"uuid": "team1", "name": "Newsroom", "slug": "newsroom", "individual": false, "max_users": 5, "entitlements": [], "admin": true}
	]}`)

	if err := r.ReconcileTx(db, user, payload.Organizations); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	byOrg := listMemberships(t, db, "u1")
	if len(byOrg) != 2 {
		t.Fatalf("Expected 2 memberships, got %d", len(byOrg))
	}
	// non-individual organizations reconcile first, so the team wins
	// the single active slot
	if !byOrg["team1"].Active || byOrg["ind1"].Active {
		t.Errorf("Expected team1 active and ind1 inactive, got team1=%v ind1=%v",
			byOrg["team1"].Active, byOrg["ind1"].Active)
	}
	if !byOrg["team1"].Admin {
		t.Error("Expected admin flag from descriptor")
	}
}

func TestMembershipReconcile_RefreshesAdminOnExisting(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newMembershipReconciler(db)
	user := insertTestUser(t, db, "u1", "jane")
	insertTestOrg(t, db, "team1", "newsroom", false)
	insertTestMembership(t, db, "u1", "team1", true, false)

	payload := userPayload(t, `{"preferred_username": "jane", "organizations": [
		{"uuid": "team1", "name": "Newsroom", "slug": "newsroom", "individual": false, "max_users": 5, "entitlements": [], "admin": true}
	]}`)

	if err := r.ReconcileTx(db, user, payload.Organizations); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	byOrg := listMemberships(t, db, "u1")
	if len(byOrg) != 1 {
		t.Fatalf("Expected 1 membership, got %d", len(byOrg))
	}
	if !byOrg["team1"].Admin {
		t.Error("Expected admin flag to be refreshed")
	}
	if !byOrg["team1"].Active {
		t.Error("Expected existing membership to stay active")
	}
}

func TestMembershipReconcile_RemovalFallsBackToIndividual(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newMembershipReconciler(db)
	user := insertTestUser(t, db, "u1", "jane")
	insertTestOrg(t, db, "ind1", "jane", true)
	insertTestOrg(t, db, "team1", "newsroom", false)
	insertTestMembership(t, db, "u1", "ind1", false, true)
	insertTestMembership(t, db, "u1", "team1", true, false)

	// the active team membership disappears from the payload
	payload := userPayload(t, `{"preferred_username": "jane", "organizations": [
		{"uuid": "ind1", "name": "jane", "slug": "jane", "individual": true, "max_users": 1, "entitlements": [], "admin": true}
	]}`)

	if err := r.ReconcileTx(db, user, payload.Organizations); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	byOrg := listMemberships(t, db, "u1")
	if len(byOrg) != 1 {
		t.Fatalf("Expected 1 membership after removal, got %d", len(byOrg))
	}
	if !byOrg["ind1"].Active {
		t.Error("Expected individual membership to become active")
	}
}

func TestMembershipReconcile_NeverDeletesIndividual(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newMembershipReconciler(db)
	user := insertTestUser(t, db, "u1", "jane")
	insertTestOrg(t, db, "ind1", "jane", true)
	insertTestMembership(t, db, "u1", "ind1", true, true)

	// malformed upstream state: the payload omits the individual org
	payload := userPayload(t, `{"preferred_username": "jane", "organizations": [
		{"uuid": "team1", "name": "Newsroom", "slug": "newsroom", "individual": false, "max_users": 5, "entitlements": []}
	]}`)

	if err := r.ReconcileTx(db, user, payload.Organizations); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	byOrg := listMemberships(t, db, "u1")
	if len(byOrg) != 2 {
		t.Fatalf("Expected individual membership kept, got %d memberships", len(byOrg))
	}
	if _, ok := byOrg["ind1"]; !ok {
		t.Fatal("Expected individual membership to survive")
	}
	if !byOrg["team1"].Active || byOrg["ind1"].Active {
		t.Error("Expected the new team membership to hold the active slot")
	}
}

func TestMembershipReconcile_ExactlyOneActive(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newMembershipReconciler(db)
	user := insertTestUser(t, db, "u1", "jane")

	payload := userPayload(t, `{"preferred_username": "jane", "organizations": [
		{"uuid": "ind1", "name": "jane", "slug": "jane", "individual": true, "max_users": 1, "entitlements": []},
		{"uuid": "team1", "name": "A", "slug": "a", "individual": false, "max_users": 5, "entitlements": []},
		{"uuid": "team2", "name": "B", "slug": "b", "individual": false, "max_users": 5, "entitlements": []}
	]}`)

	if err := r.ReconcileTx(db, user, payload.Organizations); err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}
	// a second identical run must not disturb the active slot
	if err := r.ReconcileTx(db, user, payload.Organizations); err != nil {
		t.Fatalf("Failed to reconcile again: %v", err)
	}

	var active int
	err := db.QueryRow(`SELECT COUNT(1) FROM memberships WHERE user_uuid = 'u1' AND active = 1`).Scan(&active)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if active != 1 {
		t.Errorf("Expected exactly one active membership, got %d", active)
	}
}

func TestMembershipReconcile_DescriptorWithoutUUID(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	r := newMembershipReconciler(db)
	user := insertTestUser(t, db, "u1", "jane")

	payload := userPayload(t, `{"preferred_username": "jane", "organizations": [
		{"name": "Newsroom", "slug": "newsroom", "individual": false, "max_users": 5, "entitlements": []}
	]}`)

	err := r.ReconcileTx(db, user, payload.Organizations)
	if !errors.IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}
