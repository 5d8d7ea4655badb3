package repositories

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"idsync/internal/pkg/errors"
	"idsync/internal/platform/models"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repository methods
// can run inside a reconciliation transaction or standalone.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) BeginTx() (*sql.Tx, error) {
	return r.db.Begin()
}

func (r *UserRepository) Get(uuid string) (*models.User, error) {
	return r.GetTx(r.db, uuid)
}

func (r *UserRepository) GetTx(q DBTX, uuid string) (*models.User, error) {
	user := &models.User{}
	var email sql.NullString
	err := q.QueryRow(`
		SELECT uuid, username, email, name, avatar_url, bio, email_failed, email_verified, use_autologin, created_at, updated_at
		FROM users WHERE uuid = ?
	`, uuid).Scan(&user.UUID, &user.Username, &email, &user.Name, &user.AvatarURL, &user.Bio,
		&user.EmailFailed, &user.EmailVerified, &user.UseAutologin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	user.Email = email.String
	return user, nil
}

// nullable maps the empty string to NULL so the unique constraint on
// email ignores users without one.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *UserRepository) Exists(uuid string) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(1) FROM users WHERE uuid = ?`, uuid).Scan(&n)
	return n > 0, err
}

// UpsertTx creates the user or overwrites every mapped field. Unlike
// organizations, user updates are total over the mapped field set.
// Returns true when a new row was created.
func (r *UserRepository) UpsertTx(q DBTX, user *models.User) (bool, error) {
	existing, err := r.GetTx(q, user.UUID)
	if err != nil {
		return false, err
	}

	now := time.Now().Unix()
	if existing == nil {
		user.CreatedAt = now
		user.UpdatedAt = now
		_, err := q.Exec(`
			INSERT INTO users (uuid, username, email, name, avatar_url, bio, email_failed, email_verified, use_autologin, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, user.UUID, user.Username, nullable(user.Email), user.Name, user.AvatarURL, user.Bio,
			user.EmailFailed, user.EmailVerified, user.UseAutologin, user.CreatedAt, user.UpdatedAt)
		return true, err
	}

	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = now
	_, err = q.Exec(`
		UPDATE users SET username = ?, email = ?, name = ?, avatar_url = ?, bio = ?,
			email_failed = ?, email_verified = ?, use_autologin = ?, updated_at = ?
		WHERE uuid = ?
	`, user.Username, nullable(user.Email), user.Name, user.AvatarURL, user.Bio,
		user.EmailFailed, user.EmailVerified, user.UseAutologin, user.UpdatedAt, user.UUID)
	return false, err
}

type OrganizationRepository struct {
	db *sql.DB
}

func NewOrganizationRepository(db *sql.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) BeginTx() (*sql.Tx, error) {
	return r.db.Begin()
}

const orgColumns = `uuid, name, slug, private, individual, entitlement_id, card, avatar_url, max_users, date_update, payment_failed, verified_journalist, created_at, updated_at`

func scanOrganization(row *sql.Row) (*models.Organization, error) {
	org := &models.Organization{}
	err := row.Scan(&org.UUID, &org.Name, &org.Slug, &org.Private, &org.Individual,
		&org.EntitlementID, &org.Card, &org.AvatarURL, &org.MaxUsers, &org.DateUpdate,
		&org.PaymentFailed, &org.VerifiedJournalist, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return org, nil
}

func (r *OrganizationRepository) Get(uuid string) (*models.Organization, error) {
	return r.GetTx(r.db, uuid)
}

func (r *OrganizationRepository) GetTx(q DBTX, uuid string) (*models.Organization, error) {
	return scanOrganization(q.QueryRow(`SELECT `+orgColumns+` FROM organizations WHERE uuid = ?`, uuid))
}

func (r *OrganizationRepository) Exists(uuid string) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(1) FROM organizations WHERE uuid = ?`, uuid).Scan(&n)
	return n > 0, err
}

// GetOrCreateTx returns the organization, creating a row with defaults
// when the uuid is unseen. The slug starts as the uuid so the unique
// constraint holds until reconciliation fills in real fields.
func (r *OrganizationRepository) GetOrCreateTx(q DBTX, uuid string) (*models.Organization, bool, error) {
	org, err := r.GetTx(q, uuid)
	if err != nil {
		return nil, false, err
	}
	if org != nil {
		return org, false, nil
	}

	now := time.Now().Unix()
	org = &models.Organization{
		UUID:       uuid,
		Slug:       uuid,
		Individual: true,
		MaxUsers:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = q.Exec(`
		INSERT INTO organizations (uuid, name, slug, private, individual, card, avatar_url, max_users, payment_failed, verified_journalist, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, org.UUID, org.Name, org.Slug, org.Private, org.Individual, org.Card, org.AvatarURL,
		org.MaxUsers, org.PaymentFailed, org.VerifiedJournalist, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return nil, false, err
	}
	return org, true, nil
}

func (r *OrganizationRepository) UpdateTx(q DBTX, org *models.Organization) error {
	org.UpdatedAt = time.Now().Unix()
	_, err := q.Exec(`
		UPDATE organizations SET name = ?, slug = ?, private = ?, individual = ?, entitlement_id = ?,
			card = ?, avatar_url = ?, max_users = ?, date_update = ?, payment_failed = ?,
			verified_journalist = ?, updated_at = ?
		WHERE uuid = ?
	`, org.Name, org.Slug, org.Private, org.Individual, org.EntitlementID, org.Card, org.AvatarURL,
		org.MaxUsers, org.DateUpdate, org.PaymentFailed, org.VerifiedJournalist, org.UpdatedAt, org.UUID)
	return err
}

type EntitlementRepository struct {
	db *sql.DB
}

func NewEntitlementRepository(db *sql.DB) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

func (r *EntitlementRepository) GetBySlug(slug string) (*models.Entitlement, error) {
	return r.GetBySlugTx(r.db, slug)
}

func (r *EntitlementRepository) GetBySlugTx(q DBTX, slug string) (*models.Entitlement, error) {
	e := &models.Entitlement{}
	var resources string
	err := q.QueryRow(`
		SELECT id, name, slug, description, resources FROM entitlements WHERE slug = ?
	`, slug).Scan(&e.ID, &e.Name, &e.Slug, &e.Description, &resources)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(resources), &e.Resources); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *EntitlementRepository) GetByID(id int64) (*models.Entitlement, error) {
	return r.GetByIDTx(r.db, id)
}

func (r *EntitlementRepository) GetByIDTx(q DBTX, id int64) (*models.Entitlement, error) {
	e := &models.Entitlement{}
	var resources string
	err := q.QueryRow(`
		SELECT id, name, slug, description, resources FROM entitlements WHERE id = ?
	`, id).Scan(&e.ID, &e.Name, &e.Slug, &e.Description, &resources)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(resources), &e.Resources); err != nil {
		return nil, err
	}
	return e, nil
}

// UpsertTx creates or overwrites an entitlement by slug. Name,
// description and resources are replaced unconditionally.
func (r *EntitlementRepository) UpsertTx(q DBTX, e *models.Entitlement) error {
	resources, err := json.Marshal(e.Resources)
	if err != nil {
		return err
	}
	if e.Resources == nil {
		resources = []byte("{}")
	}
	err = q.QueryRow(`
		INSERT INTO entitlements (name, slug, description, resources)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET name = excluded.name, description = excluded.description, resources = excluded.resources
		RETURNING id
	`, e.Name, e.Slug, e.Description, string(resources)).Scan(&e.ID)
	return err
}

// GetOrCreateTx fetches the entitlement by slug, creating it with the
// given defaults when absent. An existing row is left untouched.
func (r *EntitlementRepository) GetOrCreateTx(q DBTX, slug, defaultName string) (*models.Entitlement, bool, error) {
	e, err := r.GetBySlugTx(q, slug)
	if err != nil {
		return nil, false, err
	}
	if e != nil {
		return e, false, nil
	}

	e = &models.Entitlement{Name: defaultName, Slug: slug, Resources: map[string]any{}}
	err = q.QueryRow(`
		INSERT INTO entitlements (name, slug, description, resources) VALUES (?, ?, '', '{}')
		RETURNING id
	`, e.Name, e.Slug).Scan(&e.ID)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

type MembershipRepository struct {
	db *sql.DB
}

func NewMembershipRepository(db *sql.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) BeginTx() (*sql.Tx, error) {
	return r.db.Begin()
}

const membershipColumns = `m.user_uuid, m.organization_uuid, m.active, m.admin, m.created_at, m.updated_at,
	o.uuid, o.name, o.slug, o.private, o.individual, o.entitlement_id, o.card, o.avatar_url,
	o.max_users, o.date_update, o.payment_failed, o.verified_journalist, o.created_at, o.updated_at`

func scanMembershipRows(rows *sql.Rows) ([]*models.Membership, error) {
	defer rows.Close()
	var memberships []*models.Membership
	for rows.Next() {
		m := &models.Membership{Organization: &models.Organization{}}
		o := m.Organization
		err := rows.Scan(&m.UserUUID, &m.OrgUUID, &m.Active, &m.Admin, &m.CreatedAt, &m.UpdatedAt,
			&o.UUID, &o.Name, &o.Slug, &o.Private, &o.Individual, &o.EntitlementID, &o.Card,
			&o.AvatarURL, &o.MaxUsers, &o.DateUpdate, &o.PaymentFailed, &o.VerifiedJournalist,
			&o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func (r *MembershipRepository) ListForUser(userUUID string) ([]*models.Membership, error) {
	return r.ListForUserTx(r.db, userUUID)
}

func (r *MembershipRepository) ListForUserTx(q DBTX, userUUID string) ([]*models.Membership, error) {
	rows, err := q.Query(`
		SELECT `+membershipColumns+`
		FROM memberships m JOIN organizations o ON o.uuid = m.organization_uuid
		WHERE m.user_uuid = ?
		ORDER BY o.slug
	`, userUUID)
	if err != nil {
		return nil, err
	}
	return scanMembershipRows(rows)
}

// GetActiveTx returns the user's active membership with its
// organization, or nil when the user has none.
func (r *MembershipRepository) GetActiveTx(q DBTX, userUUID string) (*models.Membership, error) {
	rows, err := q.Query(`
		SELECT `+membershipColumns+`
		FROM memberships m JOIN organizations o ON o.uuid = m.organization_uuid
		WHERE m.user_uuid = ? AND m.active = 1
		LIMIT 1
	`, userUUID)
	if err != nil {
		return nil, err
	}
	memberships, err := scanMembershipRows(rows)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, nil
	}
	return memberships[0], nil
}

func (r *MembershipRepository) GetActive(userUUID string) (*models.Membership, error) {
	return r.GetActiveTx(r.db, userUUID)
}

func (r *MembershipRepository) InsertTx(q DBTX, m *models.Membership) error {
	now := time.Now().Unix()
	m.CreatedAt = now
	m.UpdatedAt = now
	_, err := q.Exec(`
		INSERT INTO memberships (user_uuid, organization_uuid, active, admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.UserUUID, m.OrgUUID, m.Active, m.Admin, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *MembershipRepository) UpdateAdminTx(q DBTX, userUUID, orgUUID string, admin bool) error {
	_, err := q.Exec(`
		UPDATE memberships SET admin = ?, updated_at = ? WHERE user_uuid = ? AND organization_uuid = ?
	`, admin, time.Now().Unix(), userUUID, orgUUID)
	return err
}

func (r *MembershipRepository) DeactivateAllTx(q DBTX, userUUID string) error {
	_, err := q.Exec(`
		UPDATE memberships SET active = 0, updated_at = ? WHERE user_uuid = ? AND active = 1
	`, time.Now().Unix(), userUUID)
	return err
}

// ActivateTx marks the membership for (user, org) active. It does not
// touch other memberships; callers deactivate first when switching.
func (r *MembershipRepository) ActivateTx(q DBTX, userUUID, orgUUID string) (bool, error) {
	res, err := q.Exec(`
		UPDATE memberships SET active = 1, updated_at = ? WHERE user_uuid = ? AND organization_uuid = ?
	`, time.Now().Unix(), userUUID, orgUUID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SwitchActiveTx moves the user's active slot to the given organization.
// Returns errors.ErrNotFound when the user has no membership there; the
// deactivation still rolls back with the caller's transaction.
func (r *MembershipRepository) SwitchActiveTx(q DBTX, userUUID, orgUUID string) error {
	if err := r.DeactivateAllTx(q, userUUID); err != nil {
		return err
	}
	activated, err := r.ActivateTx(q, userUUID, orgUUID)
	if err != nil {
		return err
	}
	if !activated {
		return errors.ErrNotFound
	}
	return nil
}

// ActivateIndividualTx reactivates the membership pointing at the
// user's individual organization.
func (r *MembershipRepository) ActivateIndividualTx(q DBTX, userUUID string) error {
	_, err := q.Exec(`
		UPDATE memberships SET active = 1, updated_at = ?
		WHERE user_uuid = ? AND organization_uuid IN (SELECT uuid FROM organizations WHERE individual = 1)
	`, time.Now().Unix(), userUUID)
	return err
}

// DeleteByOrgsTx removes the user's memberships to the given
// organizations.
func (r *MembershipRepository) DeleteByOrgsTx(q DBTX, userUUID string, orgUUIDs []string) error {
	if len(orgUUIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(orgUUIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(orgUUIDs)+1)
	args = append(args, userUUID)
	for _, uuid := range orgUUIDs {
		args = append(args, uuid)
	}
	_, err := q.Exec(`
		DELETE FROM memberships WHERE user_uuid = ? AND organization_uuid IN (`+placeholders+`)
	`, args...)
	return err
}
