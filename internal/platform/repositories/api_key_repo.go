package repositories

import (
	"database/sql"
	"time"

	"idsync/internal/platform/models"
)

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(key *models.APIKey) error {
	_, err := r.db.Exec(`
		INSERT INTO api_keys (id, name, key_id, secret_hash, created_by, expires_at, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, key.ID, key.Name, key.KeyID, key.SecretHash, key.CreatedBy, key.ExpiresAt, key.RevokedAt, key.CreatedAt)
	return err
}

func (r *APIKeyRepository) GetByKeyID(keyID string) (*models.APIKey, error) {
	key := &models.APIKey{}
	err := r.db.QueryRow(`
		SELECT id, name, key_id, secret_hash, created_by, expires_at, revoked_at, created_at
		FROM api_keys WHERE key_id = ?
	`, keyID).Scan(&key.ID, &key.Name, &key.KeyID, &key.SecretHash, &key.CreatedBy, &key.ExpiresAt, &key.RevokedAt, &key.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return key, nil
}

func (r *APIKeyRepository) List() ([]*models.APIKey, error) {
	rows, err := r.db.Query(`
		SELECT id, name, key_id, secret_hash, created_by, expires_at, revoked_at, created_at
		FROM api_keys ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key := &models.APIKey{}
		err := rows.Scan(&key.ID, &key.Name, &key.KeyID, &key.SecretHash, &key.CreatedBy, &key.ExpiresAt, &key.RevokedAt, &key.CreatedAt)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) Revoke(id string) error {
	_, err := r.db.Exec(`
		UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, time.Now().Unix(), id)
	return err
}
