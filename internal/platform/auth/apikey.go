package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"idsync/internal/platform/models"
	"idsync/internal/platform/repositories"
)

// APIKeyPrefix marks management-API service keys in Authorization
// headers.
const APIKeyPrefix = "idk_"

var ErrInvalidAPIKey = errors.New("invalid api key")

// GenerateAPIKey mints a raw key of the form idk_<key id>.<secret> and
// the model row storing only the bcrypt hash of the secret. The raw
// key is returned exactly once.
func GenerateAPIKey(name, createdBy string, expiresAt *int64) (string, *models.APIKey, error) {
	keyID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	secret := uuid.NewString()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}

	key := &models.APIKey{
		ID:         uuid.NewString(),
		Name:       name,
		KeyID:      keyID,
		SecretHash: string(hash),
		CreatedBy:  createdBy,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now().Unix(),
	}
	raw := fmt.Sprintf("%s%s.%s", APIKeyPrefix, keyID, secret)
	return raw, key, nil
}

// APIKeyVerifier checks raw service keys against their stored hashes.
type APIKeyVerifier struct {
	keys *repositories.APIKeyRepository
}

func NewAPIKeyVerifier(keys *repositories.APIKeyRepository) *APIKeyVerifier {
	return &APIKeyVerifier{keys: keys}
}

func (v *APIKeyVerifier) Verify(raw string) (*Claims, error) {
	trimmed := strings.TrimPrefix(raw, APIKeyPrefix)
	keyID, secret, ok := strings.Cut(trimmed, ".")
	if !ok {
		return nil, ErrInvalidAPIKey
	}

	key, err := v.keys.GetByKeyID(keyID)
	if err != nil {
		return nil, err
	}
	if key == nil || key.RevokedAt != nil {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && *key.ExpiresAt < time.Now().Unix() {
		return nil, ErrInvalidAPIKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	return &Claims{UserUUID: key.CreatedBy, Username: key.Name}, nil
}
