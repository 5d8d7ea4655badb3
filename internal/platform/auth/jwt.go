package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"idsync/internal/platform/config"
)

type Claims struct {
	UserUUID string `json:"uid"`
	Username string `json:"username"`
	OrgUUID  string `json:"oid"`
	jwt.RegisteredClaims
}

// TokenService mints and validates the local session tokens issued
// after a successful OIDC login.
type TokenService struct {
	config config.JWTConfig
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{config: cfg}
}

func (s *TokenService) GenerateAccessToken(userUUID, username, orgUUID string) (string, error) {
	claims := Claims{
		UserUUID: userUUID,
		Username: username,
		OrgUUID:  orgUUID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.config.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "idsync",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.Secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
