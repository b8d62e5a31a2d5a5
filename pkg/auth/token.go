package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/pkg/config"
)

const defaultServiceTokenTTL = 30 * time.Second

var jwtSigningMethod = jwt.SigningMethodHS256

// MintServiceToken issues a short-lived signed JWT for the provided scope.
func MintServiceToken(cfg config.ServiceTokenConfig, now time.Time, payload ServiceTokenPayload) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("service token secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("service token issuer is required")
	}
	if payload.OrganizationID == uuid.Nil {
		return "", fmt.Errorf("organization id is required")
	}
	if !payload.Environment.IsValid() {
		return "", fmt.Errorf("invalid environment %q", payload.Environment)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultServiceTokenTTL
	}

	claims := ServiceTokenClaims{
		OrganizationID: payload.OrganizationID,
		Environment:    payload.Environment,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseServiceToken validates the JWT string and returns typed claims.
func ParseServiceToken(cfg config.ServiceTokenConfig, tokenString string) (*ServiceTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("service token secret is required")
	}

	claims := &ServiceTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.OrganizationID == uuid.Nil || !claims.Environment.IsValid() {
		return nil, fmt.Errorf("service token missing scope")
	}

	return claims, nil
}
