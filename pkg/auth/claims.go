package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/pkg/enums"
)

// ServiceTokenPayload scopes an internal call to one organization and network.
type ServiceTokenPayload struct {
	OrganizationID uuid.UUID
	Environment    enums.Network
	Subject        string
}

// ServiceTokenClaims represents the typed JWT exchanged between internal services.
type ServiceTokenClaims struct {
	OrganizationID uuid.UUID     `json:"organization_id"`
	Environment    enums.Network `json:"environment"`
	jwt.RegisteredClaims
}
