package auth

import (
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	ActorID uuid.UUID
	Role    enums.ActorRole
	JTI     string
}

// AccessTokenClaims represents the typed JWT presented to the recovery API.
type AccessTokenClaims struct {
	ActorID uuid.UUID       `json:"actor_id"`
	Role    enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}
