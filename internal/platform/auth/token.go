package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
)

// IssueToken signs an HS256 token for actor. It backs the token CLI and
// tests; production tokens come from the identity provider.
func IssueToken(key []byte, issuer, audience string, actor identity.Actor, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("signing key is empty")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role: string(actor.Role),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	if actor.HasCentre() {
		claims.CentreID = actor.CentreID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
