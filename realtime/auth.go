package realtime

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Identity is what the session authenticator yields for a verified
// credential. Token issuance lives outside this service.
type Identity struct {
	UserID   uuid.UUID
	FullName string
	Role     string
}

// Authenticator verifies the credential presented at connection time.
type Authenticator func(token string) (*Identity, error)

// NewJWTAuthenticator verifies HMAC-signed tokens carrying user_id, role and
// full_name claims.
func NewJWTAuthenticator(secret string) Authenticator {
	return func(tokenString string) (*Identity, error) {
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			return nil, err
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			return nil, errors.New("invalid token")
		}

		rawID, ok := claims["user_id"].(string)
		if !ok {
			return nil, errors.New("token missing user_id claim")
		}
		userID, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("invalid user_id claim: %w", err)
		}

		identity := &Identity{UserID: userID}
		if name, ok := claims["full_name"].(string); ok {
			identity.FullName = name
		}
		if role, ok := claims["role"].(string); ok {
			identity.Role = role
		}
		return identity, nil
	}
}
