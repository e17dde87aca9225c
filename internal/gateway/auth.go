// ABOUTME: JWT bearer token issuing and verification for the gateway
// ABOUTME: Tokens carry a user ID plus a role claim (customer or agent)

package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/storeline/chatsync/internal/wire"
)

// ErrInvalidToken indicates a missing, malformed, or expired bearer token.
var ErrInvalidToken = errors.New("invalid token")

// defaultTokenTTL bounds issued token lifetime.
const defaultTokenTTL = 24 * time.Hour

// Identity is the authenticated principal extracted from a token.
type Identity struct {
	UserID int64
	Role   wire.Role
}

// claims is the JWT claim set used by chatsync tokens.
type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies chatsync bearer tokens.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates an issuer with the shared HMAC secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// Issue signs a token for a user and role.
func (t *TokenIssuer) Issue(userID int64, role wire.Role) (string, error) {
	now := time.Now()
	c := claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(defaultTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses a bearer token and returns the identity it carries.
func (t *TokenIssuer) Verify(tokenString string) (*Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	role := wire.Role(c.Role)
	if role != wire.RoleCustomer && role != wire.RoleAgent {
		return nil, ErrInvalidToken
	}

	return &Identity{UserID: userID, Role: role}, nil
}
