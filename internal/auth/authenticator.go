package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnauthenticated = errors.New("auth: missing or invalid credential")

type Identity struct {
	UserID    string
	Email     string
	Token     string
	ExpiresAt time.Time
}

// Authenticator resolves a bearer credential to a user identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// RevocationList reports tokens revoked by logout, keyed by HashToken.
type RevocationList interface {
	IsTokenRevoked(ctx context.Context, tokenHash string) (bool, error)
}

// JWTAuthenticator verifies tokens signed with the identity provider's shared secret.
type JWTAuthenticator struct {
	secret  string
	revoked RevocationList
}

// NewJWTAuthenticator builds an authenticator; revoked may be nil.
func NewJWTAuthenticator(secret string, revoked RevocationList) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret, revoked: revoked}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := ParseJWT(token, a.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if a.revoked != nil {
		revoked, err := a.revoked.IsTokenRevoked(ctx, HashToken(token))
		if err != nil {
			return Identity{}, fmt.Errorf("%w: revocation check: %v", ErrUnauthenticated, err)
		}
		if revoked {
			return Identity{}, fmt.Errorf("%w: token revoked", ErrUnauthenticated)
		}
	}

	id := Identity{UserID: claims.Subject, Email: claims.Email, Token: token}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

// HashToken is the revocation key for a token; raw tokens are never stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
