package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type revocations map[string]bool

func (r revocations) IsTokenRevoked(ctx context.Context, h string) (bool, error) {
	_ = ctx
	return r[h], nil
}

func TestAuthenticate_ValidToken(t *testing.T) {
	tok, err := SignJWT("user-1", "a@example.com", "secret", time.Hour)
	require.NoError(t, err)

	id, err := NewJWTAuthenticator("secret", nil).Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "a@example.com", id.Email)
	assert.WithinDuration(t, time.Now().Add(time.Hour), id.ExpiresAt, 5*time.Second)
}

func TestAuthenticate_Rejects(t *testing.T) {
	good, err := SignJWT("user-1", "", "secret", time.Hour)
	require.NoError(t, err)
	expired, err := SignJWT("user-1", "", "secret", -time.Minute)
	require.NoError(t, err)
	noSubject, err := SignJWT("", "", "secret", time.Hour)
	require.NoError(t, err)

	cases := map[string]struct {
		token   string
		revoked revocations
	}{
		"empty":        {token: ""},
		"garbage":      {token: "not-a-jwt"},
		"wrong secret": {token: mustSign(t, "other")},
		"expired":      {token: expired},
		"no subject":   {token: noSubject},
		"revoked":      {token: good, revoked: revocations{HashToken(good): true}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var rl RevocationList
			if tc.revoked != nil {
				rl = tc.revoked
			}
			_, err := NewJWTAuthenticator("secret", rl).Authenticate(context.Background(), tc.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnauthenticated))
		})
	}
}

func TestParseJWT_Expired(t *testing.T) {
	tok, err := SignJWT("u", "", "s", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(tok, "s")
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = BearerToken("")
	assert.False(t, ok)
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "hunter2"))
	assert.False(t, CheckPassword(h, "hunter3"))
}

func mustSign(t *testing.T, secret string) string {
	t.Helper()
	tok, err := SignJWT("user-1", "", secret, time.Hour)
	require.NoError(t, err)
	return tok
}
