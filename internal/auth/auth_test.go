package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, key string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestVerify_RejectsMissingOrMalformedHeader(t *testing.T) {
	v := NewValidator("secret")

	_, err := v.Verify("")
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = v.Verify("Bearer ")
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = v.Verify("Basic abc123")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestVerify_RejectsWrongSigningKey(t *testing.T) {
	signed := signToken(t, "secret", &Claims{Subject: "user-1", Workspaces: []string{"ws-1"}})
	v := NewValidator("a-different-secret")

	_, err := v.Verify("Bearer " + signed)
	require.Error(t, err)
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
		Subject:          "user-1",
	}
	signed := signToken(t, "secret", claims)
	v := NewValidator("secret")

	_, err := v.Verify("Bearer " + signed)
	require.Error(t, err)
}

func TestVerify_AcceptsValidToken(t *testing.T) {
	signed := signToken(t, "secret", &Claims{Subject: "user-1", Workspaces: []string{"ws-1", "ws-2"}})
	v := NewValidator("secret")

	claims, err := v.Verify("Bearer " + signed)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.ElementsMatch(t, []string{"ws-1", "ws-2"}, claims.Workspaces)
}

func TestClaims_IsMember(t *testing.T) {
	member := &Claims{Workspaces: []string{"ws-1", "ws-2"}}
	require.True(t, member.IsMember("ws-1"))
	require.False(t, member.IsMember("ws-3"))

	admin := &Claims{Admin: true}
	require.True(t, admin.IsMember("any-workspace"))
}
