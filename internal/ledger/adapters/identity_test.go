package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgem/internal/ledger/ports"
)

func TestJWTIdentityRoundTrip(t *testing.T) {
	v := NewJWTIdentityVerifier("jwt-secret", "chatgem")
	v.WithNow(func() time.Time { return testNow })

	token, err := v.Issue(ports.Identity{UserID: "u1", Email: "U1@Example.com", Admin: true}, time.Hour)
	require.NoError(t, err)

	identity, err := v.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, ports.Identity{UserID: "u1", Email: "u1@example.com", Admin: true}, identity)
}

func TestJWTIdentityRejectsExpired(t *testing.T) {
	v := NewJWTIdentityVerifier("jwt-secret", "")
	v.WithNow(func() time.Time { return testNow })
	token, err := v.Issue(ports.Identity{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	v.WithNow(func() time.Time { return testNow.Add(2 * time.Minute) })
	_, err = v.Authenticate(context.Background(), token)
	require.Error(t, err)
}

func TestJWTIdentityRejectsWrongSecretAndIssuer(t *testing.T) {
	issuer := NewJWTIdentityVerifier("other-secret", "chatgem")
	issuer.WithNow(func() time.Time { return testNow })
	token, err := issuer.Issue(ports.Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	v := NewJWTIdentityVerifier("jwt-secret", "chatgem")
	v.WithNow(func() time.Time { return testNow })
	_, err = v.Authenticate(context.Background(), token)
	require.Error(t, err)

	wrongIssuer := NewJWTIdentityVerifier("jwt-secret", "someone-else")
	wrongIssuer.WithNow(func() time.Time { return testNow })
	token, err = wrongIssuer.Issue(ports.Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Authenticate(context.Background(), token)
	require.Error(t, err)
}

func TestJWTIdentityRejectsMissingSubject(t *testing.T) {
	v := NewJWTIdentityVerifier("jwt-secret", "")
	v.WithNow(func() time.Time { return testNow })
	claims := IdentityClaims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour))}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	_, err = v.Authenticate(context.Background(), token)
	require.Error(t, err)
}
