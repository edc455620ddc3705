package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
)

// IdentityClaims are the claims read from access tokens.
type IdentityClaims struct {
	Email string `json:"email,omitempty"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTIdentityVerifier validates HMAC-signed access tokens and reads the user
// id from the sub claim.
type JWTIdentityVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTIdentityVerifier creates a verifier. When issuer is non-empty the
// iss claim must match it.
func NewJWTIdentityVerifier(secret, issuer string) *JWTIdentityVerifier {
	return &JWTIdentityVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// WithNow injects a deterministic clock for tests.
func (v *JWTIdentityVerifier) WithNow(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Authenticate implements ports.IdentityVerifier.
func (v *JWTIdentityVerifier) Authenticate(_ context.Context, token string) (ports.Identity, error) {
	if len(v.secret) == 0 {
		return ports.Identity{}, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &IdentityClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return ports.Identity{}, err
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return ports.Identity{}, errors.New("invalid token claims")
	}
	return ports.Identity{
		UserID: claims.Subject,
		Email:  domain.NormalizeEmail(claims.Email),
		Admin:  claims.Admin,
	}, nil
}

// Issue signs an access token for identity. Used by the dev CLI and tests.
func (v *JWTIdentityVerifier) Issue(identity ports.Identity, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := v.now()
	claims := IdentityClaims{
		Email: identity.Email,
		Admin: identity.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

var _ ports.IdentityVerifier = (*JWTIdentityVerifier)(nil)
