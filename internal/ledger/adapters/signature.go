package adapters

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"chatgem/internal/ledger/ports"
)

const signaturePrefix = "sha256="

// HMACVerifier checks hex-encoded HMAC-SHA256 webhook signatures. An
// optional "sha256=" prefix is accepted.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier builds a verifier. An empty secret rejects every payload.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify compares the signature in constant time.
func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	if len(v.secret) == 0 {
		return errors.New("webhook secret is not configured")
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix)
	if signature == "" {
		return errors.New("signature is missing")
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return errors.New("signature is not hex encoded")
	}
	if !hmac.Equal(got, v.mac(payload)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// Sign returns the signature Verify accepts for payload.
func (v *HMACVerifier) Sign(payload []byte) string {
	return hex.EncodeToString(v.mac(payload))
}

func (v *HMACVerifier) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write(payload)
	return h.Sum(nil)
}

// AllowAllVerifier accepts any signature. Tests only.
type AllowAllVerifier struct{}

// Verify always succeeds.
func (AllowAllVerifier) Verify([]byte, string) error { return nil }

// RejectAllVerifier refuses every signature.
type RejectAllVerifier struct{}

// Verify always fails.
func (RejectAllVerifier) Verify([]byte, string) error { return errors.New("signature rejected") }

var (
	_ ports.SignatureVerifier = (*HMACVerifier)(nil)
	_ ports.SignatureVerifier = AllowAllVerifier{}
	_ ports.SignatureVerifier = RejectAllVerifier{}
)
