// Package signature authenticates inbound webhooks by an HMAC over the raw body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// HeaderCryptoPay carries the Crypto Pay webhook signature.
	HeaderCryptoPay = "crypto-pay-api-signature"
	// HeaderWebhook carries the signature of the bank transfer feed.
	HeaderWebhook = "X-Webhook-Signature"

	prefix = "sha256="
)

// Verify reports whether provided is the hex HMAC-SHA256 of rawBody keyed by
// SHA-256(secret). rawBody must be the bytes received on the wire. An empty
// secret or signature never verifies.
func Verify(secret string, rawBody []byte, provided string) bool {
	if secret == "" {
		return false
	}
	provided = strings.TrimPrefix(strings.TrimSpace(provided), prefix)
	if provided == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return false
	}
	return hmac.Equal(got, mac(secret, rawBody))
}

// Sign returns the hex signature Verify accepts for rawBody.
func Sign(secret string, rawBody []byte) string {
	return hex.EncodeToString(mac(secret, rawBody))
}

func mac(secret string, rawBody []byte) []byte {
	key := sha256.Sum256([]byte(secret))
	h := hmac.New(sha256.New, key[:])
	h.Write(rawBody)
	return h.Sum(nil)
}

// Verifier binds a provider secret. A Verifier built with skip accepts any
// signature and is only meant for local development.
type Verifier struct {
	secret string
	skip   bool
}

func NewVerifier(secret string, skip bool) *Verifier {
	return &Verifier{secret: secret, skip: skip}
}

func (v *Verifier) Verify(rawBody []byte, provided string) bool {
	if v.skip {
		return true
	}
	return Verify(v.secret, rawBody, provided)
}

// Enabled reports whether the verifier can accept anything at all.
func (v *Verifier) Enabled() bool {
	return v.skip || v.secret != ""
}
