package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Signature schemes accepted by NewAuthenticator.
const (
	SchemeStripe     = "stripe"
	SchemeHMACSHA256 = "hmac-sha256"
)

// Authenticator verifies an inbound payload and returns the parsed event.
// The payload is never parsed when verification fails.
type Authenticator interface {
	Authenticate(payload []byte, signatureHeader string) (*Event, error)
}

// NewAuthenticator builds the authenticator for a configured scheme.
func NewAuthenticator(scheme, secret string, tolerance time.Duration) (Authenticator, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeStripe:
		return NewStripeAuthenticator(secret, tolerance), nil
	case SchemeHMACSHA256:
		return NewHMACAuthenticator(secret), nil
	default:
		return nil, fmt.Errorf("unsupported webhook signature scheme: %s", scheme)
	}
}

// StripeAuthenticator verifies "t=<unix>,v1=<hex>" signature headers.
type StripeAuthenticator struct {
	secret    string
	tolerance time.Duration
}

func NewStripeAuthenticator(secret string, tolerance time.Duration) *StripeAuthenticator {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeAuthenticator{secret: strings.TrimSpace(secret), tolerance: tolerance}
}

func (a *StripeAuthenticator) Authenticate(payload []byte, signatureHeader string) (*Event, error) {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return nil, ErrSignatureMissing
	}
	if a.secret == "" {
		return nil, fmt.Errorf("%w: no webhook secret configured", ErrSignatureInvalid)
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sig, a.secret, a.tolerance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return ParseEvent(payload)
}

// HMACAuthenticator verifies a hex HMAC-SHA256 of the raw body.
type HMACAuthenticator struct {
	secret string
}

func NewHMACAuthenticator(secret string) *HMACAuthenticator {
	return &HMACAuthenticator{secret: strings.TrimSpace(secret)}
}

func (a *HMACAuthenticator) Authenticate(payload []byte, signatureHeader string) (*Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, ErrSignatureMissing
	}
	if !VerifyHMACSignature(payload, signatureHeader, a.secret) {
		return nil, ErrSignatureInvalid
	}
	return ParseEvent(payload)
}

// VerifyHMACSignature checks a hex encoded HMAC-SHA256 signature, optionally
// prefixed with "sha256=".
func VerifyHMACSignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	key := strings.TrimSpace(secret)
	if sig == "" || key == "" {
		return false
	}
	sig = strings.TrimPrefix(strings.ToLower(sig), "sha256=")

	decodedSig, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}
