package billing

import "errors"

var (
	// ErrSignatureMissing is returned when the request carries no signature header.
	ErrSignatureMissing = errors.New("webhook signature header missing")
	// ErrSignatureInvalid is returned when the computed signature does not match.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrMalformedPayload is returned for verified payloads that cannot be
	// parsed or lack required fields.
	ErrMalformedPayload = errors.New("webhook payload malformed")
	// ErrAccountNotFound is returned by the resolver when no account can be
	// safely selected.
	ErrAccountNotFound = errors.New("no matching account")
	// ErrStaleWrite is returned by conditional updates when the row version
	// changed since it was read.
	ErrStaleWrite = errors.New("account changed concurrently")
	// ErrWriteConflict is returned when conditional updates kept losing races.
	ErrWriteConflict = errors.New("account write conflict")
)

// IsAuthError reports whether err is a signature verification failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrSignatureMissing) || errors.Is(err, ErrSignatureInvalid)
}
