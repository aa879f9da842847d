package billing

import (
	"strings"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case "day", "week", "month", "year":
		return i
	default:
		return "unknown"
	}
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ParseStatusPolicy reads the configured fallback for unrecognised processor
// statuses. Anything other than "active" fails closed.
func ParseStatusPolicy(s string) Status {
	if strings.EqualFold(strings.TrimSpace(s), string(StatusActive)) {
		return StatusActive
	}
	return StatusExpired
}

// MapStatus translates a processor subscription status into a local status.
// Statuses not listed map to unknown.
func MapStatus(status string, unknown Status) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "canceled", "cancelled":
		return StatusCancelled
	case "unpaid", "past_due":
		return StatusExpired
	case "active", "trialing":
		return StatusActive
	default:
		return unknown
	}
}
