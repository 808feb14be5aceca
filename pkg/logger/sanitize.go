package logger

import (
	"log/slog"
	"strings"
)

// SanitizedPhone masks a phone number for logging, keeping the country
// code prefix and last two digits (e.g. "+1•••••••00").
func SanitizedPhone(phone string) string {
	if phone == "" {
		return ""
	}
	if len(phone) < 6 || !strings.HasPrefix(phone, "+") {
		return "[invalid-phone]"
	}

	prefix := phone[:2]
	suffix := phone[len(phone)-2:]
	return prefix + strings.Repeat("*", len(phone)-4) + suffix
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := map[string]bool{
		"password": true,
		"token":    true,
		"code":     true,
		"otp":      true,
		"secret":   true,
	}

	lowered := strings.ToLower(rawQuery)
	for param := range sensitiveParams {
		if strings.Contains(lowered, param+"=") {
			return true
		}
	}
	return false
}
