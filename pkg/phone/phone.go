package phone

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizeE164 parses a phone number and returns it in E.164 form
// along with its ISO region code. defaultRegion is used when the input
// has no leading "+" (e.g. "US"). Validation is length-based
// (possible-number), not carrier-range based, so reserved test ranges
// are accepted.
func NormalizeE164(raw, defaultRegion string) (formatted, region string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("phone number is required")
	}

	num, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil {
		return "", "", fmt.Errorf("invalid phone number: %w", err)
	}

	if !phonenumbers.IsPossibleNumber(num) {
		return "", "", fmt.Errorf("invalid phone number")
	}

	region = phonenumbers.GetRegionCodeForCountryCode(int(num.GetCountryCode()))
	return phonenumbers.Format(num, phonenumbers.E164), region, nil
}

// IsE164 reports whether raw is already in canonical E.164 form.
func IsE164(raw string) bool {
	if !strings.HasPrefix(raw, "+") {
		return false
	}
	num, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(num) && phonenumbers.Format(num, phonenumbers.E164) == raw
}
