// Package phone canonicalizes customer phone numbers so that numbers a
// human would consider identical compare equal as strings.
package phone

import "strings"

const (
	trunkPrefix = "0"
	countryCode = "234"
)

// Normalize strips all non-digit characters and reduces domestic
// (0XXXXXXXXXX) and country-coded (234XXXXXXXXXX) forms to the same
// 10-digit canonical value. It never fails: input that fits neither
// shape is returned as its bare digit sequence.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, trunkPrefix):
		return digits[1:]
	case len(digits) == 13 && strings.HasPrefix(digits, countryCode):
		return digits[3:]
	default:
		return digits
	}
}

// Matches reports whether two phone strings normalize to the same
// canonical value.
func Matches(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
