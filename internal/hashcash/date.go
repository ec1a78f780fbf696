package hashcash

import (
	"strings"
	"time"
)

// formatUnix renders a Unix timestamp as a twelve-digit YYMMDDHHMMSS string
// in UTC, matching the reference implementation's gmtime_r-based
// format_date (two-digit year, so this format itself rolls over every
// century — the double-spend window comparison in Value accounts for
// that).
func formatUnix(sec int64) string {
	t := time.Unix(sec, 0).UTC()
	year := t.Year() % 100
	return twoDigit(year) + twoDigit(int(t.Month())) + twoDigit(t.Day()) +
		twoDigit(t.Hour()) + twoDigit(t.Minute()) + twoDigit(t.Second())
}

func twoDigit(n int) string {
	if n < 0 {
		n = 0
	}
	if n > 99 {
		n %= 100
	}
	const digits = "0123456789"
	return string([]byte{digits[n/10], digits[n%10]})
}

// IsSpecial reports whether value, after trimming surrounding whitespace,
// is exactly the given special marker (case-sensitively) — used to detect
// the literal "skip" pseudo-token that opts a recipient out of minting.
func IsSpecial(value, special string) bool {
	return strings.TrimSpace(value) == special
}
