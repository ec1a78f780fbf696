// Package authresult formats and parses the Authentication-Results header
// (RFC 8601) this filter reads (to drop prior stamps from the same
// authserv-id before re-verifying) and writes (to report its own
// x-hashcash verdict), on top of github.com/emersion/go-msgauth/authres.
package authresult

import (
	"fmt"
	"strings"

	"github.com/emersion/go-msgauth/authres"
)

// MethodHashcash is the unregistered resinfo method name this filter
// reports its verdict under.
const MethodHashcash = "x-hashcash"

// Verdict is the verification engine's classification for one message
// (spec.md §4.6), rendered as "x-hashcash=<Word> (<Detail>)" — Detail is
// omitted (no parenthetical) when empty, which is the case for the
// "neutral" word.
type Verdict struct {
	Word   string // "pass", "partial", "policy", "fail", or "neutral"
	Detail string // e.g. "24 bits", "highest 30 bits", "already spent"; empty for neutral
}

// Format renders identifier's Authentication-Results header value with a
// single x-hashcash resinfo appended after results (which, if any, are
// rendered with authres.Format). x-hashcash is not a registered method, so
// its result value is this filter's own vocabulary (pass/partial/policy/
// fail/neutral), not one of RFC 8601 §2.7.1's fixed result values, and the
// verdict is written by hand as "x-hashcash=<Word> (<Detail>)" with the
// Detail as a parenthesized comment.
func Format(identifier string, results []authres.Result, v Verdict) string {
	verdict := MethodHashcash + "=" + v.Word
	if v.Detail != "" {
		verdict += " (" + v.Detail + ")"
	}

	if len(results) == 0 {
		return identifier + "; " + verdict
	}
	return authres.Format(identifier, results) + "; " + verdict
}

// Parse parses an existing Authentication-Results header value, returning
// the authserv-id and the list of results as-is. Results reported by an
// unregistered method such as x-hashcash round-trip as
// *authres.GenericResult.
func Parse(value string) (identifier string, results []authres.Result, err error) {
	identifier, results, err = authres.Parse(value)
	if err != nil {
		return "", nil, fmt.Errorf("authresult: %w", err)
	}
	return identifier, results, nil
}

// ParseIdentifierVersion extracts the authserv-id and its normalized
// version (leading zeroes stripped; absent → "1") from the start of an
// Authentication-Results value, without requiring the rest of the header
// to parse as valid resinfo — spec.md §4.2 requires that "a partial parse
// still returns authserv-id and version so that the caller can compare
// against the local hostname" even when the resinfo list that follows is
// malformed. The authres package's Parse fails the whole header on a
// malformed resinfo, so this is a small bespoke scan of just the leading
// "authserv-id [CFWS authres-version]" production (RFC 8601 §2.2).
func ParseIdentifierVersion(value string) (id string, version string) {
	s := strings.TrimSpace(value)

	i := 0
	for i < len(s) && s[i] != ';' && s[i] != ' ' && s[i] != '\t' {
		i++
	}
	id = s[:i]

	rest := strings.TrimSpace(s[i:])
	version = "1"
	if rest == "" || rest[0] == ';' {
		return id, version
	}

	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	if j == 0 {
		return id, version
	}

	version = strings.TrimLeft(rest[:j], "0")
	if version == "" {
		version = "0"
	}
	return id, version
}

// IsOwnVerdict reports whether r is an x-hashcash resinfo, meaning it was
// produced by a prior pass of this same filter (possibly at a different
// authserv-id, which the caller compares separately) and so is a
// candidate for removal before re-verification.
func IsOwnVerdict(r authres.Result) bool {
	method, _ := r.Method()
	return method == MethodHashcash
}
