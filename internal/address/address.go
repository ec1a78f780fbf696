// Package address implements the path and mailbox parsing this filter
// needs from RFC 5321 (the MAIL FROM/RCPT TO envelope path) and RFC 2822
// (To/Cc header address lists), plus the local-case-sensitive,
// domain-case-insensitive equality rule mailbox comparisons use throughout
// the spec.
package address

import (
	"errors"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Mailbox is a parsed local@domain pair. Resource (the hashcash token
// field) is Local + "@" + Domain.
type Mailbox struct {
	Local  string
	Domain string
}

// Resource renders m the way it appears in a hashcash token's resource
// field.
func (m Mailbox) Resource() string {
	return m.Local + "@" + m.Domain
}

// Equal compares two mailboxes the way the reference implementation's
// match_address does: the local part case-sensitively, the domain
// case-insensitively.
func (m Mailbox) Equal(other Mailbox) bool {
	return m.Local == other.Local && strings.EqualFold(m.Domain, other.Domain)
}

// SplitPath parses an RFC 5321 reverse-path or forward-path: optional
// surrounding whitespace, optional angle brackets, an optional source
// route ("@a,@b:") which is accepted and discarded, and a mailbox that may
// use a bracketed domain-literal. An empty "<>" (the null reverse-path
// used on bounce messages) parses to a zero-value Mailbox with ok=false so
// callers can tell it apart from a real, empty address syntax error.
func SplitPath(path string) (mbox Mailbox, ok bool, err error) {
	s := strings.TrimSpace(path)

	angle := false
	if strings.HasPrefix(s, "<") {
		angle = true
		s = strings.TrimPrefix(s, "<")
		s = strings.TrimSuffix(strings.TrimSpace(s), ">")
	}
	s = strings.TrimSpace(s)

	if s == "" {
		if angle {
			// null reverse-path: "<>"
			return Mailbox{}, false, nil
		}
		return Mailbox{}, false, errors.New("address: empty path")
	}

	// discard a source route "@a,@b:" if present
	if strings.HasPrefix(s, "@") {
		colon := strings.IndexByte(s, ':')
		if colon < 0 {
			return Mailbox{}, false, errors.New("address: unterminated source route")
		}
		s = s[colon+1:]
	}

	mbox, err = splitMailbox(s)
	if err != nil {
		return Mailbox{}, false, err
	}
	return mbox, true, nil
}

// splitMailbox splits a bare local@domain (domain may be a bracketed
// domain-literal, which is preserved including its brackets).
func splitMailbox(s string) (Mailbox, error) {
	if strings.EqualFold(s, "postmaster") {
		return Mailbox{Local: s}, nil
	}

	idx := strings.LastIndexByte(s, '@')
	if idx < 0 {
		return Mailbox{}, errors.New("address: missing at-sign")
	}
	local := s[:idx]
	domain := s[idx+1:]
	if local == "" {
		return Mailbox{}, errors.New("address: empty local-part")
	}
	if domain == "" {
		return Mailbox{}, errors.New("address: empty domain")
	}
	return Mailbox{Local: local, Domain: domain}, nil
}

// ParseResource splits a hashcash token's resource field ("local@domain")
// into a Mailbox, using the same rules as SplitPath's bare-address case.
// Used by the verification engine to compare a token's bound resource
// against an envelope/message recipient.
func ParseResource(resource string) (Mailbox, error) {
	return splitMailbox(resource)
}

// ParseList parses an RFC 2822 address-list header value (To/Cc), via
// go-message/mail's address-list parser (which already handles
// display-names, quoted-strings, comments and "group: a, b;" syntax), then
// splits each resulting address into a Mailbox.
func ParseList(value string) ([]Mailbox, error) {
	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		return nil, err
	}

	out := make([]Mailbox, 0, len(addrs))
	for _, a := range addrs {
		mbox, err := splitMailbox(a.Address)
		if err != nil {
			return nil, err
		}
		out = append(out, mbox)
	}
	return out, nil
}
