// Package policy resolves and validates the process-wide, immutable
// configuration this filter runs under, built once at startup from CLI
// flags (see internal/cli) and never mutated afterward.
package policy

import (
	"fmt"

	"hashcash-milter/internal/netlist"
)

// Policy is the resolved, immutable configuration for this process.
type Policy struct {
	CoverAuth    bool
	CoverIPAddrs netlist.CIDRList
	CoverDomains netlist.DomainList

	MintBits   int // 0 disables minting
	ReduceBits int // 0 means "no reduction configured"
	CheckBits  int // 0 disables verification

	TimeoutSeconds int

	DataFile string // ledger path; required when CheckBits > 0
}

// Validate enforces every startup constraint from spec.md §4.3. A
// validation failure is startup-fatal; it is never recoverable at
// runtime.
func (p *Policy) Validate() error {
	if p.ReduceBits > p.MintBits {
		return fmt.Errorf("policy: reduce bits (%d) must not exceed mint bits (%d)", p.ReduceBits, p.MintBits)
	}

	if p.MintBits > 0 {
		if !p.CoverAuth && len(p.CoverIPAddrs) == 0 {
			return fmt.Errorf("policy: mint bits > 0 requires at least one of auth-cover or ip-cover")
		}
	} else {
		if p.ReduceBits > 0 {
			return fmt.Errorf("policy: reduce bits requires mint bits > 0")
		}
		if len(p.CoverDomains) > 0 {
			return fmt.Errorf("policy: sender-domain cover requires mint bits > 0")
		}
		if p.TimeoutSeconds > 0 {
			return fmt.Errorf("policy: mint timeout requires mint bits > 0")
		}
	}

	if p.DataFile != "" && p.CheckBits == 0 {
		return fmt.Errorf("policy: a data file was given but check bits is 0")
	}
	if p.CheckBits > 0 && p.DataFile == "" {
		return fmt.Errorf("policy: check bits > 0 requires a data file")
	}

	if p.MintBits == 0 && p.CheckBits == 0 {
		return fmt.Errorf("policy: at least one of minting or checking must be enabled")
	}

	if p.MintBits < 0 || p.MintBits > 160 {
		return fmt.Errorf("policy: mint bits %d out of range 0..=160", p.MintBits)
	}
	if p.ReduceBits < 0 || p.ReduceBits > 160 {
		return fmt.Errorf("policy: reduce bits %d out of range 0..=160", p.ReduceBits)
	}
	if p.CheckBits < 0 || p.CheckBits > 160 {
		return fmt.Errorf("policy: check bits %d out of range 0..=160", p.CheckBits)
	}
	if p.TimeoutSeconds < 0 {
		return fmt.Errorf("policy: timeout seconds must not be negative")
	}

	return nil
}

// EffectiveBits computes the per-token difficulty for a message addressed
// to recipientCount unique recipients, per spec.md §4.5: halve the
// recipient count while decrementing bits by one, until either ReduceBits
// is reached or only one recipient remains.
func (p *Policy) EffectiveBits(recipientCount int) int {
	bits := p.MintBits
	if p.ReduceBits <= 0 || p.ReduceBits >= bits {
		return bits
	}

	n := recipientCount
	for n > 1 && bits > p.ReduceBits {
		n /= 2
		bits--
	}
	return bits
}
