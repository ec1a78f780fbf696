// Package rng reads random bytes from /dev/urandom for the rand field of
// minted tokens, via a single long-lived file descriptor rather than
// reopening the device on every token (spec.md §5, §6).
package rng

import (
	"errors"
	"os"
	"syscall"

	"hashcash-milter/internal/hashcash"
)

// Source reads random bytes from /dev/urandom.
type Source struct {
	f *os.File
}

// Open opens /dev/urandom once; the returned Source must be closed with
// Close when the process exits.
func Open() (*Source, error) {
	f, err := os.Open("/dev/urandom")
	if err != nil {
		return nil, err
	}
	return &Source{f: f}, nil
}

// Close releases the underlying file descriptor.
func (s *Source) Close() error {
	return s.f.Close()
}

// Read fills p entirely, retrying on EINTR, matching the reference
// implementation's read loop around /dev/urandom.
func (s *Source) Read(p []byte) error {
	for len(p) > 0 {
		n, err := s.f.Read(p)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}
		p = p[n:]
	}
	return nil
}

// RandField returns a field of n characters drawn uniformly from
// hashcash.Alphabet (64 code characters plus the padding character '='
// excluded from uniform sampling — see below), for the rand field of a
// token being minted.
//
// hashcash.Alphabet has 65 characters, but the reference implementation's
// rejection sampling only ever produces one of its first 64 (it treats
// '=' as valid syntax on input but never emits it): 256 is an exact
// multiple of 64, so every byte value maps onto the 64-character range
// with no rejection needed and no bias, unlike the reference
// implementation's narrower 194/195-byte acceptance window (a needless
// leftover from when the alphabet was smaller) — see DESIGN.md for this
// documented, deliberate deviation.
func (s *Source) RandField(n int) (string, error) {
	const base = 64
	raw := make([]byte, n)
	if err := s.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = hashcash.Alphabet[int(b)%base]
	}
	return string(out), nil
}
