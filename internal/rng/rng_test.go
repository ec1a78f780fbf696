package rng

import (
	"strings"
	"testing"

	"hashcash-milter/internal/hashcash"
)

func TestRandFieldUsesOnlyFirst64Chars(t *testing.T) {
	src, err := Open()
	if err != nil {
		t.Skipf("no /dev/urandom available: %v", err)
	}
	defer src.Close()

	field, err := src.RandField(256)
	if err != nil {
		t.Fatalf("RandField: %v", err)
	}
	if len(field) != 256 {
		t.Fatalf("got length %d, want 256", len(field))
	}
	for _, c := range field {
		if strings.IndexRune(hashcash.Alphabet[:64], c) < 0 {
			t.Fatalf("character %q not in the 64-character emission range", c)
		}
	}
}
