package sha1core

import "testing"

func TestSelfTest(t *testing.T) {
	if err := SelfTest(); err != nil {
		t.Fatalf("SelfTest: %v", err)
	}
}

func TestCloneExtendsIndependently(t *testing.T) {
	base := Begin()
	base.FeedBytes([]byte("shared prefix"))

	a := base.Clone()
	b := base.Clone()

	a.FeedBytes([]byte("-suffix-a"))
	b.FeedBytes([]byte("-suffix-b"))

	gotA := a.Finalize()
	gotB := b.Finalize()
	if gotA == gotB {
		t.Fatalf("clones with different suffixes produced the same digest")
	}

	wantA := Sum([]byte("shared prefix-suffix-a"))
	wantB := Sum([]byte("shared prefix-suffix-b"))
	if gotA != wantA {
		t.Errorf("clone a digest = %x, want %x", gotA, wantA)
	}
	if gotB != wantB {
		t.Errorf("clone b digest = %x, want %x", gotB, wantB)
	}
}

func TestFinalizeDoesNotMutate(t *testing.T) {
	s := Begin()
	s.FeedBytes([]byte("abc"))
	first := s.Finalize()
	s.FeedBytes([]byte("def"))
	second := s.Finalize()
	if first == second {
		t.Fatalf("Finalize did not reflect bytes fed after the first call")
	}

	want := Sum([]byte("abcdef"))
	if second != want {
		t.Errorf("got %x, want %x", second, want)
	}
}

func TestLeadingZeroBits(t *testing.T) {
	cases := []struct {
		digest [Size]byte
		cap    int
		want   int
	}{
		{[Size]byte{0x00, 0x00, 0xFF}, 32, 16},
		{[Size]byte{0x0F}, 32, 4},
		{[Size]byte{0x80}, 32, 0},
		{[Size]byte{0x00, 0x00, 0x00, 0x00, 0x00}, 20, 20},
		{[Size]byte{0x00, 0x01}, 12, 12},
	}
	for _, c := range cases {
		if got := LeadingZeroBits(c.digest, c.cap); got != c.want {
			t.Errorf("LeadingZeroBits(%x, %d) = %d, want %d", c.digest, c.cap, got, c.want)
		}
	}
}
