package msgstate

import (
	"testing"

	"hashcash-milter/internal/address"
)

func mbox(local, domain string) address.Mailbox {
	return address.Mailbox{Local: local, Domain: domain}
}

func TestAddEnvRcptDedupsCaseInsensitiveDomain(t *testing.T) {
	s := New()
	s.AddEnvRcpt(mbox("fox", "Forest.example"))
	s.AddEnvRcpt(mbox("fox", "forest.EXAMPLE"))
	s.AddEnvRcpt(mbox("Fox", "forest.example"))

	if len(s.EnvRcpts) != 2 {
		t.Fatalf("EnvRcpts = %d entries, want 2 (local-part is case-sensitive): %+v", len(s.EnvRcpts), s.EnvRcpts)
	}
}

func TestAddMsgRcptPreservesAppearanceOrder(t *testing.T) {
	s := New()
	s.AddMsgRcpt(mbox("b", "example.com"))
	s.AddMsgRcpt(mbox("a", "example.com"))
	s.AddMsgRcpt(mbox("b", "example.com"))

	if len(s.MsgRcpts) != 2 {
		t.Fatalf("MsgRcpts = %d entries, want 2", len(s.MsgRcpts))
	}
	if s.MsgRcpts[0].Local != "b" || s.MsgRcpts[1].Local != "a" {
		t.Errorf("MsgRcpts order changed: %+v", s.MsgRcpts)
	}
}

func TestResetKeepsDirectionDropsEverythingElse(t *testing.T) {
	s := New()
	s.Direction = DirectionOutgoing
	s.AddEnvRcpt(mbox("fox", "forest.example"))
	s.AddToken("1:20:100228:fox@forest.example::a:b", 3)
	s.Ignore = true
	s.HeaderCount = 5

	next := s.Reset()

	if next.Direction != DirectionOutgoing {
		t.Errorf("Reset dropped Direction: got %v", next.Direction)
	}
	if len(next.EnvRcpts) != 0 || len(next.Tokens) != 0 || next.Ignore || next.HeaderCount != 0 {
		t.Errorf("Reset did not clear per-message fields: %+v", next)
	}
}

func TestResetOnNilState(t *testing.T) {
	var s *State
	next := s.Reset()
	if next == nil || next.Direction != DirectionUnknown {
		t.Errorf("Reset on nil *State should yield a fresh unknown-direction state, got %+v", next)
	}
}

func TestDeferRemoveHashcashOnlyHonorsFirst(t *testing.T) {
	s := New()
	s.DeferRemoveHashcash(RemoveHashcashXPrefixed, 1)
	s.DeferRemoveHashcash(RemoveHashcashUnprefixed, 2)

	if s.RemoveHashcash != RemoveHashcashXPrefixed || s.RemoveHashcashInstance != 1 {
		t.Errorf("second DeferRemoveHashcash call overrode the first: kind=%v instance=%d", s.RemoveHashcash, s.RemoveHashcashInstance)
	}
}

func TestDeferRemoveAuthResultsAccumulates(t *testing.T) {
	s := New()
	s.DeferRemoveAuthResults(1)
	s.DeferRemoveAuthResults(4)

	if len(s.RemoveAuthResults) != 2 || s.RemoveAuthResults[0] != 1 || s.RemoveAuthResults[1] != 4 {
		t.Errorf("RemoveAuthResults = %v, want [1 4]", s.RemoveAuthResults)
	}
}
