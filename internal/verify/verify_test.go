package verify

import (
	"path/filepath"
	"testing"
	"time"

	"hashcash-milter/internal/address"
	"hashcash-milter/internal/hashcash"
	"hashcash-milter/internal/ledger"
	"hashcash-milter/internal/log"
	"hashcash-milter/internal/policy"
)

func mbox(local, domain string) address.Mailbox {
	return address.Mailbox{Local: local, Domain: domain}
}

func fixedNow(t *testing.T) func() time.Time {
	t.Helper()
	// 2010-03-01T00:00:00Z, matching the scenarios' YYMMDD literals.
	return func() time.Time { return time.Date(2010, 3, 1, 0, 0, 0, 0, time.UTC) }
}

func mintValid(t *testing.T, bits int, resource, date string) string {
	t.Helper()
	for counter := 0; counter < 1_000_000; counter++ {
		tok := hashcash.Token{
			Bits: bits, Date: date, Resource: resource, Ext: "",
			Rand: "AAAAAAAAAAAAAAAA", Counter: itoaAlphabet(counter),
		}
		raw := tok.String()
		if hashcash.Value(raw, tok, date, date) == hashcash.OutcomeValid {
			return raw
		}
	}
	t.Fatalf("could not find a valid token at %d bits within the search bound", bits)
	return ""
}

func itoaAlphabet(n int) string {
	if n == 0 {
		return string(hashcash.Alphabet[0])
	}
	var out []byte
	base := len(hashcash.Alphabet)
	for n > 0 {
		out = append([]byte{hashcash.Alphabet[n%base]}, out...)
		n /= base
	}
	return string(out)
}

func newTestEngine(t *testing.T, checkBits int) *Engine {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "spent.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &Engine{
		Policy: &policy.Policy{CheckBits: checkBits},
		Ledger: store,
		Log:    log.Logger{},
		Now:    fixedNow(t),
	}
}

func TestScoreNeutralWhenNoStampsSeen(t *testing.T) {
	e := newTestEngine(t, 20)
	env := []address.Mailbox{mbox("fox", "forest.example")}
	msg := []address.Mailbox{mbox("fox", "forest.example")}

	v := e.Score(env, msg, nil)
	if v.Word != "neutral" {
		t.Errorf("Verdict = %+v, want neutral", v)
	}
}

func TestScorePassWithZeroBitDeclaredTokens(t *testing.T) {
	// bits=0 is trivially satisfied by any preimage, so this exercises
	// the full pipeline (date window, aggregation, classification)
	// without a real proof-of-work search.
	e := newTestEngine(t, 0)
	env := []address.Mailbox{mbox("fox", "forest.example")}
	msg := []address.Mailbox{mbox("fox", "forest.example")}

	raw := mintValid(t, 0, "fox@forest.example", "100228000000")
	tok, err := hashcash.ParseToken(raw)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}

	v := e.Score(env, msg, []ScoredToken{{Raw: raw, Token: tok}})
	if v.Word != "pass" {
		t.Errorf("Verdict = %+v, want pass", v)
	}
}

func TestScoreDoubleSpendFailsSecondMessage(t *testing.T) {
	e := newTestEngine(t, 0)
	env := []address.Mailbox{mbox("fox", "forest.example")}
	msg := []address.Mailbox{mbox("fox", "forest.example")}

	raw := mintValid(t, 0, "fox@forest.example", "100228000000")
	tok, _ := hashcash.ParseToken(raw)
	tokens := []ScoredToken{{Raw: raw, Token: tok}}

	first := e.Score(env, msg, tokens)
	if first.Word != "pass" {
		t.Fatalf("first message verdict = %+v, want pass", first)
	}

	second := e.Score(env, msg, tokens)
	if second.Word != "fail" || second.Detail != "already spent" {
		t.Errorf("second message verdict = %+v, want fail(already spent)", second)
	}
}

func TestScorePartialWhenOnlyOneOfTwoRecipientsIsStamped(t *testing.T) {
	// Both fox and hare are in the envelope ∩ message set, but only fox
	// has a token meeting check_bits, so the aggregate is "partial".
	e := newTestEngine(t, 1)
	env := []address.Mailbox{mbox("fox", "forest.example"), mbox("hare", "forest.example")}
	msg := []address.Mailbox{mbox("fox", "forest.example"), mbox("hare", "forest.example")}

	raw := mintValid(t, 1, "fox@forest.example", "100228000000")
	tok, _ := hashcash.ParseToken(raw)

	v := e.Score(env, msg, []ScoredToken{{Raw: raw, Token: tok}})
	if v.Word != "partial" {
		t.Errorf("Verdict = %+v, want partial (hare has no stamp at all)", v)
	}
}

func TestScoreFailInvalidPreimage(t *testing.T) {
	e := newTestEngine(t, 1)
	env := []address.Mailbox{mbox("fox", "forest.example")}
	msg := []address.Mailbox{mbox("fox", "forest.example")}

	tok := hashcash.Token{Bits: 40, Date: "100228000000", Resource: "fox@forest.example", Rand: "a", Counter: "b"}
	raw := tok.String()

	v := e.Score(env, msg, []ScoredToken{{Raw: raw, Token: tok}})
	if v.Word != "fail" || v.Detail != "invalid" {
		t.Errorf("Verdict = %+v, want fail(invalid)", v)
	}
}
