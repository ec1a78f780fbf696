package authresult

import (
	"strings"
	"testing"

	"github.com/emersion/go-msgauth/authres"
)

func TestFormatIncludesVerdict(t *testing.T) {
	out := Format("forest.example", nil, Verdict{Word: "pass", Detail: "27 bits"})
	if !strings.Contains(out, "forest.example") {
		t.Errorf("missing identifier: %q", out)
	}
	if !strings.Contains(out, "x-hashcash=pass") {
		t.Errorf("missing verdict: %q", out)
	}
	if !strings.Contains(out, "27 bits") {
		t.Errorf("missing bits reason: %q", out)
	}
}

func TestFormatNeutralHasNoParenthetical(t *testing.T) {
	out := Format("forest.example", nil, Verdict{Word: "neutral"})
	if !strings.Contains(out, "x-hashcash=neutral") {
		t.Errorf("missing verdict: %q", out)
	}
}

func TestIsOwnVerdict(t *testing.T) {
	own := &authres.GenericResult{Value: authres.ResultPass, Method: MethodHashcash}
	other := &authres.GenericResult{Value: authres.ResultPass, Method: "dkim"}

	if !IsOwnVerdict(own) {
		t.Error("expected x-hashcash result to be recognized as own verdict")
	}
	if IsOwnVerdict(other) {
		t.Error("did not expect dkim result to be recognized as own verdict")
	}
}

func TestParseRoundTrip(t *testing.T) {
	header := Format("forest.example", nil, Verdict{Word: "fail", Detail: "already spent"})
	id, results, err := Parse(header)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id != "forest.example" {
		t.Errorf("identifier = %q", id)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !IsOwnVerdict(results[0]) {
		t.Error("expected parsed result to round-trip as own verdict")
	}
}
