package cli

import "testing"

func TestSplitFlagArg(t *testing.T) {
	cases := []struct {
		arg       string
		wantName  string
		wantValue bool
	}{
		{"-p", "p", false},
		{"-p=inet:8025", "p", true},
		{"--debug", "debug", false},
		{"plain-arg", "", false},
		{"-", "", false},
	}
	for _, c := range cases {
		name, hasValue := splitFlagArg(c.arg)
		if name != c.wantName || hasValue != c.wantValue {
			t.Errorf("splitFlagArg(%q) = (%q, %v), want (%q, %v)", c.arg, name, hasValue, c.wantName, c.wantValue)
		}
	}
}

func TestCheckDuplicateFlagsRejectsRepeatedSingleValuedFlag(t *testing.T) {
	err := CheckDuplicateFlags([]string{"-p", "inet:8025", "-m", "20", "-p", "inet:8026"})
	if err == nil {
		t.Fatal("expected an error for a repeated -p")
	}
}

func TestCheckDuplicateFlagsAllowsDistinctFlags(t *testing.T) {
	err := CheckDuplicateFlags([]string{"-p", "inet:8025", "-m", "20", "-f"})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCheckDuplicateFlagsIgnoresNonFlagArgs(t *testing.T) {
	err := CheckDuplicateFlags([]string{"-p", "inet:8025", "positional"})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCheckDuplicateFlagsHandlesEqualsForm(t *testing.T) {
	err := CheckDuplicateFlags([]string{"-p=inet:8025", "-p=inet:8026"})
	if err == nil {
		t.Fatal("expected an error for a repeated -p in -p=value form")
	}
}
