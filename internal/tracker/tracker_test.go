package tracker

import (
	"errors"
	"testing"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		input     string
		wantVerb  string
		wantValue string
		wantErr   bool
	}{
		{"status RESOLVED", "status", "RESOLVED", false},
		{"Status RESOLVED", "status", "RESOLVED", false},
		{"status/resolution RESOLVED/FIXED", "status/resolution", "RESOLVED/FIXED", false},
		{"add-project bar", "add-project", "bar", false},
		{"add-project  My Project ", "add-project", "My Project", false},
		{"add-project\tbar", "add-project", "bar", false},
		{"status", "", "", true},
		{"status   ", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAction(tt.input)
			if tt.wantErr {
				var ae *InvalidActionError
				if !errors.As(err, &ae) {
					t.Fatalf("ParseAction(%q) error = %v, want InvalidActionError", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAction(%q) unexpected error: %v", tt.input, err)
			}
			if got.Verb != tt.wantVerb || got.Value != tt.wantValue {
				t.Errorf("ParseAction(%q) = %+v, want {%s %s}", tt.input, got, tt.wantVerb, tt.wantValue)
			}
		})
	}
}

func TestParseIssueID(t *testing.T) {
	id, err := ParseIssueID("4711")
	if err != nil || id != 4711 {
		t.Fatalf("ParseIssueID(4711) = %d, %v", id, err)
	}

	for _, in := range []string{"", "abc", "T42", "12.5"} {
		_, err := ParseIssueID(in)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("ParseIssueID(%q) error = %v, want ParseError", in, err)
		}
	}
}

func TestParseCheck(t *testing.T) {
	tests := []struct {
		input string
		want  Check
	}{
		{"ACCESS", CheckAccess},
		{"access", CheckAccess},
		{" sysinfo ", CheckSysinfo},
	}
	for _, tt := range tests {
		got, err := ParseCheck(tt.input)
		if err != nil || got != tt.want {
			t.Errorf("ParseCheck(%q) = %v, %v, want %v", tt.input, got, err, tt.want)
		}
	}
	if _, err := ParseCheck("ping"); err == nil {
		t.Error("ParseCheck(ping) should fail")
	}
}

func TestAsTransportError(t *testing.T) {
	if AsTransportError("t", "op", nil) != nil {
		t.Error("nil error should stay nil")
	}
	cause := errors.New("refused")
	err := AsTransportError("bugzilla", "exists", cause)
	if err.Error() != "bugzilla exists failed: refused" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
}

func TestErrNotInitialized(t *testing.T) {
	err := &ErrNotInitialized{Tracker: "test"}
	expected := "test tracker not initialized; call Init() first"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}
