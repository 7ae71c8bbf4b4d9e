package fingerprint

import "testing"

func TestClassify_FirstMatchWins(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"Required field 'parcelId' missing from record", "01256"},
		{"no configuration found for county: wakulla", "23456"},
		{"transform script failed: division by zero", "34567"},
		{"response does not conform to schema submit-v2", "34599"},
		{"AccessDenied: no such key in bucket", "45678"},
		{"connection reset by peer", "56789"},
		{"a completely unrecognized failure string", DefaultCode},
	}
	for _, c := range cases {
		if got := Classify(c.message); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.message, got, c.want)
		}
	}
}

func TestClassify_OrderGovernsPrecedence(t *testing.T) {
	// The message matches both 01256 ("required field ... missing") and
	// 01299 ("could not parse value"); the earlier rule (01256) must win.
	msg := "required field parcelId missing; could not parse value"
	if got := Classify(msg); got != "01256" {
		t.Errorf("Classify(%q) = %q, want 01256", msg, got)
	}
}
