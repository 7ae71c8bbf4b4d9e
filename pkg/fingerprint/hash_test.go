package fingerprint

import "testing"

func TestHash_StableAndDeterministic(t *testing.T) {
	h1 := Hash("boom", "/input.csv", "palmbeach")
	h2 := Hash("boom", "/input.csv", "palmbeach")
	if h1 != h2 {
		t.Fatalf("hash not stable: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestHash_DiffersOnAnyComponent(t *testing.T) {
	base := Hash("boom", "/input.csv", "palmbeach")
	cases := []string{
		Hash("bang", "/input.csv", "palmbeach"),
		Hash("boom", "/other.csv", "palmbeach"),
		Hash("boom", "/input.csv", "hillsborough"),
	}
	for _, c := range cases {
		if c == base {
			t.Fatalf("expected hash to change, got same value %q", c)
		}
	}
}

func TestHash_NoWhitespaceNormalization(t *testing.T) {
	h1 := Hash("boom  ", "/input.csv", "palmbeach")
	h2 := Hash("boom", "/input.csv", "palmbeach")
	if h1 == h2 {
		t.Fatalf("expected trailing whitespace to change the hash")
	}
}
