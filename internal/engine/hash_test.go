package engine

import (
	"regexp"
	"testing"
)

func TestHash_Deterministic(t *testing.T) {
	a := Hash("You are a support agent.")
	b := Hash("You are a support agent.")
	if a != b {
		t.Errorf("same input hashed differently: %q vs %q", a, b)
	}
}

func TestHash_LengthAndAlphabet(t *testing.T) {
	h := Hash("anything")
	if len(h) != hashLen {
		t.Fatalf("len = %d, want %d", len(h), hashLen)
	}
	if !regexp.MustCompile(`^[0-9a-f]+$`).MatchString(h) {
		t.Errorf("hash %q is not lowercase hex", h)
	}
}

func TestHash_DistinctInputs(t *testing.T) {
	if Hash("prompt one") == Hash("prompt two") {
		t.Error("different inputs produced the same digest")
	}
	// Whitespace matters to the hasher; trimming is the caller's job.
	if Hash("x") == Hash("x ") {
		t.Error("trailing whitespace should change the digest")
	}
}

func TestShortHash(t *testing.T) {
	h := Hash("content")
	s := ShortHash("content")
	if len(s) != shortHashLen {
		t.Fatalf("len = %d, want %d", len(s), shortHashLen)
	}
	if h[:shortHashLen] != s {
		t.Errorf("ShortHash %q is not a prefix of Hash %q", s, h)
	}
}

func TestHashFields_Framing(t *testing.T) {
	if HashFields("ab", "c") == HashFields("a", "bc") {
		t.Error("field boundaries must affect the digest")
	}
	if HashFields("a", "b") != HashFields("a", "b") {
		t.Error("same fields hashed differently")
	}
	if HashFields("a", "b") == HashFields("b", "a") {
		t.Error("field order must affect the digest")
	}
}
