package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "You can reach me at dana@example.com or +1 (555) 123-9876, my card is 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIILeavesCleanTextAlone(t *testing.T) {
	input := "I have five years of experience with distributed systems."
	out, changed := RedactPII(input)
	if changed {
		t.Fatalf("changed = true for clean text")
	}
	if out != input {
		t.Fatalf("output = %q, want unchanged input", out)
	}
}
