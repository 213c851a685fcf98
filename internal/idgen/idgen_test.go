package idgen

import (
	"strings"
	"testing"
)

func TestNew_Format(t *testing.T) {
	id := New()
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("expected 5 dash-separated groups, got %d (%q)", len(parts), id)
	}
	if len(id) != 36 {
		t.Errorf("expected 36 chars, got %d", len(id))
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("rcv_")
	if !strings.HasPrefix(id, "rcv_") {
		t.Errorf("expected rcv_ prefix, got %q", id)
	}
	if len(id) != len("rcv_")+24 {
		t.Errorf("expected prefix + 24 hex chars, got %d chars", len(id))
	}
}

func TestHex(t *testing.T) {
	h := Hex(8)
	if len(h) != 16 {
		t.Errorf("expected 16 hex chars for 8 bytes, got %d", len(h))
	}
}
