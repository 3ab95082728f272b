package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Unique(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool)
	for range 100 {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	// UUIDv7 embeds a millisecond timestamp: IDs generated in sequence
	// must never sort backwards.
	gen := UUIDv7()
	prev := gen()
	for range 50 {
		id := gen()
		if id < prev {
			t.Fatalf("IDs not time-sortable: %s < %s", id, prev)
		}
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("sig_", Default)
	id := gen()
	if !strings.HasPrefix(id, "sig_") {
		t.Errorf("missing prefix: %s", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "sig_")); err != nil {
		t.Errorf("suffix not a UUID: %v", err)
	}
}
