package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
	if parts := strings.Split(id, "-"); len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		id := gen()
		if id <= prev {
			t.Fatalf("UUIDv7 not increasing: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestCaptureAndJobIDs(t *testing.T) {
	c := Capture()
	if !strings.HasPrefix(c, "cap_") || !Valid("cap_", c) {
		t.Fatalf("Capture() = %q", c)
	}
	j := Job()
	if !strings.HasPrefix(j, "job_") || !Valid("job_", j) {
		t.Fatalf("Job() = %q", j)
	}
	if Valid("cap_", j) {
		t.Fatalf("Valid(cap_, %q) = true", j)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"cap_0190a5b2-8c3e-7d4f-9a1b-2c3d4e5f6a7b", true},
		{"0190a5b2-8c3e-7d4f-9a1b-2c3d4e5f6a7b", false},
		{"cap_not-a-uuid", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Valid("cap_", tt.id); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("ev")
	for _, want := range []string{"ev1", "ev2", "ev3"} {
		if got := gen(); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}
