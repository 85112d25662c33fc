package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("dec_")
	if !strings.HasPrefix(id, "dec_") {
		t.Fatalf("missing prefix: %q", id)
	}
	if len(id) != len("dec_")+24 {
		t.Fatalf("unexpected length %d: %q", len(id), id)
	}
	if id == WithPrefix("dec_") {
		t.Fatal("two generated IDs collided")
	}
}

func TestHexLength(t *testing.T) {
	for _, n := range []int{8, 12, 32} {
		if got := len(Hex(n)); got != 2*n {
			t.Errorf("Hex(%d) length = %d, want %d", n, got, 2*n)
		}
	}
}
