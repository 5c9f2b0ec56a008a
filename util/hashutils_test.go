package util

import "testing"

func TestHashConsistency(t *testing.T) {
	data := []byte("788788")
	if HashCode(data) != HashCode(data) {
		t.Errorf("hash should be deterministic")
	}
}

func TestHashDiffersOnDifferentInput(t *testing.T) {
	if HashCode([]byte("a")) == HashCode([]byte("b")) {
		t.Errorf("expected different hashes for different input")
	}
}
