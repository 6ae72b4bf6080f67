package util_test

import (
	"testing"

	"github.com/downfa11-org/logcleaner/util"
)

func TestGenerateID_Deterministic(t *testing.T) {
	a := util.GenerateID("object-42")
	b := util.GenerateID("object-42")
	if a != b {
		t.Fatalf("expected deterministic hash, got %d and %d", a, b)
	}
}

func TestGenerateID_Distinguishes(t *testing.T) {
	a := util.GenerateID("object-42")
	b := util.GenerateID("object-43")
	if a == b {
		t.Fatalf("expected distinct hashes for distinct keys")
	}
}
