package idhash

import "testing"

func TestComputePatternHash(t *testing.T) {
	txids := []string{"tx-c", "tx-a", "tx-b"}

	got := ComputePatternHash(txids)
	if len(got) != 64 {
		t.Errorf("ComputePatternHash() length = %d, want 64", len(got))
	}

	// Determinism
	if again := ComputePatternHash(txids); again != got {
		t.Errorf("ComputePatternHash() not deterministic: %s != %s", again, got)
	}
}

func TestComputePatternHash_OrderIndependent(t *testing.T) {
	a := ComputePatternHash([]string{"tx-1", "tx-2", "tx-3"})
	b := ComputePatternHash([]string{"tx-3", "tx-1", "tx-2"})

	if a != b {
		t.Errorf("hash depends on input order: %s != %s", a, b)
	}
}

func TestComputePatternHash_DifferentSets(t *testing.T) {
	a := ComputePatternHash([]string{"tx-1", "tx-2"})
	b := ComputePatternHash([]string{"tx-1", "tx-3"})

	if a == b {
		t.Error("different txid sets produced the same hash")
	}
}

func TestComputePatternHash_DoesNotMutateInput(t *testing.T) {
	txids := []string{"tx-c", "tx-a"}
	ComputePatternHash(txids)

	if txids[0] != "tx-c" || txids[1] != "tx-a" {
		t.Errorf("input slice mutated: %v", txids)
	}
}
