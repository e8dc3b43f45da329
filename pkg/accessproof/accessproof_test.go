package accessproof

import "testing"

func TestAccessProofRoundTrip(t *testing.T) {
	groupKey := make([]byte, 32)
	for i := range groupKey {
		groupKey[i] = byte(i)
	}
	groupID := []byte("group1")

	key, err := DeriveEpochAccessKey(groupKey, groupID, 3)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	proof := AccessProof(key, "deadbeef")
	if err := VerifyAccessProof(key, "deadbeef", proof); err != nil {
		t.Fatalf("expected valid proof, got: %v", err)
	}
}

func TestAccessProofRejectsWrongHash(t *testing.T) {
	groupKey := make([]byte, 32)
	key, err := DeriveEpochAccessKey(groupKey, []byte("group1"), 0)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	proof := AccessProof(key, "aaaa")
	if err := VerifyAccessProof(key, "bbbb", proof); err != ErrInvalidAccessProof {
		t.Fatalf("expected ErrInvalidAccessProof, got %v", err)
	}
}

func TestEpochKeysDifferAcrossEpochs(t *testing.T) {
	groupKey := make([]byte, 32)
	k0, err := DeriveEpochAccessKey(groupKey, []byte("group1"), 0)
	if err != nil {
		t.Fatalf("derive k0: %v", err)
	}
	k1, err := DeriveEpochAccessKey(groupKey, []byte("group1"), 1)
	if err != nil {
		t.Fatalf("derive k1: %v", err)
	}
	if string(k0.Key) == string(k1.Key) {
		t.Fatalf("expected distinct keys across epochs")
	}
}

// TestAccessProofBoundToEpoch checks a proof computed under one epoch's
// key never verifies under another epoch's key for the same group.
func TestAccessProofBoundToEpoch(t *testing.T) {
	groupKey := make([]byte, 32)
	k0, err := DeriveEpochAccessKey(groupKey, []byte("group1"), 0)
	if err != nil {
		t.Fatalf("derive k0: %v", err)
	}
	k1, err := DeriveEpochAccessKey(groupKey, []byte("group1"), 1)
	if err != nil {
		t.Fatalf("derive k1: %v", err)
	}
	proof := AccessProof(k0, "deadbeef")
	if err := VerifyAccessProof(k1, "deadbeef", proof); err != ErrInvalidAccessProof {
		t.Fatalf("expected proof to be bound to its epoch key, got %v", err)
	}
}

func TestTransitionProofRoundTrip(t *testing.T) {
	groupKey := make([]byte, 32)
	k0, err := DeriveEpochAccessKey(groupKey, []byte("group1"), 0)
	if err != nil {
		t.Fatalf("derive k0: %v", err)
	}
	k1, err := DeriveEpochAccessKey(groupKey, []byte("group1"), 1)
	if err != nil {
		t.Fatalf("derive k1: %v", err)
	}
	proof := TransitionProof(k0, k1)
	if err := VerifyTransitionProof(k0, k1, proof); err != nil {
		t.Fatalf("expected valid transition proof, got: %v", err)
	}
}

func TestTransitionProofRejectsWrongTarget(t *testing.T) {
	groupKey := make([]byte, 32)
	k0, _ := DeriveEpochAccessKey(groupKey, []byte("group1"), 0)
	k1, _ := DeriveEpochAccessKey(groupKey, []byte("group1"), 1)
	k2, _ := DeriveEpochAccessKey(groupKey, []byte("group1"), 2)
	proof := TransitionProof(k0, k1)
	if err := VerifyTransitionProof(k0, k2, proof); err != ErrInvalidTransitionProof {
		t.Fatalf("expected ErrInvalidTransitionProof, got %v", err)
	}
}
