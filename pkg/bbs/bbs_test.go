package bbs

import (
	"bytes"
	"testing"

	"github.com/certen/logchain/pkg/blsprim"
)

func TestIssueSatisfiesCredentialInvariant(t *testing.T) {
	mgr, err := Setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	cred, err := mgr.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	b := computeB(mgr.PublicKey, cred.S, cred.X)
	g2 := blsprim.G2Generator()
	wPlusGE := mgr.PublicKey.W.Add(g2.ScalarMul(cred.E))

	ok, err := blsprim.PairingEqual(cred.A, wPlusGE, b, g2)
	if err != nil {
		t.Fatalf("pairing: %v", err)
	}
	if !ok {
		t.Fatalf("expected e(A, w+g2*e) == e(B, g2)")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	mgr, _ := Setup()
	cred, err := mgr.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	sig, err := cred.Sign(mgr.PublicKey, "hello")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(mgr.PublicKey, "hello", sig); err != nil {
		t.Fatalf("expected valid signature, got: %v", err)
	}
}

func TestVerifyRejectsFlippedChallengeBit(t *testing.T) {
	mgr, _ := Setup()
	cred, _ := mgr.Issue()
	sig, err := cred.Sign(mgr.PublicKey, "hello")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := sig.C.Bytes()
	tampered[0] ^= 0x01
	sig.C = blsprim.FrFromBytes(tampered)

	if err := Verify(mgr.PublicKey, "hello", sig); err != ErrChallengeMismatch {
		t.Fatalf("expected challenge mismatch, got: %v", err)
	}
}

func TestSignaturesAreUnlinkable(t *testing.T) {
	mgr, _ := Setup()
	cred, _ := mgr.Issue()

	sig1, err := cred.Sign(mgr.PublicKey, "hello")
	if err != nil {
		t.Fatalf("sign 1: %v", err)
	}
	sig2, err := cred.Sign(mgr.PublicKey, "hello")
	if err != nil {
		t.Fatalf("sign 2: %v", err)
	}
	if bytes.Equal(sig1.APrime.Bytes(), sig2.APrime.Bytes()) {
		t.Fatalf("expected A' to differ across signings of the same message")
	}
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	mgr, _ := Setup()
	cred, _ := mgr.Issue()
	sig, err := cred.Sign(mgr.PublicKey, "hello")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(mgr.PublicKey, "goodbye", sig); err == nil {
		t.Fatalf("expected verification against a different message to fail")
	}
}

func TestRevocationWitnessTracksAccumulator(t *testing.T) {
	acc, err := NewAccumulator()
	if err != nil {
		t.Fatalf("accumulator init: %v", err)
	}
	mgr, _ := Setup()
	cred, _ := mgr.Issue()

	ok, err := VerifyNotRevoked(acc, Witness{Value: acc.Value}, cred.E)
	if err != nil {
		t.Fatalf("verify not revoked (pre): %v", err)
	}
	if !ok {
		t.Fatalf("expected fresh witness to pass before any revocation")
	}

	witnessBefore := acc.Revoke(cred.E)
	ok, err = VerifyNotRevoked(acc, witnessBefore, cred.E)
	if err != nil {
		t.Fatalf("verify not revoked (post): %v", err)
	}
	if !ok {
		t.Fatalf("expected the witness from immediately before revocation to verify against the updated accumulator")
	}
}

func TestGroupSignatureWireRoundTrip(t *testing.T) {
	mgr, _ := Setup()
	cred, err := mgr.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sig, err := cred.Sign(mgr.PublicKey, "hello")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	wire := sig.Bytes()
	decoded, err := GroupSignatureFromBytes(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if err := Verify(mgr.PublicKey, "hello", decoded); err != nil {
		t.Fatalf("verify decoded signature: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), wire) {
		t.Fatalf("re-encoded signature does not match original wire bytes")
	}
}

func TestGroupPublicKeyWireRoundTrip(t *testing.T) {
	mgr, err := Setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	wire := mgr.PublicKey.Bytes()
	decoded, err := GroupPublicKeyFromBytes(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), wire) {
		t.Fatalf("re-encoded group public key does not match original wire bytes")
	}
}

func TestGroupSignatureFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := GroupSignatureFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected an error for a truncated signature")
	}
}
