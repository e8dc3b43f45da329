package blsprim

import (
	"bytes"
	"math/big"
	"testing"
)

func TestGeneratorsAreValidAndOnCurve(t *testing.T) {
	g1 := G1Generator()
	g2 := G2Generator()
	if !g1.IsValid() {
		t.Fatalf("G1 generator should be valid")
	}
	if !g2.IsValid() {
		t.Fatalf("G2 generator should be valid")
	}
}

func TestG1RoundTripBytes(t *testing.T) {
	g1 := G1Generator()
	b := g1.Bytes()
	if len(b) != G1CompressedSize {
		t.Fatalf("expected %d bytes, got %d", G1CompressedSize, len(b))
	}
	decoded, err := G1FromBytes(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), b) {
		t.Fatalf("round trip mismatch")
	}
}

func TestG2RoundTripBytes(t *testing.T) {
	g2 := G2Generator()
	b := g2.Bytes()
	if len(b) != G2CompressedSize {
		t.Fatalf("expected %d bytes, got %d", G2CompressedSize, len(b))
	}
	decoded, err := G2FromBytes(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), b) {
		t.Fatalf("round trip mismatch")
	}
}

func TestScalarMulAndAddConsistency(t *testing.T) {
	g1 := G1Generator()
	two := FrFromBigInt(big.NewInt(2))
	doubled := g1.ScalarMul(two)
	summed := g1.Add(g1)
	if !bytes.Equal(doubled.Bytes(), summed.Bytes()) {
		t.Fatalf("2*G should equal G+G")
	}
}

func TestFrArithmetic(t *testing.T) {
	a, err := RandomFr()
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	b, err := RandomFr()
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	sum := a.Add(b)
	back := sum.Sub(b)
	if !back.Equal(a) {
		t.Fatalf("(a+b)-b should equal a")
	}
}

func TestPairingEqualForGeneratorScalarMultiples(t *testing.T) {
	a, err := RandomFr()
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	g1 := G1Generator()
	g2 := G2Generator()
	// e(a*G1, G2) == e(G1, a*G2)
	ok, err := PairingEqual(g1.ScalarMul(a), g2, g1, g2.ScalarMul(a))
	if err != nil {
		t.Fatalf("pairing check: %v", err)
	}
	if !ok {
		t.Fatalf("expected pairing equality to hold")
	}
}

func TestPairingEqualRejectsMismatch(t *testing.T) {
	a, _ := RandomFr()
	b, _ := RandomFr()
	if a.Equal(b) {
		t.Skip("unlucky random collision")
	}
	g1 := G1Generator()
	g2 := G2Generator()
	ok, err := PairingEqual(g1.ScalarMul(a), g2, g1, g2.ScalarMul(b))
	if err != nil {
		t.Fatalf("pairing check: %v", err)
	}
	if ok {
		t.Fatalf("expected pairing equality to fail for mismatched scalars")
	}
}

func TestHashToScalarDeterministic(t *testing.T) {
	s1 := HashToScalar([]byte("hello"))
	s2 := HashToScalar([]byte("hello"))
	if !s1.Equal(s2) {
		t.Fatalf("hash to scalar should be deterministic")
	}
	s3 := HashToScalar([]byte("world"))
	if s1.Equal(s3) {
		t.Fatalf("different inputs should hash to different scalars")
	}
}

func TestHashToG1Deterministic(t *testing.T) {
	p1 := HashToG1("bbs-generator", []byte("a"), []byte("b"))
	p2 := HashToG1("bbs-generator", []byte("a"), []byte("b"))
	if !bytes.Equal(p1.Bytes(), p2.Bytes()) {
		t.Fatalf("hash to G1 should be deterministic")
	}
	if !p1.IsValid() {
		t.Fatalf("hashed point should be a valid subgroup member")
	}
	p3 := HashToG1("other-domain", []byte("a"), []byte("b"))
	if bytes.Equal(p1.Bytes(), p3.Bytes()) {
		t.Fatalf("different domains should hash to different points")
	}
}
