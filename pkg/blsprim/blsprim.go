// Copyright 2025 Certen Protocol
//
// BLS12-381 Primitives — Fr scalar arithmetic, G1/G2 point arithmetic,
// pairing checks, and the two fixed hashing schemes (hash-to-scalar,
// hash-to-G1) the protocol requires for wire compatibility. Built on
// gnark-crypto's bls12-381 implementation.

package blsprim

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

const (
	// FrSize is the byte width of a serialized Fr scalar.
	FrSize = 32
	// G1CompressedSize is the byte width of a compressed G1 point.
	G1CompressedSize = 48
	// G2CompressedSize is the byte width of a compressed G2 point.
	G2CompressedSize = 96
)

var (
	initOnce sync.Once
	g1Gen    bls12381.G1Affine
	g2Gen    bls12381.G2Affine
)

// Initialize caches the BLS12-381 generator points. Safe to call
// repeatedly; only the first call does any work.
func Initialize() {
	initOnce.Do(func() {
		_, _, g1Gen, g2Gen = bls12381.Generators()
	})
}

// G1Generator returns the canonical G1 generator point.
func G1Generator() G1 {
	Initialize()
	return G1{point: g1Gen}
}

// G2Generator returns the canonical G2 generator point.
func G2Generator() G2 {
	Initialize()
	return G2{point: g2Gen}
}

// Fr wraps a scalar element of the BLS12-381 scalar field.
type Fr struct {
	element fr.Element
}

// FrFromBigInt reduces an arbitrary big.Int modulo r.
func FrFromBigInt(v *big.Int) Fr {
	var e fr.Element
	e.SetBigInt(v)
	return Fr{element: e}
}

// FrFromBytes interprets b as a big-endian integer and reduces it modulo r.
func FrFromBytes(b []byte) Fr {
	var e fr.Element
	e.SetBytes(b)
	return Fr{element: e}
}

// RandomFr samples a uniformly random scalar.
func RandomFr() (Fr, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return Fr{}, fmt.Errorf("blsprim: random scalar: %w", err)
	}
	return Fr{element: e}, nil
}

// Bytes returns the canonical 32-byte big-endian encoding.
func (f Fr) Bytes() []byte {
	b := f.element.Bytes()
	return b[:]
}

// BigInt returns the scalar as a big.Int.
func (f Fr) BigInt() *big.Int {
	var out big.Int
	f.element.BigInt(&out)
	return &out
}

// Add returns f + other.
func (f Fr) Add(other Fr) Fr {
	var out fr.Element
	out.Add(&f.element, &other.element)
	return Fr{element: out}
}

// Sub returns f - other.
func (f Fr) Sub(other Fr) Fr {
	var out fr.Element
	out.Sub(&f.element, &other.element)
	return Fr{element: out}
}

// Mul returns f * other.
func (f Fr) Mul(other Fr) Fr {
	var out fr.Element
	out.Mul(&f.element, &other.element)
	return Fr{element: out}
}

// Neg returns -f.
func (f Fr) Neg() Fr {
	var out fr.Element
	out.Neg(&f.element)
	return Fr{element: out}
}

// Inverse returns f^-1. The inverse of zero is zero.
func (f Fr) Inverse() Fr {
	var out fr.Element
	out.Inverse(&f.element)
	return Fr{element: out}
}

// Equal reports whether f and other represent the same field element.
func (f Fr) Equal(other Fr) bool {
	return f.element.Equal(&other.element)
}

// IsZero reports whether f is the additive identity.
func (f Fr) IsZero() bool {
	return f.element.IsZero()
}

// G1 wraps an affine point on the BLS12-381 G1 curve.
type G1 struct {
	point bls12381.G1Affine
}

// G1FromBytes deserializes a compressed 48-byte G1 point.
func G1FromBytes(b []byte) (G1, error) {
	var p bls12381.G1Affine
	if _, err := p.SetBytes(b); err != nil {
		return G1{}, fmt.Errorf("blsprim: decode G1: %w", err)
	}
	return G1{point: p}, nil
}

// Bytes returns the compressed 48-byte encoding.
func (p G1) Bytes() []byte {
	b := p.point.Bytes()
	return b[:]
}

// ScalarMul returns s*p.
func (p G1) ScalarMul(s Fr) G1 {
	var out bls12381.G1Affine
	out.ScalarMultiplication(&p.point, s.BigInt())
	return G1{point: out}
}

// Add returns p + other.
func (p G1) Add(other G1) G1 {
	var pj, oj, sum bls12381.G1Jac
	pj.FromAffine(&p.point)
	oj.FromAffine(&other.point)
	sum.Set(&pj).AddAssign(&oj)
	var out bls12381.G1Affine
	out.FromJacobian(&sum)
	return G1{point: out}
}

// Neg returns -p.
func (p G1) Neg() G1 {
	var out bls12381.G1Affine
	out.Neg(&p.point)
	return G1{point: out}
}

// IsIdentity reports whether p is the point at infinity.
func (p G1) IsIdentity() bool {
	return p.point.IsInfinity()
}

// IsValid reports whether p is on-curve, non-identity, and in the correct
// subgroup.
func (p G1) IsValid() bool {
	return p.point.IsOnCurve() && !p.point.IsInfinity() && p.point.IsInSubGroup()
}

// XCoordFr returns the affine X coordinate reduced modulo r — the x(P)
// operation BBS+ challenge hashing is built on.
func (p G1) XCoordFr() Fr {
	xBytes := p.point.X.Bytes()
	return FrFromBytes(xBytes[:])
}

// G2 wraps an affine point on the BLS12-381 G2 curve.
type G2 struct {
	point bls12381.G2Affine
}

// G2FromBytes deserializes a compressed 96-byte G2 point.
func G2FromBytes(b []byte) (G2, error) {
	var p bls12381.G2Affine
	if _, err := p.SetBytes(b); err != nil {
		return G2{}, fmt.Errorf("blsprim: decode G2: %w", err)
	}
	return G2{point: p}, nil
}

// Bytes returns the compressed 96-byte encoding.
func (p G2) Bytes() []byte {
	b := p.point.Bytes()
	return b[:]
}

// ScalarMul returns s*p.
func (p G2) ScalarMul(s Fr) G2 {
	var out bls12381.G2Affine
	out.ScalarMultiplication(&p.point, s.BigInt())
	return G2{point: out}
}

// Add returns p + other.
func (p G2) Add(other G2) G2 {
	var pj, oj, sum bls12381.G2Jac
	pj.FromAffine(&p.point)
	oj.FromAffine(&other.point)
	sum.Set(&pj).AddAssign(&oj)
	var out bls12381.G2Affine
	out.FromJacobian(&sum)
	return G2{point: out}
}

// Neg returns -p.
func (p G2) Neg() G2 {
	var out bls12381.G2Affine
	out.Neg(&p.point)
	return G2{point: out}
}

// IsIdentity reports whether p is the point at infinity.
func (p G2) IsIdentity() bool {
	return p.point.IsInfinity()
}

// IsValid reports whether p is on-curve, non-identity, and in the correct
// subgroup.
func (p G2) IsValid() bool {
	return p.point.IsOnCurve() && !p.point.IsInfinity() && p.point.IsInSubGroup()
}

// PairingEqual reports whether e(a1, a2) == e(b1, b2).
func PairingEqual(a1 G1, a2 G2, b1 G1, b2 G2) (bool, error) {
	Initialize()
	var negB1 bls12381.G1Affine
	negB1.Neg(&b1.point)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{a1.point, negB1},
		[]bls12381.G2Affine{a2.point, b2.point},
	)
	if err != nil {
		return false, fmt.Errorf("blsprim: pairing check: %w", err)
	}
	return ok, nil
}

// HashToScalar implements the system's fixed hash-to-scalar scheme:
// Fr( BE_to_int( SHA256(SHA256(data) || "expand") ) mod r ). Multiple
// inputs are concatenated before the first SHA-256.
func HashToScalar(inputs ...[]byte) Fr {
	first := sha256.New()
	for _, in := range inputs {
		first.Write(in)
	}
	inner := first.Sum(nil)

	outer := sha256.New()
	outer.Write(inner)
	outer.Write([]byte("expand"))
	digest := outer.Sum(nil)

	return FrFromBytes(digest)
}

// HashToG1 implements the system's fixed (non-standards-track) hash-to-G1
// scheme: scalar = HashToScalar(domain || concat(inputs)); return
// scalar * G1_generator. Not a random-oracle hash-to-curve; the exact
// construction is required for wire compatibility with existing deployments.
func HashToG1(domain string, inputs ...[]byte) G1 {
	Initialize()
	all := make([][]byte, 0, len(inputs)+1)
	all = append(all, []byte(domain))
	all = append(all, inputs...)
	scalar := HashToScalar(all...)
	return G1Generator().ScalarMul(scalar)
}
