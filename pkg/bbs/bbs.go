// Copyright 2025 Certen Protocol
//
// BBS+ Credentials and Signatures — group setup, per-member credential
// issuance, Schnorr-style zero-knowledge signing, pairing-based
// verification, and accumulator-based revocation. Built directly on
// pkg/blsprim's Fr/G1/G2 wrapper types, the same way the validator's BLS
// package builds signature aggregation directly on gnark-crypto rather
// than through a compiled arithmetic circuit.

package bbs

import (
	"errors"
	"fmt"

	"github.com/certen/logchain/pkg/blsprim"
)

var (
	// ErrIdentityElement is returned when A' or Ā is the group identity.
	ErrIdentityElement = errors.New("bbs: A' or Abar is the identity element")
	// ErrChallengeMismatch is returned when the recomputed challenge disagrees.
	ErrChallengeMismatch = errors.New("bbs: challenge mismatch")
	// ErrPairingFailed is returned when the final pairing check fails.
	ErrPairingFailed = errors.New("bbs: pairing check failed")
	// ErrRevoked is returned when a membership witness no longer validates.
	ErrRevoked = errors.New("bbs: credential revoked")
)

// GroupPublicKey is the manager's published verification material.
type GroupPublicKey struct {
	W  blsprim.G2
	H0 blsprim.G1
	H1 blsprim.G1
}

// groupPublicKeyWireSize is the fixed-width concatenated encoding of a
// GroupPublicKey: one compressed G2 point followed by two compressed G1
// points.
const groupPublicKeyWireSize = blsprim.G2CompressedSize + 2*blsprim.G1CompressedSize

// Bytes serializes pk as w || h0 || h1 in compressed form.
func (pk *GroupPublicKey) Bytes() []byte {
	out := make([]byte, 0, groupPublicKeyWireSize)
	out = append(out, pk.W.Bytes()...)
	out = append(out, pk.H0.Bytes()...)
	out = append(out, pk.H1.Bytes()...)
	return out
}

// GroupPublicKeyFromBytes deserializes the encoding Bytes produces.
func GroupPublicKeyFromBytes(b []byte) (*GroupPublicKey, error) {
	if len(b) != groupPublicKeyWireSize {
		return nil, fmt.Errorf("bbs: decode group public key: want %d bytes, got %d", groupPublicKeyWireSize, len(b))
	}
	w, err := blsprim.G2FromBytes(b[:blsprim.G2CompressedSize])
	if err != nil {
		return nil, fmt.Errorf("bbs: decode group public key: w: %w", err)
	}
	h0, err := blsprim.G1FromBytes(b[blsprim.G2CompressedSize : blsprim.G2CompressedSize+blsprim.G1CompressedSize])
	if err != nil {
		return nil, fmt.Errorf("bbs: decode group public key: h0: %w", err)
	}
	h1, err := blsprim.G1FromBytes(b[blsprim.G2CompressedSize+blsprim.G1CompressedSize:])
	if err != nil {
		return nil, fmt.Errorf("bbs: decode group public key: h1: %w", err)
	}
	return &GroupPublicKey{W: w, H0: h0, H1: h1}, nil
}

// ManagerPrivateKey is the group manager's secret setup material.
type ManagerPrivateKey struct {
	Gamma     blsprim.Fr
	PublicKey GroupPublicKey
}

// Setup samples a fresh manager key and derives the group public key's
// domain generators from gamma, exactly as this system requires for wire
// compatibility (the generators are intentionally gamma-dependent rather
// than drawn from an independent trusted setup).
func Setup() (*ManagerPrivateKey, error) {
	gamma, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: setup: %w", err)
	}
	return setupFromGamma(gamma), nil
}

// setupFromGamma builds a manager key from a known gamma. Exposed for
// deterministic tests; production code should use Setup.
func setupFromGamma(gamma blsprim.Fr) *ManagerPrivateKey {
	w := blsprim.G2Generator().ScalarMul(gamma)
	gammaBytes := gamma.Bytes()
	h0 := blsprim.HashToG1("BBS+Generator-h0", gammaBytes)
	h1 := blsprim.HashToG1("BBS+Generator-h1", gammaBytes)
	return &ManagerPrivateKey{
		Gamma: gamma,
		PublicKey: GroupPublicKey{
			W:  w,
			H0: h0,
			H1: h1,
		},
	}
}

// MemberCredential is the issued, non-anonymized credential a member holds.
type MemberCredential struct {
	X blsprim.Fr
	A blsprim.G1
	E blsprim.Fr
	S blsprim.Fr
}

// Issue samples fresh x, e, s and produces a credential satisfying
// e(A, w + g2*e) = e(B, g2), where B = g1 + h0*s + h1*x.
func (mgr *ManagerPrivateKey) Issue() (*MemberCredential, error) {
	x, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: issue: sample x: %w", err)
	}
	e, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: issue: sample e: %w", err)
	}
	s, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: issue: sample s: %w", err)
	}

	b := computeB(mgr.PublicKey, s, x)
	exponent := mgr.Gamma.Add(e)
	a := b.ScalarMul(exponent.Inverse())

	return &MemberCredential{X: x, A: a, E: e, S: s}, nil
}

func computeB(pk GroupPublicKey, s, x blsprim.Fr) blsprim.G1 {
	g1 := blsprim.G1Generator()
	return g1.Add(pk.H0.ScalarMul(s)).Add(pk.H1.ScalarMul(x))
}

// GroupSignature is a randomized, anonymous proof of credential possession
// binding a specific message.
type GroupSignature struct {
	APrime blsprim.G1
	ABar   blsprim.G1
	D      blsprim.G1
	C      blsprim.Fr
	SX     blsprim.Fr
	SR2    blsprim.Fr
	SE     blsprim.Fr
	SS     blsprim.Fr
}

// groupSignatureWireSize is the fixed-width concatenated encoding Bytes
// produces: three compressed G1 points followed by five Fr scalars.
const groupSignatureWireSize = 3*blsprim.G1CompressedSize + 5*blsprim.FrSize

// Bytes serializes sig as a fixed-width concatenation of its compressed
// G1 points and Fr scalars, for transport over the wire.
func (sig *GroupSignature) Bytes() []byte {
	out := make([]byte, 0, groupSignatureWireSize)
	out = append(out, sig.APrime.Bytes()...)
	out = append(out, sig.ABar.Bytes()...)
	out = append(out, sig.D.Bytes()...)
	out = append(out, sig.C.Bytes()...)
	out = append(out, sig.SX.Bytes()...)
	out = append(out, sig.SR2.Bytes()...)
	out = append(out, sig.SE.Bytes()...)
	out = append(out, sig.SS.Bytes()...)
	return out
}

// GroupSignatureFromBytes deserializes the fixed-width encoding Bytes
// produces.
func GroupSignatureFromBytes(b []byte) (*GroupSignature, error) {
	if len(b) != groupSignatureWireSize {
		return nil, fmt.Errorf("bbs: decode group signature: want %d bytes, got %d", groupSignatureWireSize, len(b))
	}
	off := 0
	readG1 := func() (blsprim.G1, error) {
		p, err := blsprim.G1FromBytes(b[off : off+blsprim.G1CompressedSize])
		off += blsprim.G1CompressedSize
		return p, err
	}
	readFr := func() blsprim.Fr {
		f := blsprim.FrFromBytes(b[off : off+blsprim.FrSize])
		off += blsprim.FrSize
		return f
	}

	aPrime, err := readG1()
	if err != nil {
		return nil, fmt.Errorf("bbs: decode group signature: A': %w", err)
	}
	aBar, err := readG1()
	if err != nil {
		return nil, fmt.Errorf("bbs: decode group signature: Abar: %w", err)
	}
	d, err := readG1()
	if err != nil {
		return nil, fmt.Errorf("bbs: decode group signature: D: %w", err)
	}

	return &GroupSignature{
		APrime: aPrime,
		ABar:   aBar,
		D:      d,
		C:      readFr(),
		SX:     readFr(),
		SR2:    readFr(),
		SE:     readFr(),
		SS:     readFr(),
	}, nil
}

// Sign produces a zero-knowledge group signature over message binding the
// holder's credential without revealing which credential was used.
func (cred *MemberCredential) Sign(pk GroupPublicKey, message string) (*GroupSignature, error) {
	r, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: sign: sample r: %w", err)
	}
	r2, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: sign: sample r2: %w", err)
	}
	rX, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: sign: sample rX: %w", err)
	}
	rR2, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: sign: sample rR2: %w", err)
	}
	rE, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: sign: sample rE: %w", err)
	}
	rS, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: sign: sample rS: %w", err)
	}

	aPrime := cred.A.ScalarMul(r)
	xr := cred.X.Mul(r)
	bPrime := blsprim.G1Generator().ScalarMul(r).
		Add(pk.H0.ScalarMul(cred.S.Mul(r))).
		Add(pk.H1.ScalarMul(xr))

	aBar := bPrime.Add(aPrime.ScalarMul(cred.E.Neg()))

	d := pk.H0.ScalarMul(r2).Add(pk.H1.ScalarMul(xr))

	t := pk.H0.ScalarMul(rR2).Add(pk.H1.ScalarMul(rX))

	c := blsprim.HashToScalar(
		[]byte(message),
		aPrime.XCoordFr().Bytes(),
		aBar.XCoordFr().Bytes(),
		d.XCoordFr().Bytes(),
		t.XCoordFr().Bytes(),
	)

	sX := rX.Add(c.Mul(xr))
	sR2 := rR2.Add(c.Mul(r2))
	sE := rE.Add(c.Mul(cred.E))
	sS := rS.Add(c.Mul(cred.S))

	return &GroupSignature{
		APrime: aPrime,
		ABar:   aBar,
		D:      d,
		C:      c,
		SX:     sX,
		SR2:    sR2,
		SE:     sE,
		SS:     sS,
	}, nil
}

// Verify checks sig over message against the group's public key.
func Verify(pk GroupPublicKey, message string, sig *GroupSignature) error {
	if sig.APrime.IsIdentity() || sig.ABar.IsIdentity() {
		return ErrIdentityElement
	}

	tPrime := pk.H0.ScalarMul(sig.SR2).
		Add(pk.H1.ScalarMul(sig.SX)).
		Add(sig.D.ScalarMul(sig.C.Neg()))

	cPrime := blsprim.HashToScalar(
		[]byte(message),
		sig.APrime.XCoordFr().Bytes(),
		sig.ABar.XCoordFr().Bytes(),
		sig.D.XCoordFr().Bytes(),
		tPrime.XCoordFr().Bytes(),
	)

	if !sig.C.Equal(cPrime) {
		return ErrChallengeMismatch
	}

	ok, err := blsprim.PairingEqual(sig.APrime, pk.W, sig.ABar, blsprim.G2Generator())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPairingFailed, err)
	}
	if !ok {
		return ErrPairingFailed
	}
	return nil
}

// Accumulator is the revocation accumulator published by the group manager.
type Accumulator struct {
	Value blsprim.G1
	alpha blsprim.Fr
}

// NewAccumulator initializes acc = alpha * g1 for a freshly sampled alpha.
func NewAccumulator() (*Accumulator, error) {
	alpha, err := blsprim.RandomFr()
	if err != nil {
		return nil, fmt.Errorf("bbs: accumulator init: %w", err)
	}
	return &Accumulator{
		Value: blsprim.G1Generator().ScalarMul(alpha),
		alpha: alpha,
	}, nil
}

// Witness is the membership witness produced at revocation time — the
// accumulator value immediately before the corresponding credential was
// revoked.
type Witness struct {
	Value blsprim.G1
}

// Revoke removes the credential whose non-revocation exponent is e from
// the accumulator, returning the witness a still-valid member can use to
// prove they were accumulated before this revocation.
func (acc *Accumulator) Revoke(e blsprim.Fr) Witness {
	prior := Witness{Value: acc.Value}
	acc.Value = acc.Value.ScalarMul(e.Inverse())
	acc.alpha = acc.alpha.Mul(e.Inverse())
	return prior
}

// VerifyNotRevoked reports whether witness, raised to e, still reproduces
// the current accumulator value — i.e. the credential with this e has not
// been revoked since the witness was issued.
func VerifyNotRevoked(acc *Accumulator, witness Witness, e blsprim.Fr) (bool, error) {
	witnessed := witness.Value.ScalarMul(e)
	g2 := blsprim.G2Generator()
	return blsprim.PairingEqual(acc.Value, g2, witnessed, g2)
}
