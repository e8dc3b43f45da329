// Copyright 2025 Certen Protocol
//
// Identity Crypto — secp256k1 key generation, EIP-191 personal-sign,
// and address recovery, built on go-ethereum's crypto package the same
// way the validator's ethereum client wraps it.

package identity

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/logchain/pkg/hexcodec"
)

var (
	// ErrInvalidPrivateKey is returned when a private key fails to parse.
	ErrInvalidPrivateKey = errors.New("identity: invalid private key")
	// ErrInvalidSignature is returned when a signature fails to recover a public key.
	ErrInvalidSignature = errors.New("identity: invalid signature")
)

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// PublicKey wraps a secp256k1 uncompressed public key.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// GenerateKey creates a new random secp256k1 key pair.
func GenerateKey() (*PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromHex parses a hex-encoded (optionally 0x-prefixed) secp256k1
// private key.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	s = strings.TrimPrefix(s, "0x")
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromScalar builds a private key directly from a raw 32-byte
// big-endian scalar, as used by the MLS ratchet's HKDF-derived node keys.
func PrivateKeyFromScalar(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return &PrivateKey{key: key}, nil
}

// Bytes returns the raw 32-byte private scalar.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.key)
}

// Hex returns the 0x-prefixed hex encoding of the private scalar.
func (k *PrivateKey) Hex() string {
	return hexcodec.EncodeHexPrefixed(k.Bytes())
}

// PublicKey returns the corresponding uncompressed public key.
func (k *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: &k.key.PublicKey}
}

// Address returns the EIP-55 checksummed address derived from this key.
func (k *PrivateKey) Address() string {
	return k.PublicKey().Address()
}

// Bytes returns the 65-byte uncompressed public key (0x04 || X || Y).
func (p *PublicKey) Bytes() []byte {
	return crypto.FromECDSAPub(p.key)
}

// PublicKeyFromBytes parses a 65-byte uncompressed secp256k1 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	key, err := crypto.UnmarshalPubkey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return &PublicKey{key: key}, nil
}

// Address derives the 20-byte EIP-55 checksummed address for this key:
// the last 20 bytes of keccak-256(X||Y), checksummed.
func (p *PublicKey) Address() string {
	b := p.Bytes()
	// b[0] is the uncompressed-point marker 0x04; hash only X||Y.
	digest := hexcodec.Keccak256(b[1:])
	addrLower := hexcodec.EncodeHex(digest[len(digest)-20:])
	checksummed, err := hexcodec.ChecksumAddress(addrLower)
	if err != nil {
		// Unreachable: digest slice is always exactly 20 bytes.
		panic(err)
	}
	return checksummed
}

// eip191Hash computes the EIP-191 personal-sign digest:
// keccak256("\x19Ethereum Signed Message:\n" || len(message) || message).
func eip191Hash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return hexcodec.Keccak256([]byte(prefix), message)
}

// Sign produces a 65-byte R||S||V EIP-191 signature over message, with
// V = recovery_id + 27.
func (k *PrivateKey) Sign(message []byte) ([]byte, error) {
	digest := eip191Hash(message)
	sig, err := crypto.Sign(digest, k.key)
	if err != nil {
		return nil, fmt.Errorf("identity: sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverAddress recovers the EIP-55 checksummed address that produced
// sig over message. sig must be the 65-byte R||S||V form with V in {27,28}.
func RecoverAddress(message, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("%w: signature must be 65 bytes", ErrInvalidSignature)
	}
	digest := eip191Hash(message)
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return (&PublicKey{key: pub}).Address(), nil
}

// Verify reports whether sig over message was produced by the key whose
// address is wantAddress (case-insensitive comparison).
func Verify(message, sig []byte, wantAddress string) bool {
	got, err := RecoverAddress(message, sig)
	if err != nil {
		return false
	}
	return strings.EqualFold(got, wantAddress)
}
