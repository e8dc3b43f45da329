// Copyright 2025 Certen Protocol
//
// ECIES encrypt/decrypt matching the eciesjs wire envelope: an ephemeral
// secp256k1 public key, a 16-byte IV, a 16-byte GCM tag, then ciphertext,
// all base64-encoded.

package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

const (
	ephemeralPubLen = 65
	ivLen           = 16
	tagLen          = 16
	minECIESLen     = ephemeralPubLen + ivLen + tagLen + 1
)

// ErrDecryptionFailed covers GCM auth failure, short input, or bad framing.
type ErrDecryptionFailed struct {
	Reason string
}

func (e *ErrDecryptionFailed) Error() string {
	return fmt.Sprintf("identity: ecies decryption failed: %s", e.Reason)
}

// EncryptECIES encrypts plaintext to recipient's public key, returning the
// base64-encoded envelope eph_pub65 || IV16 || TAG16 || CT.
func EncryptECIES(recipient *PublicKey, plaintext []byte) (string, error) {
	ephPriv, err := GenerateKey()
	if err != nil {
		return "", fmt.Errorf("identity: ecies ephemeral key: %w", err)
	}
	ephPub65 := ephPriv.PublicKey().Bytes()

	sharedPoint65, err := ecdhFullPoint(ephPriv, recipient)
	if err != nil {
		return "", err
	}

	key, err := deriveECIESKey(ephPub65, sharedPoint65)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("identity: ecies iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("identity: ecies cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return "", fmt.Errorf("identity: ecies gcm: %w", err)
	}
	// GCM's Seal appends the tag to the ciphertext; the eciesjs envelope
	// wants the tag immediately after the IV instead, so split it back out.
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	envelope := make([]byte, 0, ephemeralPubLen+ivLen+tagLen+len(ct))
	envelope = append(envelope, ephPub65...)
	envelope = append(envelope, iv...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ct...)

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// DecryptECIES reverses EncryptECIES using the recipient's private key.
func DecryptECIES(recipient *PrivateKey, envelopeB64 string) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(envelopeB64)
	if err != nil {
		return nil, &ErrDecryptionFailed{Reason: "invalid base64"}
	}
	if len(envelope) < minECIESLen {
		return nil, &ErrDecryptionFailed{Reason: "envelope too short"}
	}

	ephPub65 := envelope[:ephemeralPubLen]
	iv := envelope[ephemeralPubLen : ephemeralPubLen+ivLen]
	tag := envelope[ephemeralPubLen+ivLen : ephemeralPubLen+ivLen+tagLen]
	ct := envelope[ephemeralPubLen+ivLen+tagLen:]

	ephPub, err := PublicKeyFromBytes(ephPub65)
	if err != nil {
		return nil, &ErrDecryptionFailed{Reason: "invalid ephemeral public key"}
	}

	sharedPoint65, err := ecdhFullPoint(recipient, ephPub)
	if err != nil {
		return nil, &ErrDecryptionFailed{Reason: "ecdh failed"}
	}

	key, err := deriveECIESKey(ephPub65, sharedPoint65)
	if err != nil {
		return nil, &ErrDecryptionFailed{Reason: "key derivation failed"}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &ErrDecryptionFailed{Reason: "cipher init failed"}
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, &ErrDecryptionFailed{Reason: "gcm init failed"}
	}

	sealed := append(append([]byte{}, ct...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, &ErrDecryptionFailed{Reason: "gcm auth failed"}
	}
	return plaintext, nil
}

// ECDHSharedPoint computes the raw ECDH shared point between priv and pub,
// returned as the full uncompressed 65-byte encoding (0x04 || X || Y). Used
// directly by callers (such as the MLS ratchet) that need the shared point
// itself rather than an ECIES envelope built from it.
func ECDHSharedPoint(priv *PrivateKey, pub *PublicKey) ([]byte, error) {
	return ecdhFullPoint(priv, pub)
}

// ecdhFullPoint computes the ECDH shared point between priv and pub and
// returns its full uncompressed 65-byte encoding (04 || X || Y), matching
// eciesjs's use of the raw shared point (not just its X coordinate) as IKM
// material alongside the ephemeral public key.
func ecdhFullPoint(priv *PrivateKey, pub *PublicKey) ([]byte, error) {
	x, y := crypto.S256().ScalarMult(pub.key.X, pub.key.Y, priv.key.D.Bytes())
	shared := &PublicKey{key: &ecdsa.PublicKey{Curve: crypto.S256(), X: x, Y: y}}
	return shared.Bytes(), nil
}

func deriveECIESKey(ephPub65, sharedPoint65 []byte) ([]byte, error) {
	ikm := make([]byte, 0, len(ephPub65)+len(sharedPoint65))
	ikm = append(ikm, ephPub65...)
	ikm = append(ikm, sharedPoint65...)

	reader := hkdf.New(sha256.New, ikm, nil, nil)
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("identity: hkdf: %w", err)
	}
	return key, nil
}
