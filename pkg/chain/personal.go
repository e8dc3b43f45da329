// Copyright 2025 Certen Protocol
//
// Personal chain — single-owner entries signed with the owner's identity
// key and encrypted to the owner's own public key for storage.

package chain

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/certen/logchain/pkg/hexcodec"
	"github.com/certen/logchain/pkg/identity"
)

// PersonalEntry is the owner's plaintext view of one personal chain entry.
type PersonalEntry struct {
	Index     int
	PrevHash  string
	Content   string
	Nonce     string
	Hash      string
	Signature []byte
	CreatedAt int64
}

// NewPersonalEntry builds, hashes, and signs the next personal entry.
func NewPersonalEntry(owner *identity.PrivateKey, index int, prevHash, content string) (*PersonalEntry, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("chain: new personal entry: nonce: %w", err)
	}
	nonce := hexcodec.EncodeHex(nonceBytes)

	canonical := CanonicalString(index, prevHash, content, nonce)
	hash := EntryHash(canonical)

	sig, err := owner.Sign([]byte(canonical))
	if err != nil {
		return nil, fmt.Errorf("chain: new personal entry: sign: %w", err)
	}

	return &PersonalEntry{
		Index:     index,
		PrevHash:  prevHash,
		Content:   content,
		Nonce:     nonce,
		Hash:      hash,
		Signature: sig,
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}

// ValidatePersonalEntry validates e against the local head and the
// claimed owner address: recomputes the linkage, recomputes the hash, and
// recovers the signer.
func ValidatePersonalEntry(e *PersonalEntry, head *Head, ownerAddress string) error {
	if err := ValidateLinkage(e.Index, e.PrevHash, head); err != nil {
		return err
	}

	canonical := CanonicalString(e.Index, e.PrevHash, e.Content, e.Nonce)
	if EntryHash(canonical) != e.Hash {
		return ErrInvalidHash
	}

	if !identity.Verify([]byte(canonical), e.Signature, ownerAddress) {
		return ErrInvalidSignature
	}
	return nil
}

// Seal converts the owner's plaintext entry into its wire form: content is
// replaced by its ECIES ciphertext addressed to the owner's own public key.
func (e *PersonalEntry) Seal(ownerPublicKey *identity.PublicKey) (*PersonalEntryWire, error) {
	ciphertext, err := identity.EncryptECIES(ownerPublicKey, []byte(e.Content))
	if err != nil {
		return nil, fmt.Errorf("chain: seal personal entry: %w", err)
	}
	return &PersonalEntryWire{
		Index:      e.Index,
		PrevHash:   e.PrevHash,
		Ciphertext: ciphertext,
		Nonce:      e.Nonce,
		Hash:       e.Hash,
		Signature:  e.Signature,
		CreatedAt:  e.CreatedAt,
	}, nil
}

// PersonalEntryWire is the server-visible form of a personal chain entry.
type PersonalEntryWire struct {
	Index      int
	PrevHash   string
	Ciphertext string
	Nonce      string
	Hash       string
	Signature  []byte
	CreatedAt  int64
}

// Open decrypts w's ciphertext back into a plaintext PersonalEntry using
// the owner's private key.
func (w *PersonalEntryWire) Open(owner *identity.PrivateKey) (*PersonalEntry, error) {
	plaintext, err := identity.DecryptECIES(owner, w.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("chain: open personal entry: %w", err)
	}
	return &PersonalEntry{
		Index:     w.Index,
		PrevHash:  w.PrevHash,
		Content:   string(plaintext),
		Nonce:     w.Nonce,
		Hash:      w.Hash,
		Signature: w.Signature,
		CreatedAt: w.CreatedAt,
	}, nil
}
