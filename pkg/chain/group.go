// Copyright 2025 Certen Protocol
//
// Group chain — multi-party entries encrypted under the MLS group key,
// anonymously authored via a BBS+ group signature, and gated server-side
// by an epoch access proof that never reveals group plaintext.

package chain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/certen/logchain/pkg/accessproof"
	"github.com/certen/logchain/pkg/bbs"
	"github.com/certen/logchain/pkg/hexcodec"
	"github.com/certen/logchain/pkg/identity"
)

// Sentinel errors for group-entry validation failures.
var (
	// ErrInvalidGroupSignature is returned when the BBS+ group signature
	// does not verify against the stored group public key.
	ErrInvalidGroupSignature = errors.New("chain: invalid group signature")
	// ErrInvalidAccessProof is returned when the access proof does not
	// match the epoch access key derived after decryption.
	ErrInvalidAccessProof = errors.New("chain: invalid access proof")
	// ErrEpochMismatch is returned when the decrypted payload's epoch
	// disagrees with the access key the entry verified under.
	ErrEpochMismatch = errors.New("chain: payload epoch does not match access key epoch")
)

// SystemOpKind tags the optional system operation carried by a decrypted
// group payload.
type SystemOpKind string

const (
	SystemOpEpochTransition SystemOpKind = "epoch_transition"
	SystemOpJoinRequest     SystemOpKind = "join_request"
	SystemOpJoinAccepted    SystemOpKind = "join_accepted"
	SystemOpMemberRemoved   SystemOpKind = "member_removed"
)

// SystemOp is the optional tagged union attached to a decrypted payload.
// The three epoch-advancing kinds (epoch_transition for a self rekey,
// join_accepted for an add, member_removed for a remove) all seal their
// entry under the outgoing epoch's keys — the incoming epoch's group key
// only exists for members after they apply the handshake carried here.
type SystemOp struct {
	Kind SystemOpKind `json:"kind"`
	// TransitionProof binds the outgoing epoch's access key to the
	// incoming one (HMAC of the new key under the old), for every
	// epoch-advancing kind. A member verifies it after deriving the new
	// key from the handshake, and before adopting that key; the server
	// verifies it against its stored key before adopting the new one.
	TransitionProof []byte `json:"transitionProof,omitempty"`
	// Handshake is the JSON encoding of the mlsratchet.HandshakeMessage
	// (add/remove/update) produced by the membership operation this
	// entry announces, broadcast inside the encrypted channel so every
	// existing member absorbs it via ProcessHandshake.
	Handshake []byte `json:"handshake,omitempty"`
}

// DecryptedGroupPayload is the application content inside a group entry's
// ciphertext, never seen by the server.
type DecryptedGroupPayload struct {
	Content         string    `json:"content"`
	SenderAddress   string    `json:"senderAddress"`
	SenderSignature []byte    `json:"senderSignature"`
	Epoch           int       `json:"epoch"`
	Timestamp       int64     `json:"timestamp"`
	SystemOp        *SystemOp `json:"systemOp,omitempty"`
}

// GroupEntryWire is the server-visible form of a group chain entry.
type GroupEntryWire struct {
	Index          int
	PrevHash       string
	Ciphertext     []byte
	Nonce          string
	Hash           string
	GroupSignature *bbs.GroupSignature
	AccessProof    []byte
	CreatedAt      int64
}

// SealGroupPayload encrypts payload under groupKey (AES-256-GCM,
// IV12||TAG16||CT over the canonical JSON form), signs the resulting
// entry hash string with the member's BBS+ credential, and attaches the
// access proof for the current epoch.
func SealGroupPayload(
	index int,
	prevHash string,
	payload *DecryptedGroupPayload,
	groupKey []byte,
	groupPublicKey bbs.GroupPublicKey,
	credential *bbs.MemberCredential,
	epochKey *accessproof.EpochAccessKey,
) (*GroupEntryWire, error) {
	plaintextJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("chain: seal group payload: marshal: %w", err)
	}

	ciphertext, err := encryptGroupPayload(groupKey, plaintextJSON)
	if err != nil {
		return nil, fmt.Errorf("chain: seal group payload: %w", err)
	}

	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("chain: seal group payload: nonce: %w", err)
	}
	nonce := hexcodec.EncodeHex(nonceBytes)

	canonical := CanonicalString(index, prevHash, hexcodec.EncodeHex(ciphertext), nonce)
	hash := EntryHash(canonical)

	sig, err := credential.Sign(groupPublicKey, hash)
	if err != nil {
		return nil, fmt.Errorf("chain: seal group payload: bbs sign: %w", err)
	}

	proof := accessproof.AccessProof(epochKey, hash)

	return &GroupEntryWire{
		Index:          index,
		PrevHash:       prevHash,
		Ciphertext:     ciphertext,
		Nonce:          nonce,
		Hash:           hash,
		GroupSignature: sig,
		AccessProof:    proof,
		CreatedAt:      time.Now().UnixMilli(),
	}, nil
}

// ValidateGroupEntry validates e against the local head, the stored
// group public key, and the current epoch's keys: recompute the hash,
// verify the BBS+ signature over it, decrypt the payload, verify the
// access proof, and bind the payload's claimed epoch to the access key's.
// An epoch-advancing system op's transition proof is NOT checked here —
// the incoming epoch's access key only exists once the caller has applied
// the op's handshake, so that check belongs to whoever adopts the key.
func ValidateGroupEntry(
	e *GroupEntryWire,
	head *Head,
	groupPublicKey bbs.GroupPublicKey,
	groupKey []byte,
	epochKey *accessproof.EpochAccessKey,
) (*DecryptedGroupPayload, error) {
	if err := ValidateLinkage(e.Index, e.PrevHash, head); err != nil {
		return nil, err
	}

	canonical := CanonicalString(e.Index, e.PrevHash, hexcodec.EncodeHex(e.Ciphertext), e.Nonce)
	if EntryHash(canonical) != e.Hash {
		return nil, ErrInvalidHash
	}

	if err := bbs.Verify(groupPublicKey, e.Hash, e.GroupSignature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGroupSignature, err)
	}

	plaintextJSON, err := decryptGroupPayload(groupKey, e.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("chain: validate group entry: decrypt: %w", err)
	}
	var payload DecryptedGroupPayload
	if err := json.Unmarshal(plaintextJSON, &payload); err != nil {
		return nil, fmt.Errorf("chain: validate group entry: unmarshal payload: %w", err)
	}

	if err := accessproof.VerifyAccessProof(epochKey, e.Hash, e.AccessProof); err != nil {
		return nil, ErrInvalidAccessProof
	}
	if payload.Epoch != epochKey.Epoch {
		return nil, ErrEpochMismatch
	}

	if !identity.Verify([]byte(payload.Content), payload.SenderSignature, payload.SenderAddress) {
		return nil, ErrInvalidSignature
	}

	return &payload, nil
}

const groupPayloadIVLen = 12
const groupPayloadTagLen = 16

func encryptGroupPayload(groupKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(groupKey)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, groupPayloadTagLen)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}
	iv := make([]byte, groupPayloadIVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-groupPayloadTagLen]
	tag := sealed[len(sealed)-groupPayloadTagLen:]

	out := make([]byte, 0, groupPayloadIVLen+groupPayloadTagLen+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

func decryptGroupPayload(groupKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < groupPayloadIVLen+groupPayloadTagLen {
		return nil, fmt.Errorf("ciphertext too short")
	}
	iv := ciphertext[:groupPayloadIVLen]
	tag := ciphertext[groupPayloadIVLen : groupPayloadIVLen+groupPayloadTagLen]
	ct := ciphertext[groupPayloadIVLen+groupPayloadTagLen:]

	block, err := aes.NewCipher(groupKey)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, groupPayloadTagLen)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}
	sealed := append(append([]byte{}, ct...), tag...)
	return gcm.Open(nil, iv, sealed, nil)
}
