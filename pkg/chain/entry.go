// Copyright 2025 Certen Protocol
//
// Chain core — canonical hash formatting, genesis anchoring, and the
// link/gap/conflict validation a received entry undergoes against the
// local chain head.

package chain

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/certen/logchain/pkg/hexcodec"
)

// Sentinel errors surfaced while validating a received entry.
var (
	// ErrInvalidHash is returned when a recomputed entry hash disagrees
	// with the claimed one.
	ErrInvalidHash = errors.New("chain: invalid hash")
	// ErrInvalidGenesisPrevHash is returned when a genesis entry's
	// prevHash is not the all-zero genesis hash.
	ErrInvalidGenesisPrevHash = errors.New("chain: genesis entry must chain from the genesis hash")
	// ErrBrokenLink is the kind matched by errors.Is for a
	// BrokenLinkError.
	ErrBrokenLink = errors.New("chain: entry does not chain from the local head")
	// ErrGap is returned when a received entry's index is more than one
	// past the local head, requiring a backfill.
	ErrGap = errors.New("chain: gap detected, backfill required")
	// ErrDuplicate is returned for an entry at or before the local head's
	// index — it is ignored, not an error condition callers need to act on,
	// but is surfaced so callers can distinguish it from a real failure.
	ErrDuplicate = errors.New("chain: duplicate or out-of-order entry")
	// ErrInvalidSignature is returned when a personal entry's signature
	// does not recover to the claimed owner address.
	ErrInvalidSignature = errors.New("chain: invalid signature")
)

// GenesisHash is the all-zero 64-hex-character prevHash of an index-0 entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CanonicalString builds the exact string a chain entry's hash and
// signature are computed over: "{index}:{prevHash}:{payload}:{nonce}".
// payload is the plaintext content for a personal entry or the ciphertext
// for a group entry.
func CanonicalString(index int, prevHash, payload, nonce string) string {
	return fmt.Sprintf("%d:%s:%s:%s", index, prevHash, payload, nonce)
}

// EntryHash returns the lowercase-hex SHA-256 of canonical. Entry hashes
// use SHA-256, not the Keccak-256 that EIP-55/EIP-191 are built on.
func EntryHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hexcodec.EncodeHex(sum[:])
}

// Head is the minimal view of the local chain's tip needed to validate an
// incoming entry.
type Head struct {
	Index int
	Hash  string
}

// Linkage classifies a received entry's index relationship to the local
// head, before any cryptographic checks are performed.
type Linkage int

const (
	// LinkageGenesis is the first entry in the chain (index 0).
	LinkageGenesis Linkage = iota
	// LinkageNext is the entry immediately following the local head.
	LinkageNext
	// LinkageDuplicate is an entry at or before the local head's index.
	LinkageDuplicate
	// LinkageGap is an entry more than one index ahead of the local head.
	LinkageGap
)

// ClassifyLinkage determines how a received entry's index relates to head.
func ClassifyLinkage(entryIndex int, head *Head) Linkage {
	switch {
	case entryIndex == 0:
		return LinkageGenesis
	case head != nil && entryIndex == head.Index+1:
		return LinkageNext
	case head != nil && entryIndex <= head.Index:
		return LinkageDuplicate
	default:
		return LinkageGap
	}
}

// BrokenLinkError reports a consecutive entry whose prevHash does not
// equal the local head's hash. It matches ErrBrokenLink under errors.Is.
type BrokenLinkError struct {
	Expected string
	Got      string
}

func (e *BrokenLinkError) Error() string {
	return fmt.Sprintf("chain: entry does not chain from the local head: expected prevHash %s, got %s", e.Expected, e.Got)
}

func (e *BrokenLinkError) Is(target error) bool {
	return target == ErrBrokenLink
}

// ValidateLinkage checks a received entry's (index, prevHash) against the
// local head, returning a distinct error per failure mode.
func ValidateLinkage(entryIndex int, entryPrevHash string, head *Head) error {
	switch ClassifyLinkage(entryIndex, head) {
	case LinkageGenesis:
		if entryPrevHash != GenesisHash {
			return ErrInvalidGenesisPrevHash
		}
		return nil
	case LinkageNext:
		if entryPrevHash != head.Hash {
			return &BrokenLinkError{Expected: head.Hash, Got: entryPrevHash}
		}
		return nil
	case LinkageDuplicate:
		return ErrDuplicate
	default:
		return ErrGap
	}
}

// ConflictDetected reports a local unsubmitted appendable entry sharing an
// index with a different entry the server already holds.
type ConflictDetected struct {
	ServerHead Head
}

func (e *ConflictDetected) Error() string {
	return fmt.Sprintf("chain: conflict detected at server head index %d hash %s", e.ServerHead.Index, e.ServerHead.Hash)
}

// DetectConflict reports whether a locally pending entry at localIndex
// with hash localHash conflicts with the server's entry at the same
// index.
func DetectConflict(localIndex int, localHash string, serverHead Head) error {
	if serverHead.Index == localIndex && serverHead.Hash != localHash {
		return &ConflictDetected{ServerHead: serverHead}
	}
	return nil
}
