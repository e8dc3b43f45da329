// Copyright 2025 Certen Protocol
//
// Epoch access proofs — an HKDF-derived per-epoch access key and
// HMAC-SHA256 proofs binding an entry hash (or an epoch transition) to
// it, so a server that never sees group plaintext can still gate reads
// and verify rekeying without learning the group key itself.

package accessproof

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Sentinel errors for access-proof verification failures.
var (
	// ErrInvalidAccessProof is returned when an access proof does not match
	// the expected epoch key.
	ErrInvalidAccessProof = errors.New("accessproof: invalid access proof")
	// ErrInvalidTransitionProof is returned when a transition proof does not
	// bind the claimed old and new epoch keys.
	ErrInvalidTransitionProof = errors.New("accessproof: invalid transition proof")
)

const accessKeyInfoLabel = "server-access"

// EpochAccessKey is the per-epoch symmetric key used to compute access and
// transition proofs.
type EpochAccessKey struct {
	Key   []byte
	Epoch int
}

// DeriveEpochAccessKey computes
// HKDF-SHA256(IKM = groupKey || "server-access" || groupId || u32_le(epoch),
// salt = empty, info = empty, L = 32).
func DeriveEpochAccessKey(groupKey, groupID []byte, epoch int) (*EpochAccessKey, error) {
	ikm := make([]byte, 0, len(groupKey)+len(accessKeyInfoLabel)+len(groupID)+4)
	ikm = append(ikm, groupKey...)
	ikm = append(ikm, []byte(accessKeyInfoLabel)...)
	ikm = append(ikm, groupID...)
	var epochBuf [4]byte
	binary.LittleEndian.PutUint32(epochBuf[:], uint32(epoch))
	ikm = append(ikm, epochBuf[:]...)

	reader := hkdf.New(sha256.New, ikm, nil, nil)
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("accessproof: derive epoch key: %w", err)
	}
	return &EpochAccessKey{Key: key, Epoch: epoch}, nil
}

// AccessProof computes HMAC-SHA256(accessKey, utf8(entryHash)) over an
// entry's canonical hash string.
func AccessProof(accessKey *EpochAccessKey, entryHash string) []byte {
	mac := hmac.New(sha256.New, accessKey.Key)
	mac.Write([]byte(entryHash))
	return mac.Sum(nil)
}

// VerifyAccessProof recomputes the access proof for entryHash under
// accessKey and compares it against proof in constant time.
func VerifyAccessProof(accessKey *EpochAccessKey, entryHash string, proof []byte) error {
	want := AccessProof(accessKey, entryHash)
	if !hmac.Equal(want, proof) {
		return ErrInvalidAccessProof
	}
	return nil
}

// TransitionProof computes HMAC-SHA256(accessKey_i.Key, accessKey_{i+1}.Key),
// letting a server that stores only accessKey_i verify a rekey without ever
// learning the group key.
func TransitionProof(from, to *EpochAccessKey) []byte {
	mac := hmac.New(sha256.New, from.Key)
	mac.Write(to.Key)
	return mac.Sum(nil)
}

// VerifyTransitionProof recomputes the transition proof from the server's
// stored accessKeyFrom and a candidate accessKeyTo, comparing it against proof.
func VerifyTransitionProof(accessKeyFrom, accessKeyTo *EpochAccessKey, proof []byte) error {
	want := TransitionProof(accessKeyFrom, accessKeyTo)
	if !hmac.Equal(want, proof) {
		return ErrInvalidTransitionProof
	}
	return nil
}
