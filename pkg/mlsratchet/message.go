// Copyright 2025 Certen Protocol
//
// MLS application messages — AES-256-GCM framing over the current group
// key, epoch-gated on both sides.

package mlsratchet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	appMessageIVLen  = 12
	appMessageTagLen = 16
)

// ErrEpochMismatch is returned when an application message's epoch does
// not match the local group epoch.
var ErrEpochMismatch = errors.New("mlsratchet: application message epoch mismatch")

// ApplicationMessage is an encrypted, epoch-bound group message.
type ApplicationMessage struct {
	Type       string `json:"type"`
	Epoch      int    `json:"epoch"`
	Ciphertext []byte `json:"ciphertext"` // IV12 || TAG16 || CT
}

// Encrypt seals plaintext under the current group key, binding it to the
// current epoch.
func (s *State) Encrypt(plaintext []byte) (*ApplicationMessage, error) {
	block, err := aes.NewCipher(s.GroupKey)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: encrypt: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, appMessageTagLen)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: encrypt: %w", err)
	}
	iv := make([]byte, appMessageIVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("mlsratchet: encrypt: iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-appMessageTagLen]
	tag := sealed[len(sealed)-appMessageTagLen:]

	out := make([]byte, 0, appMessageIVLen+appMessageTagLen+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)

	return &ApplicationMessage{Type: MessageTypeApplication, Epoch: s.Epoch, Ciphertext: out}, nil
}

// Decrypt opens msg against the current group key. Fails with
// ErrEpochMismatch if msg was not encrypted under the local epoch.
func (s *State) Decrypt(msg *ApplicationMessage) ([]byte, error) {
	if msg.Epoch != s.Epoch {
		return nil, ErrEpochMismatch
	}
	if len(msg.Ciphertext) < appMessageIVLen+appMessageTagLen {
		return nil, fmt.Errorf("mlsratchet: decrypt: message too short")
	}

	iv := msg.Ciphertext[:appMessageIVLen]
	tag := msg.Ciphertext[appMessageIVLen : appMessageIVLen+appMessageTagLen]
	ct := msg.Ciphertext[appMessageIVLen+appMessageTagLen:]

	block, err := aes.NewCipher(s.GroupKey)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: decrypt: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, appMessageTagLen)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: decrypt: %w", err)
	}

	sealed := append(append([]byte{}, ct...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: decrypt: auth failed: %w", err)
	}
	return plaintext, nil
}
