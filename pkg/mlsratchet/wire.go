// Copyright 2025 Certen Protocol
//
// Handshake wire messages — the typed envelopes a group's membership
// operations travel in. Every message carries a literal type
// discriminator; the union is flat rather than nested so one decode pass
// yields the whole message.

package mlsratchet

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message type discriminators.
const (
	MessageTypeWelcome     = "welcome"
	MessageTypeAdd         = "add"
	MessageTypeRemove      = "remove"
	MessageTypeUpdate      = "update"
	MessageTypeApplication = "application"
)

// ErrUnknownMessageType is returned when a handshake message's type tag
// is not one of add/remove/update.
var ErrUnknownMessageType = errors.New("mlsratchet: unknown handshake message type")

// HandshakeMessage is the flat tagged union of the three membership
// message kinds. Type selects which of the optional fields are
// meaningful: add populates NewLeafIndex and NewMemberPublicKey, remove
// populates RemovedLeafIndex, and all three carry the sender's
// UpdatePath.
type HandshakeMessage struct {
	Type               string             `json:"type"`
	NewLeafIndex       int                `json:"newLeafIndex,omitempty"`
	NewMemberPublicKey []byte             `json:"newMemberPublicKey,omitempty"`
	RemovedLeafIndex   int                `json:"removedLeafIndex,omitempty"`
	UpdatePath         *UpdatePathMessage `json:"updatePath"`
}

// NewAddMessage wraps an Add's update path with the new member's leaf
// position and public key, which receivers install before replaying the
// path.
func NewAddMessage(newLeafIndex int, newMemberPub65 []byte, updatePath *UpdatePathMessage) *HandshakeMessage {
	return &HandshakeMessage{
		Type:               MessageTypeAdd,
		NewLeafIndex:       newLeafIndex,
		NewMemberPublicKey: newMemberPub65,
		UpdatePath:         updatePath,
	}
}

// NewRemoveMessage wraps a Remove's update path with the evicted leaf
// position, which receivers blank before replaying the path.
func NewRemoveMessage(removedLeafIndex int, updatePath *UpdatePathMessage) *HandshakeMessage {
	return &HandshakeMessage{
		Type:             MessageTypeRemove,
		RemovedLeafIndex: removedLeafIndex,
		UpdatePath:       updatePath,
	}
}

// NewUpdateMessage wraps a self-update's update path.
func NewUpdateMessage(updatePath *UpdatePathMessage) *HandshakeMessage {
	return &HandshakeMessage{
		Type:       MessageTypeUpdate,
		UpdatePath: updatePath,
	}
}

// DecodeHandshake parses a handshake message and validates its type tag
// and update-path presence.
func DecodeHandshake(data []byte) (*HandshakeMessage, error) {
	var msg HandshakeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("mlsratchet: decode handshake: %w", err)
	}
	switch msg.Type {
	case MessageTypeAdd, MessageTypeRemove, MessageTypeUpdate:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
	if msg.UpdatePath == nil {
		return nil, fmt.Errorf("mlsratchet: decode handshake: missing update path")
	}
	return &msg, nil
}

// Encode serializes the message for transport.
func (m *HandshakeMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: encode handshake: %w", err)
	}
	return data, nil
}

// ProcessHandshake applies a received membership message: it prepares
// the tree for the kind-specific mutation (install the new leaf for an
// add, blank the evicted leaf for a remove), then replays the sender's
// path update via ProcessUpdatePath. The tree preparation mirrors what
// the sender did before deriving the path, so sender and receivers
// compute against the same tree shape.
func (s *State) ProcessHandshake(msg *HandshakeMessage) error {
	if msg.UpdatePath == nil {
		return fmt.Errorf("mlsratchet: process handshake: missing update path")
	}
	if msg.UpdatePath.Epoch != s.Epoch+1 {
		return ErrInvalidEpoch
	}

	switch msg.Type {
	case MessageTypeAdd:
		if msg.UpdatePath.LeafCount > s.Tree.LeafCount() {
			s.Tree.GrowTo(msg.UpdatePath.LeafCount)
		}
		s.Tree.SetLeafPublicKey(msg.NewLeafIndex, msg.NewMemberPublicKey)
	case MessageTypeRemove:
		if msg.RemovedLeafIndex == s.MyLeafIndex {
			return ErrNoPathSecretForMember
		}
		s.Tree.BlankLeafAndDeadAncestors(msg.RemovedLeafIndex)
	case MessageTypeUpdate:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}

	return s.ProcessUpdatePath(msg.UpdatePath)
}
