// Copyright 2025 Certen Protocol
//
// MLS ratchet group state — HKDF-labeled key schedule, path updates, and
// membership operations (add/remove/self-update) layered on top of the
// tree index math in tree.go.

package mlsratchet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/certen/logchain/pkg/identity"
)

var (
	// ErrInvalidEpoch is returned when a received message's epoch does not
	// immediately follow the local epoch.
	ErrInvalidEpoch = errors.New("mlsratchet: invalid epoch")
	// ErrRemoveSelf is returned when a member attempts to remove themselves.
	ErrRemoveSelf = errors.New("mlsratchet: cannot remove self")
	// ErrNoPathSecretForMember is returned when an update-path message
	// carries no decryptable path secret for the local member.
	ErrNoPathSecretForMember = errors.New("mlsratchet: no path secret addressed to this member")
	// ErrWelcomeEnvelopeShort is returned when a welcome envelope is too
	// short to contain an ephemeral public key, IV, and tag.
	ErrWelcomeEnvelopeShort = errors.New("mlsratchet: welcome envelope too short")
)

const (
	labelNodeKey        = "mls-node-key"
	labelNodePrivateKey = "mls-node-private-key"
	labelGroupKey       = "mls-group-key"
	labelPathSecret     = "mls-path-secret"
	labelWelcomeKey     = "mls-welcome-key"
)

func hkdfDerive(secret []byte, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("mlsratchet: hkdf: %w", err)
	}
	return out, nil
}

func pathSecretLabel(nodeIndex int) []byte {
	label := make([]byte, len(labelPathSecret)+4)
	copy(label, labelPathSecret)
	binary.LittleEndian.PutUint32(label[len(labelPathSecret):], uint32(nodeIndex))
	return label
}

func welcomeKeyLabel(newMemberPub65 []byte) []byte {
	label := make([]byte, len(labelWelcomeKey)+len(newMemberPub65))
	copy(label, labelWelcomeKey)
	copy(label[len(labelWelcomeKey):], newMemberPub65)
	return label
}

// EncryptedPathSecret is a path secret at one ancestor level, ECIES-encrypted
// to one member of the copath sibling's resolution.
type EncryptedPathSecret struct {
	RecipientPublicKey []byte `json:"recipientPublicKey"`
	Envelope           string `json:"envelope"`
}

// UpdatePathNode is one step of an update-path message: the new public key
// installed at an ancestor, and the encrypted path secrets needed by
// members who cannot derive it via their own ECDH chain.
type UpdatePathNode struct {
	AncestorIndex  int                   `json:"ancestorIndex"`
	NewPublicKey   []byte                `json:"newPublicKey"`
	PathSecretCopy []EncryptedPathSecret `json:"pathSecretCopy,omitempty"`
}

// UpdatePathMessage is the distribution artifact of a path update: the
// sender's new leaf key plus one UpdatePathNode per ancestor. LeafCount
// records the sender's tree size at send time, so a receiver whose tree
// has not yet observed an intervening Add (which may have grown the tree
// to the next size class) can grow to match before replaying the sender's
// derivation.
type UpdatePathMessage struct {
	SenderLeafIndex int              `json:"senderLeafIndex"`
	NewLeafKey      []byte           `json:"newLeafKey"`
	Nodes           []UpdatePathNode `json:"nodes"`
	Epoch           int              `json:"epoch"`
	LeafCount       int              `json:"leafCount"`
}

// State is a participant's view of one MLS group.
type State struct {
	GroupID      []byte
	Epoch        int
	Tree         *Tree
	MyLeafIndex  int
	MyPrivateKey []byte // 32-byte scalar for the current leaf node
	PathSecrets  [][]byte
	GroupKey     []byte
}

// NewGroup creates a brand-new single-member group. The creator occupies
// leaf position 0.
func NewGroup(groupID []byte) (*State, error) {
	leafSecret := make([]byte, 32)
	if _, err := rand.Read(leafSecret); err != nil {
		return nil, fmt.Errorf("mlsratchet: new group: %w", err)
	}
	priv, err := identity.PrivateKeyFromScalar(leafSecret)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: new group: derive leaf key: %w", err)
	}

	tree := NewTree()
	tree.SetLeafPublicKey(0, priv.PublicKey().Bytes())

	groupKey, err := hkdfDerive(leafSecret, []byte(labelGroupKey), 32)
	if err != nil {
		return nil, err
	}

	return &State{
		GroupID:      groupID,
		Epoch:        0,
		Tree:         tree,
		MyLeafIndex:  0,
		MyPrivateKey: leafSecret,
		PathSecrets:  [][]byte{leafSecret},
		GroupKey:     groupKey,
	}, nil
}

// updatePathFrom runs the path-update derivation along the signer's
// direct path starting at ancestor step startStep, with startSecret as
// the current secret entering that step. Node private keys derive
// deterministically from the entering secret; no randomness beyond the
// signer's single fresh leaf secret is ever sampled, so any holder of an
// intermediate secret replays the identical chain. When distribute is
// set, the resulting secret of each step is additionally ECIES-encrypted
// to every member of the copath sibling's resolution — the copy that
// lets those members resume this same derivation from their step.
func (s *State) updatePathFrom(direct []int, copath []int, startStep int, startSecret []byte, pathSecrets [][]byte, distribute bool) ([][]byte, []byte, []UpdatePathNode, error) {
	current := startSecret
	var nodes []UpdatePathNode

	for k := startStep; k < len(direct); k++ {
		ancestor := direct[k]

		nodePrivBytes, err := hkdfDerive(current, []byte(labelNodePrivateKey), 32)
		if err != nil {
			return nil, nil, nil, err
		}
		nodePriv, err := identity.PrivateKeyFromScalar(nodePrivBytes)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("mlsratchet: derive node key: %w", err)
		}
		nodePub := nodePriv.PublicKey().Bytes()

		var sibPub []byte
		if k < len(copath) {
			sibPub = s.Tree.PublicKeyAt(copath[k])
		}

		var next []byte
		if sibPub != nil {
			sibPubKey, err := identity.PublicKeyFromBytes(sibPub)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("mlsratchet: parse sibling key: %w", err)
			}
			ecdhPoint, err := identity.ECDHSharedPoint(nodePriv, sibPubKey)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("mlsratchet: ecdh: %w", err)
			}
			next, err = hkdfDerive(ecdhPoint, []byte(labelNodeKey), 32)
			if err != nil {
				return nil, nil, nil, err
			}
		} else {
			next, err = hkdfDerive(current, pathSecretLabel(ancestor), 32)
			if err != nil {
				return nil, nil, nil, err
			}
		}

		pathSecrets = append(pathSecrets, next)

		var copySecrets []EncryptedPathSecret
		if distribute && k < len(copath) {
			for _, recipientIdx := range s.Tree.Resolution(copath[k]) {
				recipientPub := s.Tree.PublicKeyAt(recipientIdx)
				if recipientPub == nil {
					continue
				}
				recipientKey, err := identity.PublicKeyFromBytes(recipientPub)
				if err != nil {
					continue
				}
				envelope, err := identity.EncryptECIES(recipientKey, next)
				if err != nil {
					return nil, nil, nil, fmt.Errorf("mlsratchet: encrypt path secret: %w", err)
				}
				copySecrets = append(copySecrets, EncryptedPathSecret{
					RecipientPublicKey: recipientPub,
					Envelope:           envelope,
				})
			}
		}

		nodes = append(nodes, UpdatePathNode{
			AncestorIndex:  ancestor,
			NewPublicKey:   nodePub,
			PathSecretCopy: copySecrets,
		})

		current = next
	}

	groupKey, err := hkdfDerive(current, []byte(labelGroupKey), 32)
	if err != nil {
		return nil, nil, nil, err
	}

	return pathSecrets, groupKey, nodes, nil
}

// Clone returns a deep copy of the state, so a caller can trial-apply a
// handshake and discard the result if a later check fails.
func (s *State) Clone() (*State, error) {
	treeJSON, err := s.Tree.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: clone: %w", err)
	}
	tree := &Tree{}
	if err := tree.UnmarshalJSON(treeJSON); err != nil {
		return nil, fmt.Errorf("mlsratchet: clone: %w", err)
	}
	pathSecrets := make([][]byte, len(s.PathSecrets))
	for i, ps := range s.PathSecrets {
		pathSecrets[i] = append([]byte{}, ps...)
	}
	return &State{
		GroupID:      append([]byte{}, s.GroupID...),
		Epoch:        s.Epoch,
		Tree:         tree,
		MyLeafIndex:  s.MyLeafIndex,
		MyPrivateKey: append([]byte{}, s.MyPrivateKey...),
		PathSecrets:  pathSecrets,
		GroupKey:     append([]byte{}, s.GroupKey...),
	}, nil
}

// UpdatePath performs a fresh path update from this participant's own
// leaf, installing the new public keys locally and returning the
// distribution message for other members.
func (s *State) UpdatePath() (*UpdatePathMessage, error) {
	leafSecret := make([]byte, 32)
	if _, err := rand.Read(leafSecret); err != nil {
		return nil, fmt.Errorf("mlsratchet: update path: %w", err)
	}
	leafPriv, err := identity.PrivateKeyFromScalar(leafSecret)
	if err != nil {
		return nil, err
	}
	newLeafPub := leafPriv.PublicKey().Bytes()

	leafArrIdx := leafArrayIndex(s.MyLeafIndex)
	direct := s.Tree.DirectPath(leafArrIdx)
	copath := s.Tree.Copath(leafArrIdx)

	pathSecrets, groupKey, nodes, err := s.updatePathFrom(direct, copath, 0, leafSecret, [][]byte{leafSecret}, true)
	if err != nil {
		return nil, err
	}

	s.Tree.SetLeafPublicKey(s.MyLeafIndex, newLeafPub)
	for _, n := range nodes {
		s.Tree.SetParentPublicKey(n.AncestorIndex, n.NewPublicKey)
	}

	s.MyPrivateKey = leafSecret
	s.PathSecrets = pathSecrets
	s.GroupKey = groupKey
	s.Epoch++

	return &UpdatePathMessage{
		SenderLeafIndex: s.MyLeafIndex,
		NewLeafKey:      newLeafPub,
		Nodes:           nodes,
		Epoch:           s.Epoch,
		LeafCount:       s.Tree.LeafCount(),
	}, nil
}

// ProcessUpdatePath applies a received update-path message: installs the
// sender's new public keys, locates the path secret encrypted to a key
// this participant holds, and replays the sender's own derivation chain
// from that step onward — along the sender's direct path, not the
// receiver's. Fresh randomness is never sampled here: re-sampling (or
// walking the receiver's own copath) would diverge every receiver's view
// of the group key.
func (s *State) ProcessUpdatePath(msg *UpdatePathMessage) error {
	if msg.Epoch != s.Epoch+1 {
		return ErrInvalidEpoch
	}

	if msg.LeafCount > s.Tree.LeafCount() {
		s.Tree.GrowTo(msg.LeafCount)
	}

	s.Tree.SetLeafPublicKey(msg.SenderLeafIndex, msg.NewLeafKey)
	for _, n := range msg.Nodes {
		s.Tree.SetParentPublicKey(n.AncestorIndex, n.NewPublicKey)
		s.Tree.ClearUnmergedLeaves(n.AncestorIndex)
	}

	if msg.SenderLeafIndex == s.MyLeafIndex {
		s.Epoch = msg.Epoch
		return nil
	}

	myPriv, err := identity.PrivateKeyFromScalar(s.MyPrivateKey)
	if err != nil {
		return fmt.Errorf("mlsratchet: parse local key: %w", err)
	}
	myPub := myPriv.PublicKey().Bytes()

	senderLeafArrIdx := leafArrayIndex(msg.SenderLeafIndex)
	direct := s.Tree.DirectPath(senderLeafArrIdx)
	copath := s.Tree.Copath(senderLeafArrIdx)

	for k, n := range msg.Nodes {
		var decrypted []byte
		for _, cp := range n.PathSecretCopy {
			if bytesEqual(cp.RecipientPublicKey, myPub) {
				plaintext, err := identity.DecryptECIES(myPriv, cp.Envelope)
				if err != nil {
					return fmt.Errorf("mlsratchet: decrypt path secret: %w", err)
				}
				decrypted = plaintext
				break
			}
		}
		if decrypted == nil {
			continue
		}

		// decrypted is the resulting secret of the sender's step k, so
		// the replay resumes at step k+1 with it as the entering secret.
		pathSecrets, groupKey, _, err := s.updatePathFrom(direct, copath, k+1, decrypted, [][]byte{decrypted}, false)
		if err != nil {
			return err
		}
		s.PathSecrets = pathSecrets
		s.GroupKey = groupKey
		s.Epoch = msg.Epoch
		return nil
	}

	return ErrNoPathSecretForMember
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Welcome carries everything a newly added member needs to join a group,
// short of the leaf private key they already hold out of band.
// GroupID, Epoch, and LeafIndex are plain routing metadata (which group,
// which epoch snapshot, which leaf); the tree itself — the only part a
// bystander could use to learn the group's membership shape — lives only
// inside Envelope, which is encrypted under a key only the new member can
// derive (see welcomeKeyLabel). A joining member still needs the
// accompanying UpdatePathMessage and ProcessUpdatePath to converge on the
// post-add group key, exactly like any existing member receiving an Add.
type Welcome struct {
	Type      string `json:"type"`
	GroupID   []byte `json:"groupId"`
	Epoch     int    `json:"epoch"`
	LeafIndex int    `json:"leafIndex"`
	Envelope  string `json:"envelope"`
}

// Add allocates the first blank leaf (growing the tree if necessary),
// installs newMemberPub65 there, performs a path update, and returns both
// the resulting distribution message and the welcome for the new member.
func (s *State) Add(newMemberPub65 []byte) (*UpdatePathMessage, *Welcome, error) {
	leafPos := s.Tree.FirstBlankLeaf()
	if leafPos == -1 {
		s.Tree.GrowToNextSizeClass()
		leafPos = s.Tree.FirstBlankLeaf()
	}
	s.Tree.SetLeafPublicKey(leafPos, newMemberPub65)

	preUpdateEpoch := s.Epoch
	treeSnapshot, err := s.Tree.MarshalJSON()
	if err != nil {
		return nil, nil, fmt.Errorf("mlsratchet: add: snapshot tree: %w", err)
	}

	msg, err := s.UpdatePath()
	if err != nil {
		return nil, nil, err
	}

	payload := marshalWelcomePayload(s.GroupID, preUpdateEpoch, leafPos, treeSnapshot)
	envelope, err := encryptWelcome(newMemberPub65, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("mlsratchet: add: encrypt welcome: %w", err)
	}

	welcome := &Welcome{
		Type:      MessageTypeWelcome,
		GroupID:   s.GroupID,
		Epoch:     preUpdateEpoch,
		LeafIndex: leafPos,
		Envelope:  envelope,
	}

	return msg, welcome, nil
}

// JoinFromWelcome reconstructs a joining member's State from a Welcome and
// the leaf private key the member already holds out of band.
// The returned State reflects the group as of the
// epoch the Welcome was issued at, with no group key yet established; the
// caller completes the join the same way any existing member absorbs an
// Add, by applying the accompanying UpdatePathMessage via ProcessUpdatePath
// — at which point its copath-distributed path secret (addressed to this
// leaf's public key, just like any other recipient's) brings GroupKey and
// Epoch in line with every other member's.
func JoinFromWelcome(welcome *Welcome, myLeafPrivateKey []byte) (*State, error) {
	myPriv, err := identity.PrivateKeyFromScalar(myLeafPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: join from welcome: %w", err)
	}

	payload, err := decryptWelcome(myPriv, welcome.Envelope)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: join from welcome: decrypt: %w", err)
	}

	groupID, epoch, leafIndex, treeBytes, err := unmarshalWelcomePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: join from welcome: %w", err)
	}

	tree := &Tree{}
	if err := tree.UnmarshalJSON(treeBytes); err != nil {
		return nil, fmt.Errorf("mlsratchet: join from welcome: unmarshal tree: %w", err)
	}

	return &State{
		GroupID:      groupID,
		Epoch:        epoch,
		Tree:         tree,
		MyLeafIndex:  leafIndex,
		MyPrivateKey: append([]byte{}, myLeafPrivateKey...),
	}, nil
}

// Remove blanks the target leaf, blanks any ancestor whose children are
// both now blank, and performs a path update from the caller's own leaf.
func (s *State) Remove(leafPos int) (*UpdatePathMessage, error) {
	if leafPos == s.MyLeafIndex {
		return nil, ErrRemoveSelf
	}
	s.Tree.BlankLeafAndDeadAncestors(leafPos)
	return s.UpdatePath()
}

// Update performs a self path update with a fresh leaf key.
func (s *State) Update() (*UpdatePathMessage, error) {
	return s.UpdatePath()
}

// marshalWelcomePayload encodes the plaintext a Welcome's Envelope
// encrypts: the group ID, the epoch the snapshot was taken at, the new
// member's leaf position, and the ratchet tree itself (via Tree's own
// JSON wire format), length-prefixing every variable-width field.
func marshalWelcomePayload(groupID []byte, epoch, leafIndex int, treeBytes []byte) []byte {
	buf := make([]byte, 0, 4+len(groupID)+4+4+4+len(treeBytes))
	buf = appendLenPrefixed(buf, groupID)
	buf = appendU32(buf, uint32(epoch))
	buf = appendU32(buf, uint32(leafIndex))
	buf = appendLenPrefixed(buf, treeBytes)
	return buf
}

// unmarshalWelcomePayload reverses marshalWelcomePayload.
func unmarshalWelcomePayload(payload []byte) (groupID []byte, epoch, leafIndex int, treeBytes []byte, err error) {
	rest := payload

	groupID, rest, err = readLenPrefixed(rest)
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("mlsratchet: unmarshal welcome: group id: %w", err)
	}

	var epochU32, leafU32 uint32
	epochU32, rest, err = readU32(rest)
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("mlsratchet: unmarshal welcome: epoch: %w", err)
	}
	leafU32, rest, err = readU32(rest)
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("mlsratchet: unmarshal welcome: leaf index: %w", err)
	}

	treeBytes, _, err = readLenPrefixed(rest)
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("mlsratchet: unmarshal welcome: tree: %w", err)
	}

	return groupID, int(epochU32), int(leafU32), treeBytes, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendLenPrefixed(buf []byte, field []byte) []byte {
	buf = appendU32(buf, uint32(len(field)))
	return append(buf, field...)
}

func readU32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("buffer too short")
	}
	return binary.LittleEndian.Uint32(buf[:4]), buf[4:], nil
}

func readLenPrefixed(buf []byte) ([]byte, []byte, error) {
	n, rest, err := readU32(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, fmt.Errorf("buffer too short")
	}
	return rest[:n], rest[n:], nil
}

// encryptWelcome seals payload for the holder of newMemberPub65, deriving
// a one-time key from an ephemeral ECDH exchange via the welcome-key HKDF
// label rather than the general-purpose ECIES envelope — a Welcome's
// recipient is identified by a label-bound key schedule, not the
// eciesjs-compatible scheme pkg/identity pins for everything else. The
// envelope is ephPub65 || IV12 || TAG16 || CT, base64-encoded, matching
// this package's own ApplicationMessage framing.
func encryptWelcome(newMemberPub65 []byte, payload []byte) (string, error) {
	recipient, err := identity.PublicKeyFromBytes(newMemberPub65)
	if err != nil {
		return "", fmt.Errorf("mlsratchet: encrypt welcome: %w", err)
	}

	ephPriv, err := identity.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("mlsratchet: encrypt welcome: ephemeral key: %w", err)
	}
	ephPub65 := ephPriv.PublicKey().Bytes()

	sharedPoint, err := identity.ECDHSharedPoint(ephPriv, recipient)
	if err != nil {
		return "", fmt.Errorf("mlsratchet: encrypt welcome: ecdh: %w", err)
	}
	key, err := hkdfDerive(sharedPoint, welcomeKeyLabel(newMemberPub65), 32)
	if err != nil {
		return "", fmt.Errorf("mlsratchet: encrypt welcome: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("mlsratchet: encrypt welcome: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, appMessageTagLen)
	if err != nil {
		return "", fmt.Errorf("mlsratchet: encrypt welcome: %w", err)
	}
	iv := make([]byte, appMessageIVLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("mlsratchet: encrypt welcome: iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, payload, nil)
	ct := sealed[:len(sealed)-appMessageTagLen]
	tag := sealed[len(sealed)-appMessageTagLen:]

	envelope := make([]byte, 0, len(ephPub65)+appMessageIVLen+appMessageTagLen+len(ct))
	envelope = append(envelope, ephPub65...)
	envelope = append(envelope, iv...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ct...)

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// decryptWelcome reverses encryptWelcome using the recipient's leaf
// private key.
func decryptWelcome(myPriv *identity.PrivateKey, envelopeB64 string) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(envelopeB64)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: decrypt welcome: invalid base64: %w", err)
	}
	const ephPubLen = 65
	if len(envelope) < ephPubLen+appMessageIVLen+appMessageTagLen {
		return nil, ErrWelcomeEnvelopeShort
	}

	ephPub65 := envelope[:ephPubLen]
	iv := envelope[ephPubLen : ephPubLen+appMessageIVLen]
	tag := envelope[ephPubLen+appMessageIVLen : ephPubLen+appMessageIVLen+appMessageTagLen]
	ct := envelope[ephPubLen+appMessageIVLen+appMessageTagLen:]

	ephPub, err := identity.PublicKeyFromBytes(ephPub65)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: decrypt welcome: invalid ephemeral key: %w", err)
	}

	myPub65 := myPriv.PublicKey().Bytes()
	sharedPoint, err := identity.ECDHSharedPoint(myPriv, ephPub)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: decrypt welcome: ecdh: %w", err)
	}
	key, err := hkdfDerive(sharedPoint, welcomeKeyLabel(myPub65), 32)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: decrypt welcome: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: decrypt welcome: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, appMessageTagLen)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: decrypt welcome: %w", err)
	}

	sealed := append(append([]byte{}, ct...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("mlsratchet: decrypt welcome: auth failed: %w", err)
	}
	return plaintext, nil
}
