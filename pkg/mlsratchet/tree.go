// Copyright 2025 Certen Protocol
//
// MLS ratchet tree — left-balanced binary tree stored as a flat,
// heap-indexed array. Leaves sit at even indices, parents at odd
// indices. Texture (RWMutex-guarded struct, hex/JSON-friendly fields)
// follows the validator's Merkle tree package; the index arithmetic
// itself is the tree-math scheme this system's wire format requires.

package mlsratchet

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"github.com/certen/logchain/pkg/hexcodec"
)

var (
	// ErrOutOfBounds is returned by index operations with no valid result
	// (e.g. sibling of the root, direct path of an index beyond the tree).
	ErrOutOfBounds = errors.New("mlsratchet: index out of bounds")
	// ErrLeafBlank is returned when an operation targets an unpopulated leaf.
	ErrLeafBlank = errors.New("mlsratchet: leaf is blank")
)

// level returns the number of trailing one-bits of i. Leaves (even i) always
// have level 0.
func level(i int) int {
	if i&1 == 0 {
		return 0
	}
	l := 0
	for (i>>uint(l))&1 == 1 {
		l++
	}
	return l
}

// parentIndex returns the parent array index of i within a tree whose
// array length is size. Returns (0, false) if i is already the root of
// that tree (i == rootIndex, the only node whose computed parent falls
// outside the array).
func parentIndex(i, size int) (int, bool) {
	l := level(i)
	masked := (i >> uint(l+2)) << uint(l+2)
	p := masked + (1 << uint(l+1)) - 1
	if p == i || p >= size {
		return 0, false
	}
	return p, true
}

// leftChild returns the left child of inner node i (level(i) must be >= 1).
func leftChild(i int) int {
	l := level(i)
	if l == 0 {
		return i
	}
	return i - (1 << uint(l-1))
}

// rightChild returns the right child of inner node i (level(i) must be >= 1).
func rightChild(i int) int {
	l := level(i)
	if l == 0 {
		return i
	}
	return i + (1 << uint(l-1))
}

// siblingIndex returns the sibling of i within a tree of the given size.
func siblingIndex(i, size int) (int, bool) {
	l := level(i)
	s := i ^ (1 << uint(l+1))
	if s < 0 || s >= size {
		return 0, false
	}
	return s, true
}

// rootIndex returns the root array index for a tree with nLeaves leaves.
func rootIndex(nLeaves int) int {
	if nLeaves <= 1 {
		return 0
	}
	w := 1
	for w < nLeaves {
		w <<= 1
	}
	return w - 1
}

// treeSize returns the array length needed to hold nLeaves leaves.
func treeSize(nLeaves int) int {
	if nLeaves <= 0 {
		return 0
	}
	return 2*nLeaves - 1
}

// leafArrayIndex converts a leaf position p into its array index 2p.
func leafArrayIndex(p int) int {
	return 2 * p
}

// leafPosition converts an array index back to a leaf position. Only
// valid for even (leaf) indices.
func leafPosition(i int) int {
	return i / 2
}

// ParentSlot is an inner node: either blank (PublicKey == nil) or holding a
// public key plus the leaves that have not yet merged their own updates
// into it.
type ParentSlot struct {
	PublicKey      []byte
	UnmergedLeaves []int
}

// LeafSlot is a leaf node: either blank (PublicKey == nil) or holding a
// member's current node public key.
type LeafSlot struct {
	PublicKey []byte
}

// Tree is the flat, heap-indexed MLS ratchet tree.
type Tree struct {
	mu      sync.RWMutex
	nLeaves int
	leaves  map[int]*LeafSlot   // keyed by array index (even)
	parents map[int]*ParentSlot // keyed by array index (odd)
}

// NewTree creates an empty tree with room for a single blank leaf.
func NewTree() *Tree {
	return &Tree{
		nLeaves: 1,
		leaves:  map[int]*LeafSlot{0: {}},
		parents: map[int]*ParentSlot{},
	}
}

// Size returns the current array length (2*leaves - 1).
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return treeSize(t.nLeaves)
}

// LeafCount returns the number of leaf positions, populated or blank.
func (t *Tree) LeafCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nLeaves
}

// Root returns the array index of the tree root.
func (t *Tree) Root() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return rootIndex(t.nLeaves)
}

// LeafPublicKey returns the public key at leaf position p, or nil if blank.
func (t *Tree) LeafPublicKey(p int) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	slot := t.leaves[leafArrayIndex(p)]
	if slot == nil {
		return nil
	}
	return slot.PublicKey
}

// ParentPublicKey returns the public key at parent array index i, or nil
// if blank.
func (t *Tree) ParentPublicKey(i int) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	slot := t.parents[i]
	if slot == nil {
		return nil
	}
	return slot.PublicKey
}

// SetLeafPublicKey installs pub at leaf position p.
func (t *Tree) SetLeafPublicKey(p int, pub []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves[leafArrayIndex(p)] = &LeafSlot{PublicKey: pub}
}

// SetParentPublicKey installs pub at parent array index i, clearing its
// unmerged-leaves list.
func (t *Tree) SetParentPublicKey(i int, pub []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parents[i] = &ParentSlot{PublicKey: pub}
}

// BlankLeaf clears leaf position p.
func (t *Tree) BlankLeaf(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves[leafArrayIndex(p)] = &LeafSlot{}
}

// BlankParent clears parent array index i.
func (t *Tree) BlankParent(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parents[i] = &ParentSlot{}
}

// FirstBlankLeaf returns the leaf position of the first blank leaf, or -1
// if all current leaves are populated.
func (t *Tree) FirstBlankLeaf() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for p := 0; p < t.nLeaves; p++ {
		slot := t.leaves[leafArrayIndex(p)]
		if slot == nil || slot.PublicKey == nil {
			return p
		}
	}
	return -1
}

// GrowToNextSizeClass doubles the number of leaf slots, extending the
// array with blank leaves and parents.
func (t *Tree) GrowToNextSizeClass() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := nextPowerOfTwo(t.nLeaves + 1)
	t.nLeaves = next
	return next
}

// GrowTo repeatedly doubles the leaf count until it reaches at least n,
// used by a receiver applying an update-path message sent against a tree
// that grew (via an intervening Add) before it reached them.
func (t *Tree) GrowTo(n int) {
	for t.LeafCount() < n {
		t.GrowToNextSizeClass()
	}
}

func nextPowerOfTwo(n int) int {
	w := 1
	for w < n {
		w <<= 1
	}
	return w
}

// DirectPath returns the ancestors of leaf array index i, from the nearest
// parent up to and including the root, exclusive of i itself.
func (t *Tree) DirectPath(leafArrayIdx int) []int {
	t.mu.RLock()
	size := treeSize(t.nLeaves)
	t.mu.RUnlock()

	var path []int
	cur := leafArrayIdx
	for {
		p, ok := parentIndex(cur, size)
		if !ok {
			break
		}
		path = append(path, p)
		cur = p
	}
	return path
}

// Copath returns, for each step of DirectPath(leafArrayIdx), the sibling
// index at that step (the "copath").
func (t *Tree) Copath(leafArrayIdx int) []int {
	t.mu.RLock()
	size := treeSize(t.nLeaves)
	t.mu.RUnlock()

	var copath []int
	cur := leafArrayIdx
	for {
		s, ok := siblingIndex(cur, size)
		if !ok {
			break
		}
		copath = append(copath, s)
		p, ok := parentIndex(cur, size)
		if !ok {
			break
		}
		cur = p
	}
	return copath
}

// Resolution returns the array indices of the "live" nodes under i: if i
// is a populated leaf or parent, that's just {i}; if i is blank, it is the
// concatenation of the resolutions of its children (empty for a blank
// leaf).
func (t *Tree) Resolution(i int) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolutionLocked(i)
}

func (t *Tree) resolutionLocked(i int) []int {
	if i&1 == 0 {
		slot := t.leaves[i]
		if slot != nil && slot.PublicKey != nil {
			return []int{i}
		}
		return nil
	}
	slot := t.parents[i]
	if slot != nil && slot.PublicKey != nil {
		out := []int{i}
		for _, leafPos := range slot.UnmergedLeaves {
			out = append(out, leafArrayIndex(leafPos))
		}
		return out
	}
	var out []int
	out = append(out, t.resolutionLocked(leftChild(i))...)
	out = append(out, t.resolutionLocked(rightChild(i))...)
	return out
}

// PublicKeyAt returns the public key stored at array index i, regardless
// of whether it is a leaf or parent slot.
func (t *Tree) PublicKeyAt(i int) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i&1 == 0 {
		if slot := t.leaves[i]; slot != nil {
			return slot.PublicKey
		}
		return nil
	}
	if slot := t.parents[i]; slot != nil {
		return slot.PublicKey
	}
	return nil
}

// BlankLeafAndDeadAncestors clears leaf position p and then every
// ancestor whose children are both blank, walking up to the root. Both
// the member issuing a Remove and every member processing one run this,
// so sender and receivers agree on which parents are blank before the
// accompanying path update is derived.
func (t *Tree) BlankLeafAndDeadAncestors(p int) {
	t.BlankLeaf(p)
	cur := leafArrayIndex(p)
	for {
		size := t.Size()
		parent, ok := parentIndex(cur, size)
		if !ok {
			break
		}
		if t.PublicKeyAt(leftChild(parent)) == nil && t.PublicKeyAt(rightChild(parent)) == nil {
			t.BlankParent(parent)
		}
		cur = parent
	}
}

// AddUnmergedLeaf records that leafPos has not yet merged its update into
// parent array index i.
func (t *Tree) AddUnmergedLeaf(i, leafPos int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.parents[i]
	if slot == nil {
		slot = &ParentSlot{}
		t.parents[i] = slot
	}
	slot.UnmergedLeaves = append(slot.UnmergedLeaves, leafPos)
}

// ClearUnmergedLeaves clears the unmerged-leaves list at parent index i.
func (t *Tree) ClearUnmergedLeaves(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot := t.parents[i]; slot != nil {
		slot.UnmergedLeaves = nil
	}
}

// treeWireFormat is the JSON shape a Tree serializes to for persistence
// in pkg/storage: public keys hex-encoded, blank leaves omitted from the
// leaf map; a blank parent slot is kept as an entry with no public key,
// so its unmerged-leaves list survives the round trip.
type treeWireFormat struct {
	NLeaves int                   `json:"nLeaves"`
	Leaves  map[string]string     `json:"leaves"`  // array index -> hex public key
	Parents map[string]parentWire `json:"parents"` // array index -> {hex public key, unmerged leaves}
}

type parentWire struct {
	PublicKey      string `json:"publicKey,omitempty"`
	UnmergedLeaves []int  `json:"unmergedLeaves,omitempty"`
}

// MarshalJSON serializes the tree's blank-aware leaf/parent maps so it can
// be stored by pkg/storage as part of an MLS group state record.
func (t *Tree) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	wire := treeWireFormat{
		NLeaves: t.nLeaves,
		Leaves:  map[string]string{},
		Parents: map[string]parentWire{},
	}
	for idx, slot := range t.leaves {
		if slot == nil || slot.PublicKey == nil {
			continue
		}
		wire.Leaves[itoa(idx)] = hexEncode(slot.PublicKey)
	}
	for idx, slot := range t.parents {
		if slot == nil {
			continue
		}
		wire.Parents[itoa(idx)] = parentWire{
			PublicKey:      hexEncode(slot.PublicKey),
			UnmergedLeaves: slot.UnmergedLeaves,
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON restores a tree previously serialized by MarshalJSON.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var wire treeWireFormat
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nLeaves = wire.NLeaves
	t.leaves = map[int]*LeafSlot{}
	t.parents = map[int]*ParentSlot{}

	for idxStr, hexPub := range wire.Leaves {
		idx, err := atoi(idxStr)
		if err != nil {
			return err
		}
		pub, err := hexDecode(hexPub)
		if err != nil {
			return err
		}
		t.leaves[idx] = &LeafSlot{PublicKey: pub}
	}
	for idxStr, pw := range wire.Parents {
		idx, err := atoi(idxStr)
		if err != nil {
			return err
		}
		var pub []byte
		if pw.PublicKey != "" {
			decoded, err := hexDecode(pw.PublicKey)
			if err != nil {
				return err
			}
			pub = decoded
		}
		t.parents[idx] = &ParentSlot{PublicKey: pub, UnmergedLeaves: pw.UnmergedLeaves}
	}
	return nil
}

func itoa(i int) string          { return strconv.Itoa(i) }
func atoi(s string) (int, error) { return strconv.Atoi(s) }

func hexEncode(b []byte) string          { return hexcodec.EncodeHex(b) }
func hexDecode(s string) ([]byte, error) { return hexcodec.ParseHex(s) }
