// Copyright 2025 Certen Protocol
//
// Storage backend — the abstract key-value persistence MLS group state,
// BBS+ credentials, and group public keys are delegated to. A narrow
// Backend interface (Get/Set/Delete/Iterate) is implemented by a
// cometbft-db KV engine or an optional Postgres table.

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/certen/logchain/pkg/bbs"
	"github.com/certen/logchain/pkg/blsprim"
	"github.com/certen/logchain/pkg/hexcodec"
	"github.com/certen/logchain/pkg/mlsratchet"
)

// Sentinel errors for storage operations; a typed-record miss surfaces
// one of these rather than (nil, nil).
var (
	ErrGroupStateNotFound      = errors.New("storage: group state not found")
	ErrMemberCredentialMissing = errors.New("storage: member credential not found")
	ErrGroupPublicKeyMissing   = errors.New("storage: group public key not found")
	ErrNotInitialized          = errors.New("storage: backend not initialized")
)

// Backend is the narrow byte-oriented interface a persistence engine must
// implement. A nil value from Get means "not present".
type Backend interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// IteratePrefix calls fn for every key beginning with prefix. fn
	// returning false stops iteration early.
	IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error
}

const (
	groupStatePrefix     = "mls:state:"
	memberCredPrefix     = "bbs:credential:"
	groupPublicKeyPrefix = "bbs:grouppubkey:"
)

// Store layers typed, JSON-serialized accessors for group state,
// member credentials, and group public keys over a Backend.
type Store struct {
	backend Backend
}

// New wraps backend in a Store.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// --- MLS group state -------------------------------------------------

// groupStateRecord is the on-disk shape of mlsratchet.State: byte slices
// are hex-encoded so the record round-trips through JSON cleanly.
type groupStateRecord struct {
	GroupID      string          `json:"groupId"`
	Epoch        int             `json:"epoch"`
	Tree         json.RawMessage `json:"tree"`
	MyLeafIndex  int             `json:"myLeafIndex"`
	MyPrivateKey string          `json:"myPrivateKey"`
	PathSecrets  []string        `json:"pathSecrets"`
	GroupKey     string          `json:"groupKey"`
}

// SaveGroupState persists state, keyed by its hex-encoded group ID.
func (s *Store) SaveGroupState(state *mlsratchet.State) error {
	if s.backend == nil {
		return ErrNotInitialized
	}
	treeJSON, err := state.Tree.MarshalJSON()
	if err != nil {
		return fmt.Errorf("storage: save group state: marshal tree: %w", err)
	}
	rec := groupStateRecord{
		GroupID:      hexEncode(state.GroupID),
		Epoch:        state.Epoch,
		Tree:         treeJSON,
		MyLeafIndex:  state.MyLeafIndex,
		MyPrivateKey: hexEncode(state.MyPrivateKey),
		PathSecrets:  hexEncodeAll(state.PathSecrets),
		GroupKey:     hexEncode(state.GroupKey),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: save group state: %w", err)
	}
	return s.backend.Set(groupStateKey(rec.GroupID), data)
}

// LoadGroupState reads back the group state for groupIDHex.
func (s *Store) LoadGroupState(groupIDHex string) (*mlsratchet.State, error) {
	if s.backend == nil {
		return nil, ErrNotInitialized
	}
	data, err := s.backend.Get(groupStateKey(groupIDHex))
	if err != nil {
		return nil, fmt.Errorf("storage: load group state: %w", err)
	}
	if data == nil {
		return nil, ErrGroupStateNotFound
	}
	var rec groupStateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("storage: load group state: unmarshal: %w", err)
	}
	tree := &mlsratchet.Tree{}
	if err := tree.UnmarshalJSON(rec.Tree); err != nil {
		return nil, fmt.Errorf("storage: load group state: unmarshal tree: %w", err)
	}
	groupID, err := hexDecode(rec.GroupID)
	if err != nil {
		return nil, fmt.Errorf("storage: load group state: groupId: %w", err)
	}
	privKey, err := hexDecode(rec.MyPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("storage: load group state: myPrivateKey: %w", err)
	}
	groupKey, err := hexDecode(rec.GroupKey)
	if err != nil {
		return nil, fmt.Errorf("storage: load group state: groupKey: %w", err)
	}
	pathSecrets, err := hexDecodeAll(rec.PathSecrets)
	if err != nil {
		return nil, fmt.Errorf("storage: load group state: pathSecrets: %w", err)
	}
	return &mlsratchet.State{
		GroupID:      groupID,
		Epoch:        rec.Epoch,
		Tree:         tree,
		MyLeafIndex:  rec.MyLeafIndex,
		MyPrivateKey: privKey,
		PathSecrets:  pathSecrets,
		GroupKey:     groupKey,
	}, nil
}

// DeleteGroupState removes a group's persisted state.
func (s *Store) DeleteGroupState(groupIDHex string) error {
	if s.backend == nil {
		return ErrNotInitialized
	}
	return s.backend.Delete(groupStateKey(groupIDHex))
}

// ListGroupIDs returns the hex group IDs of every persisted group state.
func (s *Store) ListGroupIDs() ([]string, error) {
	if s.backend == nil {
		return nil, ErrNotInitialized
	}
	var ids []string
	err := s.backend.IteratePrefix([]byte(groupStatePrefix), func(key, _ []byte) bool {
		ids = append(ids, strings.TrimPrefix(string(key), groupStatePrefix))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list group ids: %w", err)
	}
	return ids, nil
}

func groupStateKey(groupIDHex string) []byte {
	return []byte(groupStatePrefix + groupIDHex)
}

// --- BBS+ member credential --------------------------------------------

type memberCredentialRecord struct {
	X string `json:"x"`
	A string `json:"a"`
	E string `json:"e"`
	S string `json:"s"`
}

// SaveMemberCredential persists cred under groupIDHex.
func (s *Store) SaveMemberCredential(groupIDHex string, cred *bbs.MemberCredential) error {
	if s.backend == nil {
		return ErrNotInitialized
	}
	rec := memberCredentialRecord{
		X: hexEncode(cred.X.Bytes()),
		A: hexEncode(cred.A.Bytes()),
		E: hexEncode(cred.E.Bytes()),
		S: hexEncode(cred.S.Bytes()),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: save member credential: %w", err)
	}
	return s.backend.Set(memberCredKey(groupIDHex), data)
}

// LoadMemberCredential reads back the credential for groupIDHex.
func (s *Store) LoadMemberCredential(groupIDHex string) (*bbs.MemberCredential, error) {
	if s.backend == nil {
		return nil, ErrNotInitialized
	}
	data, err := s.backend.Get(memberCredKey(groupIDHex))
	if err != nil {
		return nil, fmt.Errorf("storage: load member credential: %w", err)
	}
	if data == nil {
		return nil, ErrMemberCredentialMissing
	}
	var rec memberCredentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("storage: load member credential: unmarshal: %w", err)
	}
	xBytes, err := hexDecode(rec.X)
	if err != nil {
		return nil, err
	}
	aBytes, err := hexDecode(rec.A)
	if err != nil {
		return nil, err
	}
	eBytes, err := hexDecode(rec.E)
	if err != nil {
		return nil, err
	}
	sBytes, err := hexDecode(rec.S)
	if err != nil {
		return nil, err
	}
	a, err := blsprim.G1FromBytes(aBytes)
	if err != nil {
		return nil, fmt.Errorf("storage: load member credential: A: %w", err)
	}
	return &bbs.MemberCredential{
		X: blsprim.FrFromBytes(xBytes),
		A: a,
		E: blsprim.FrFromBytes(eBytes),
		S: blsprim.FrFromBytes(sBytes),
	}, nil
}

// DeleteMemberCredential removes the persisted credential for groupIDHex.
func (s *Store) DeleteMemberCredential(groupIDHex string) error {
	if s.backend == nil {
		return ErrNotInitialized
	}
	return s.backend.Delete(memberCredKey(groupIDHex))
}

func memberCredKey(groupIDHex string) []byte {
	return []byte(memberCredPrefix + groupIDHex)
}

// --- BBS+ group public key -----------------------------------------

type groupPublicKeyRecord struct {
	W  string `json:"w"`
	H0 string `json:"h0"`
	H1 string `json:"h1"`
}

// SaveGroupPublicKey persists pk under groupIDHex.
func (s *Store) SaveGroupPublicKey(groupIDHex string, pk *bbs.GroupPublicKey) error {
	if s.backend == nil {
		return ErrNotInitialized
	}
	rec := groupPublicKeyRecord{
		W:  hexEncode(pk.W.Bytes()),
		H0: hexEncode(pk.H0.Bytes()),
		H1: hexEncode(pk.H1.Bytes()),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: save group public key: %w", err)
	}
	return s.backend.Set(groupPublicKeyKey(groupIDHex), data)
}

// LoadGroupPublicKey reads back the group public key for groupIDHex.
func (s *Store) LoadGroupPublicKey(groupIDHex string) (*bbs.GroupPublicKey, error) {
	if s.backend == nil {
		return nil, ErrNotInitialized
	}
	data, err := s.backend.Get(groupPublicKeyKey(groupIDHex))
	if err != nil {
		return nil, fmt.Errorf("storage: load group public key: %w", err)
	}
	if data == nil {
		return nil, ErrGroupPublicKeyMissing
	}
	var rec groupPublicKeyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("storage: load group public key: unmarshal: %w", err)
	}
	wBytes, err := hexDecode(rec.W)
	if err != nil {
		return nil, err
	}
	h0Bytes, err := hexDecode(rec.H0)
	if err != nil {
		return nil, err
	}
	h1Bytes, err := hexDecode(rec.H1)
	if err != nil {
		return nil, err
	}
	w, err := blsprim.G2FromBytes(wBytes)
	if err != nil {
		return nil, fmt.Errorf("storage: load group public key: W: %w", err)
	}
	h0, err := blsprim.G1FromBytes(h0Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: load group public key: H0: %w", err)
	}
	h1, err := blsprim.G1FromBytes(h1Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: load group public key: H1: %w", err)
	}
	return &bbs.GroupPublicKey{W: w, H0: h0, H1: h1}, nil
}

// DeleteGroupPublicKey removes the persisted group public key for groupIDHex.
func (s *Store) DeleteGroupPublicKey(groupIDHex string) error {
	if s.backend == nil {
		return ErrNotInitialized
	}
	return s.backend.Delete(groupPublicKeyKey(groupIDHex))
}

func groupPublicKeyKey(groupIDHex string) []byte {
	return []byte(groupPublicKeyPrefix + groupIDHex)
}

func hexEncode(b []byte) string {
	return hexcodec.EncodeHex(b)
}

func hexDecode(s string) ([]byte, error) {
	return hexcodec.ParseHex(s)
}

func hexEncodeAll(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = hexEncode(b)
	}
	return out
}

func hexDecodeAll(ss []string) ([][]byte, error) {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		b, err := hexDecode(s)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
