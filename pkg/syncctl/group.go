// Copyright 2025 Certen Protocol
//
// Group log sync controller — the group-log counterpart to
// PersonalController: pulls and applies group chain entries encrypted
// under the MLS group key and authored anonymously via BBS+, gated by a
// per-epoch access proof. Epoch-advancing entries (add/remove/self-rekey)
// are sealed under the outgoing epoch's keys, since the incoming epoch's
// group key only exists for a member once the handshake inside the entry
// has been applied; the new access key is adopted only after its
// transition proof verifies against the old one.

package syncctl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certen/logchain/pkg/accessproof"
	"github.com/certen/logchain/pkg/bbs"
	"github.com/certen/logchain/pkg/chain"
	"github.com/certen/logchain/pkg/dblog"
	"github.com/certen/logchain/pkg/dblogcodec"
	"github.com/certen/logchain/pkg/hexcodec"
	"github.com/certen/logchain/pkg/identity"
	"github.com/certen/logchain/pkg/mlsratchet"
	"github.com/certen/logchain/pkg/storage"
	"github.com/certen/logchain/pkg/transport"
)

// GroupController owns the pull/append pipeline for one group's log.
type GroupController struct {
	cfg        *Config
	puller     transport.GroupPuller
	store      *dblog.Store
	backend    storage.Backend
	typed      *storage.Store
	db         string
	groupID    []byte
	groupIDHex string
	member     *identity.PrivateKey

	mu          sync.Mutex
	head        *chain.Head
	groupState  *mlsratchet.State
	groupPK     *bbs.GroupPublicKey
	credential  *bbs.MemberCredential
	epochKey    *accessproof.EpochAccessKey
	priorKey    *accessproof.EpochAccessKey
	initialized bool

	stateMu sync.RWMutex
	state   State
}

// NewGroupController constructs a controller for groupID's db log. member
// is the local participant's identity key, used to sign the plaintext
// content attached inside each decrypted payload.
func NewGroupController(puller transport.GroupPuller, store *dblog.Store, backend storage.Backend, db string, groupID []byte, member *identity.PrivateKey, cfg *Config) *GroupController {
	return &GroupController{
		cfg:        cfg.withDefaults(),
		puller:     puller,
		store:      store,
		backend:    backend,
		typed:      storage.New(backend),
		db:         db,
		groupID:    groupID,
		groupIDHex: hexcodec.EncodeHex(groupID),
		member:     member,
		state:      StateIdle,
	}
}

func (c *GroupController) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	cb := c.cfg.OnSyncStateChanged
	c.stateMu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// State returns the controller's current activity.
func (c *GroupController) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Initialize loads the local chain head, MLS group state, BBS+ member
// credential, and group public key, deriving the current epoch's access
// key.
func (c *GroupController) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, err := loadHead(c.backend, groupHeadKey(c.groupIDHex, c.db))
	if err != nil {
		return err
	}
	c.head = head

	state, err := c.typed.LoadGroupState(c.groupIDHex)
	if err != nil {
		return fmt.Errorf("syncctl: group: load group state: %w", err)
	}
	c.groupState = state

	cred, err := c.typed.LoadMemberCredential(c.groupIDHex)
	if err != nil {
		return fmt.Errorf("syncctl: group: load credential: %w", err)
	}
	c.credential = cred

	pk, err := c.typed.LoadGroupPublicKey(c.groupIDHex)
	if err != nil {
		return fmt.Errorf("syncctl: group: load group public key: %w", err)
	}
	c.groupPK = pk

	epochKey, err := accessproof.DeriveEpochAccessKey(state.GroupKey, c.groupID, state.Epoch)
	if err != nil {
		return fmt.Errorf("syncctl: group: derive epoch key: %w", err)
	}
	c.epochKey = epochKey

	c.initialized = true
	c.cfg.Logger.Printf("initialized group controller group=%s db=%s head=%v epoch=%d", c.groupIDHex, c.db, head, state.Epoch)
	return nil
}

// Sync pulls and applies every remote group entry past the local head.
func (c *GroupController) Sync(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncLocked(ctx)
}

func (c *GroupController) syncLocked(ctx context.Context) ([]string, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	c.setState(StateSyncing)
	defer c.setState(StateIdle)
	syncCycles.WithLabelValues("group").Inc()

	remoteHead, err := c.puller.GroupHead(c.groupIDHex, c.db)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: fetch head: %w", err)
	}
	if remoteHead == nil {
		return nil, nil
	}

	localIndex := -1
	if c.head != nil {
		localIndex = c.head.Index
	}
	if remoteHead.Index <= localIndex {
		return nil, nil
	}

	var affected []string
	next := localIndex + 1
	for next <= remoteHead.Index {
		page, err := c.puller.GroupList(c.groupIDHex, c.db, next, listPageSize)
		if err != nil {
			return affected, fmt.Errorf("syncctl: group: list: %w", err)
		}
		if len(page.Logs) == 0 {
			break
		}
		for i := range page.Logs {
			tables, err := c.applyWireEntry(ctx, &page.Logs[i])
			if err != nil {
				entriesRejected.WithLabelValues("group", "validation").Inc()
				return affected, err
			}
			affected = append(affected, tables...)
		}
		next += len(page.Logs)
		if !page.HasMore {
			break
		}
	}
	return dedupeStrings(affected), nil
}

func (c *GroupController) applyWireEntry(ctx context.Context, wire *transport.ServerGroupLogEntry) ([]string, error) {
	ciphertext, err := hexcodec.ParseHex(wire.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: decode ciphertext: %w", err)
	}
	sigBytes, err := hexcodec.ParseHex(wire.GroupSignature)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: decode group signature: %w", err)
	}
	groupSig, err := bbs.GroupSignatureFromBytes(sigBytes)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: decode group signature: %w", err)
	}
	accessProof, err := hexcodec.ParseHex(wire.AccessProof)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: decode access proof: %w", err)
	}

	groupEntry := &chain.GroupEntryWire{
		Index:          wire.Index,
		PrevHash:       wire.PrevHash,
		Ciphertext:     ciphertext,
		Nonce:          wire.Nonce,
		Hash:           wire.Hash,
		GroupSignature: groupSig,
		AccessProof:    accessProof,
		CreatedAt:      wire.CreatedAt,
	}

	payload, err := chain.ValidateGroupEntry(groupEntry, c.head, *c.groupPK, c.groupState.GroupKey, c.epochKey)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: validate entry %d: %w", groupEntry.Index, err)
	}

	if payload.SystemOp != nil {
		if err := c.applySystemOp(payload.SystemOp); err != nil {
			return nil, fmt.Errorf("syncctl: group: apply system op %s at entry %d: %w", payload.SystemOp.Kind, groupEntry.Index, err)
		}
	}

	actions, err := dblogcodec.DecodeActions([]byte(payload.Content))
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: decode actions: %w", err)
	}

	tables, err := c.store.ApplyEntry(ctx, groupEntry.Index, actions)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: apply entry %d: %w", groupEntry.Index, err)
	}

	newHead := chain.Head{Index: groupEntry.Index, Hash: groupEntry.Hash}
	if err := saveHead(c.backend, groupHeadKey(c.groupIDHex, c.db), newHead); err != nil {
		return nil, err
	}
	c.head = &newHead

	entriesApplied.WithLabelValues("group").Inc()
	replayStatements.WithLabelValues("group").Add(float64(len(actions)))
	if cb := c.cfg.OnEntryApplied; cb != nil {
		cb(tables)
	}
	return tables, nil
}

// applySystemOp advances this controller's MLS group state for a system
// op attached to an entry it just decrypted. The three epoch-advancing
// kinds carry the handshake from the membership operation that produced
// them; it is applied to a clone of the local state first, the new
// epoch's access key is derived from the clone, and only once the op's
// transition proof verifies against the current key does the controller
// adopt the clone and rotate keys — a forged proof leaves local state
// untouched and the entry rejected. join_request carries no tree
// mutation of its own: it is a prospective member's signal that an
// administrator must still act on by calling AddMember, so it is
// recorded in the replayed log and otherwise ignored here.
func (c *GroupController) applySystemOp(op *chain.SystemOp) error {
	switch op.Kind {
	case chain.SystemOpEpochTransition, chain.SystemOpJoinAccepted, chain.SystemOpMemberRemoved:
		msg, err := mlsratchet.DecodeHandshake(op.Handshake)
		if err != nil {
			return err
		}
		next, err := c.groupState.Clone()
		if err != nil {
			return fmt.Errorf("clone group state: %w", err)
		}
		if err := next.ProcessHandshake(msg); err != nil {
			return fmt.Errorf("process handshake: %w", err)
		}
		nextEpochKey, err := accessproof.DeriveEpochAccessKey(next.GroupKey, c.groupID, next.Epoch)
		if err != nil {
			return fmt.Errorf("derive epoch key: %w", err)
		}
		if err := accessproof.VerifyTransitionProof(c.epochKey, nextEpochKey, op.TransitionProof); err != nil {
			return err
		}
		c.groupState = next
		c.priorKey = c.epochKey
		c.epochKey = nextEpochKey
		if err := c.typed.SaveGroupState(c.groupState); err != nil {
			return fmt.Errorf("save group state: %w", err)
		}
		return nil
	case chain.SystemOpJoinRequest:
		return nil
	default:
		return fmt.Errorf("unknown system op kind %q", op.Kind)
	}
}

// sealParams pins the epoch, group key, and access key one entry is
// sealed under. Content entries seal under the controller's current
// values; epoch-advancing entries seal under the values captured before
// the membership operation ran.
type sealParams struct {
	epoch    int
	groupKey []byte
	epochKey *accessproof.EpochAccessKey
}

func (c *GroupController) currentSeal() sealParams {
	return sealParams{
		epoch:    c.groupState.Epoch,
		groupKey: append([]byte{}, c.groupState.GroupKey...),
		epochKey: c.epochKey,
	}
}

// MembershipInvite packages everything a newly added member needs,
// delivered out of band: the group channel is encrypted under keys the
// new member does not hold until after they process this very invite, so
// it cannot travel through the channel itself.
type MembershipInvite struct {
	Welcome   *mlsratchet.Welcome
	Handshake *mlsratchet.HandshakeMessage
	Head      chain.Head
}

// AddMember performs an MLS Add for newMemberPub65, appends a
// join_accepted entry carrying the resulting handshake so every existing
// member absorbs it on their next sync, persists the updated local group
// state, and returns the invite for out-of-band delivery to the new
// member.
func (c *GroupController) AddMember(ctx context.Context, newMemberPub65 []byte) (*MembershipInvite, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}

	seal := c.currentSeal()
	next, err := c.groupState.Clone()
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: add member: %w", err)
	}
	msg, welcome, err := next.Add(newMemberPub65)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: add member: %w", err)
	}
	handshake := mlsratchet.NewAddMessage(welcome.LeafIndex, newMemberPub65, msg)

	head, err := c.commitEpochAdvance(ctx, chain.SystemOpJoinAccepted, handshake, seal, next)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: add member: %w", err)
	}
	return &MembershipInvite{Welcome: welcome, Handshake: handshake, Head: *head}, nil
}

// RemoveMember performs an MLS Remove for leafPos, appends a
// member_removed entry carrying the resulting handshake, and persists
// the updated local group state.
func (c *GroupController) RemoveMember(ctx context.Context, leafPos int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return ErrNotInitialized
	}

	seal := c.currentSeal()
	next, err := c.groupState.Clone()
	if err != nil {
		return fmt.Errorf("syncctl: group: remove member: %w", err)
	}
	msg, err := next.Remove(leafPos)
	if err != nil {
		return fmt.Errorf("syncctl: group: remove member: %w", err)
	}
	handshake := mlsratchet.NewRemoveMessage(leafPos, msg)

	if _, err := c.commitEpochAdvance(ctx, chain.SystemOpMemberRemoved, handshake, seal, next); err != nil {
		return fmt.Errorf("syncctl: group: remove member: %w", err)
	}
	return nil
}

// UpdateOwnKey rotates this member's leaf key, appending an
// epoch_transition entry carrying the resulting handshake so the rest of
// the group rekeys with it.
func (c *GroupController) UpdateOwnKey(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return ErrNotInitialized
	}

	seal := c.currentSeal()
	next, err := c.groupState.Clone()
	if err != nil {
		return fmt.Errorf("syncctl: group: update own key: %w", err)
	}
	msg, err := next.Update()
	if err != nil {
		return fmt.Errorf("syncctl: group: update own key: %w", err)
	}
	handshake := mlsratchet.NewUpdateMessage(msg)

	if _, err := c.commitEpochAdvance(ctx, chain.SystemOpEpochTransition, handshake, seal, next); err != nil {
		return fmt.Errorf("syncctl: group: update own key: %w", err)
	}
	return nil
}

// commitEpochAdvance finishes a membership operation the caller applied
// to a clone of the group state: it derives the incoming epoch's access
// key from the clone, builds the system op with its transition proof,
// appends the entry sealed under the outgoing epoch's keys, and only
// then adopts the clone, rotates the local access keys, and persists —
// a failed append leaves the controller exactly where it was.
func (c *GroupController) commitEpochAdvance(ctx context.Context, kind chain.SystemOpKind, handshake *mlsratchet.HandshakeMessage, seal sealParams, next *mlsratchet.State) (*chain.Head, error) {
	nextEpochKey, err := accessproof.DeriveEpochAccessKey(next.GroupKey, c.groupID, next.Epoch)
	if err != nil {
		return nil, fmt.Errorf("derive epoch key: %w", err)
	}
	encoded, err := handshake.Encode()
	if err != nil {
		return nil, err
	}
	systemOp := &chain.SystemOp{
		Kind:            kind,
		TransitionProof: accessproof.TransitionProof(seal.epochKey, nextEpochKey),
		Handshake:       encoded,
	}

	head, err := c.appendLocked(ctx, nil, systemOp, seal)
	if err != nil {
		return nil, err
	}

	c.groupState = next
	c.priorKey = seal.epochKey
	c.epochKey = nextEpochKey
	if err := c.typed.SaveGroupState(c.groupState); err != nil {
		return nil, fmt.Errorf("save group state: %w", err)
	}
	return head, nil
}

// Append encrypts the encoded actions under the current group key, signs
// them anonymously with the member's BBS+ credential, attaches the
// current epoch's access proof, posts the entry, and replays it locally.
// When the server rejects the index as already occupied, the controller
// resyncs once and retries, re-sealing under whatever epoch the absorbed
// entries left it in.
func (c *GroupController) Append(ctx context.Context, actions []dblogcodec.Action) (*chain.Head, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}

	head, err := c.appendLocked(ctx, actions, nil, c.currentSeal())
	if err == nil {
		return head, nil
	}
	if !isIndexConflict(err) {
		return nil, err
	}
	if _, syncErr := c.syncLocked(ctx); syncErr != nil {
		return nil, fmt.Errorf("syncctl: group: resync after conflict: %w", syncErr)
	}
	return c.appendLocked(ctx, actions, nil, c.currentSeal())
}

// isIndexConflict reports whether an append failed because another entry
// already occupies the index.
func isIndexConflict(err error) bool {
	var conflict *chain.ConflictDetected
	if errors.As(err, &conflict) {
		return true
	}
	var httpErr *transport.HTTPStatusError
	return errors.As(err, &httpErr) && httpErr.Code == http.StatusConflict
}

// appendLocked is the shared seal/post/replay body behind Append and the
// membership operations, which already hold c.mu.
func (c *GroupController) appendLocked(ctx context.Context, actions []dblogcodec.Action, systemOp *chain.SystemOp, seal sealParams) (*chain.Head, error) {
	c.setState(StateAppending)
	defer c.setState(StateIdle)

	dblogContent, err := dblogcodec.EncodeActions(actions)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: encode actions: %w", err)
	}
	content := string(dblogContent)

	senderSig, err := c.member.Sign([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: sign payload: %w", err)
	}

	payload := &chain.DecryptedGroupPayload{
		Content:         content,
		SenderAddress:   c.member.Address(),
		SenderSignature: senderSig,
		Epoch:           seal.epoch,
		Timestamp:       time.Now().UnixMilli(),
		SystemOp:        systemOp,
	}

	index := 0
	prevHash := chain.GenesisHash
	if c.head != nil {
		index = c.head.Index + 1
		prevHash = c.head.Hash
	}

	wire, err := chain.SealGroupPayload(index, prevHash, payload, seal.groupKey, *c.groupPK, c.credential, seal.epochKey)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: seal payload: %w", err)
	}

	req := transport.AppendGroupChainLogRequest{
		Entry: transport.ServerGroupLogEntry{
			Index:          wire.Index,
			PrevHash:       wire.PrevHash,
			Ciphertext:     hexcodec.EncodeHex(wire.Ciphertext),
			Nonce:          wire.Nonce,
			Hash:           wire.Hash,
			GroupSignature: hexcodec.EncodeHex(wire.GroupSignature.Bytes()),
			AccessProof:    hexcodec.EncodeHex(wire.AccessProof),
			CreatedAt:      wire.CreatedAt,
		},
		RequestID: uuid.New().String(),
	}

	if _, err := c.puller.GroupAppend(c.groupIDHex, c.db, req); err != nil {
		return nil, fmt.Errorf("syncctl: group: append: %w", err)
	}

	tables, err := c.store.ApplyEntry(ctx, wire.Index, actions)
	if err != nil {
		return nil, fmt.Errorf("syncctl: group: apply own entry %d: %w", wire.Index, err)
	}
	newHead := chain.Head{Index: wire.Index, Hash: wire.Hash}
	if err := saveHead(c.backend, groupHeadKey(c.groupIDHex, c.db), newHead); err != nil {
		return nil, err
	}
	c.head = &newHead

	entriesApplied.WithLabelValues("group").Inc()
	replayStatements.WithLabelValues("group").Add(float64(len(actions)))
	if cb := c.cfg.OnEntryApplied; cb != nil {
		cb(tables)
	}
	return &newHead, nil
}

// HandlePushEntry feeds an out-of-band group entry delivered over the
// push channel through the pipeline, resyncing on a gap instead of
// applying directly.
func (c *GroupController) HandlePushEntry(ctx context.Context, wire *transport.ServerGroupLogEntry) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}

	localIndex := -1
	if c.head != nil {
		localIndex = c.head.Index
	}
	if wire.Index != localIndex+1 {
		return c.syncLocked(ctx)
	}
	return c.applyWireEntry(ctx, wire)
}
