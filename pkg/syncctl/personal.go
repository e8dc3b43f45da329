// Copyright 2025 Certen Protocol
//
// Personal log sync controller — pulls and applies a single owner's
// personal chain entries and posts new ones: verify envelope, validate
// chain linkage, decode DBLog actions, replay transactionally, report
// affected tables.

package syncctl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/certen/logchain/pkg/chain"
	"github.com/certen/logchain/pkg/dblog"
	"github.com/certen/logchain/pkg/dblogcodec"
	"github.com/certen/logchain/pkg/hexcodec"
	"github.com/certen/logchain/pkg/identity"
	"github.com/certen/logchain/pkg/storage"
	"github.com/certen/logchain/pkg/transport"
)

// listPageSize bounds each pull page during sync.
const listPageSize = 100

// PersonalController owns the pull/append pipeline for one owner's
// personal log, identified by db. It serializes sync and append under a
// single mutex: "at most one sync per log in progress" and "pending
// appends block on completion of an in-flight sync" share the same lock.
type PersonalController struct {
	cfg       *Config
	puller    transport.PersonalPuller
	store     *dblog.Store
	backend   storage.Backend
	db        string
	owner     *identity.PrivateKey
	ownerAddr string

	mu          sync.Mutex
	head        *chain.Head
	initialized bool

	stateMu sync.RWMutex
	state   State
}

// NewPersonalController constructs a controller for db, owned by owner.
func NewPersonalController(puller transport.PersonalPuller, store *dblog.Store, backend storage.Backend, db string, owner *identity.PrivateKey, cfg *Config) *PersonalController {
	return &PersonalController{
		cfg:       cfg.withDefaults(),
		puller:    puller,
		store:     store,
		backend:   backend,
		db:        db,
		owner:     owner,
		ownerAddr: owner.Address(),
		state:     StateIdle,
	}
}

func (c *PersonalController) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	cb := c.cfg.OnSyncStateChanged
	c.stateMu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// State returns the controller's current activity.
func (c *PersonalController) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Initialize opens the store's bookkeeping and loads the locally known
// head, if any.
func (c *PersonalController) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, err := loadHead(c.backend, personalHeadKey(c.db))
	if err != nil {
		return err
	}
	c.head = head
	c.initialized = true
	c.cfg.Logger.Printf("initialized personal controller db=%s head=%v", c.db, head)
	return nil
}

// Sync pulls and applies every remote entry past the local head, in
// order, returning the set of DBLog tables touched across all applied
// entries.
func (c *PersonalController) Sync(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncLocked(ctx)
}

func (c *PersonalController) syncLocked(ctx context.Context) ([]string, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	c.setState(StateSyncing)
	defer c.setState(StateIdle)
	syncCycles.WithLabelValues("personal").Inc()

	remoteHead, err := c.puller.Head(c.db)
	if err != nil {
		return nil, fmt.Errorf("syncctl: personal: fetch head: %w", err)
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
		page, err := c.puller.List(c.db, next, listPageSize)
		if err != nil {
			return affected, fmt.Errorf("syncctl: personal: list: %w", err)
		}
		if len(page.Logs) == 0 {
			break
		}
		for i := range page.Logs {
			tables, err := c.applyWireEntry(ctx, &page.Logs[i])
			if err != nil {
				entriesRejected.WithLabelValues("personal", "validation").Inc()
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

func (c *PersonalController) applyWireEntry(ctx context.Context, wire *transport.EncryptedEntry) ([]string, error) {
	sig, err := hexcodec.ParseHex(wire.Signature)
	if err != nil {
		return nil, fmt.Errorf("syncctl: personal: decode signature: %w", err)
	}
	personalWire := &chain.PersonalEntryWire{
		Index:      wire.Index,
		PrevHash:   wire.PrevHash,
		Ciphertext: wire.Ciphertext,
		Nonce:      wire.Nonce,
		Hash:       wire.Hash,
		Signature:  sig,
		CreatedAt:  wire.CreatedAt,
	}

	entry, err := personalWire.Open(c.owner)
	if err != nil {
		return nil, fmt.Errorf("syncctl: personal: open entry: %w", err)
	}
	if err := chain.ValidatePersonalEntry(entry, c.head, c.ownerAddr); err != nil {
		return nil, fmt.Errorf("syncctl: personal: validate entry %d: %w", entry.Index, err)
	}

	actions, err := dblogcodec.DecodeActions([]byte(entry.Content))
	if err != nil {
		return nil, fmt.Errorf("syncctl: personal: decode actions: %w", err)
	}

	tables, err := c.store.ApplyEntry(ctx, entry.Index, actions)
	if err != nil {
		return nil, fmt.Errorf("syncctl: personal: apply entry %d: %w", entry.Index, err)
	}

	newHead := chain.Head{Index: entry.Index, Hash: entry.Hash}
	if err := saveHead(c.backend, personalHeadKey(c.db), newHead); err != nil {
		return nil, err
	}
	c.head = &newHead

	entriesApplied.WithLabelValues("personal").Inc()
	replayStatements.WithLabelValues("personal").Add(float64(len(actions)))
	if cb := c.cfg.OnEntryApplied; cb != nil {
		cb(tables)
	}
	return tables, nil
}

// Append assembles, signs, and encrypts a new entry from actions, posts
// it, and replays it locally through the same pipeline used for received
// entries. On a ConflictDetected response it resyncs once and retries.
// Both attempts share one request ID, so a retried POST that actually
// landed server-side before the client saw its response (e.g. a dropped
// connection racing the conflict) can be recognized as the same logical
// append rather than double-counted.
func (c *PersonalController) Append(ctx context.Context, actions []dblogcodec.Action) (*chain.Head, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	c.setState(StateAppending)
	defer c.setState(StateIdle)

	requestID := uuid.New().String()

	head, err := c.appendAttempt(ctx, actions, requestID)
	if err == nil {
		return head, nil
	}

	var conflict *chain.ConflictDetected
	if !errors.As(err, &conflict) {
		return nil, err
	}
	if _, syncErr := c.syncLocked(ctx); syncErr != nil {
		return nil, fmt.Errorf("syncctl: personal: resync after conflict: %w", syncErr)
	}
	return c.appendAttempt(ctx, actions, requestID)
}

func (c *PersonalController) appendAttempt(ctx context.Context, actions []dblogcodec.Action, requestID string) (*chain.Head, error) {
	content, err := dblogcodec.EncodeActions(actions)
	if err != nil {
		return nil, fmt.Errorf("syncctl: personal: encode actions: %w", err)
	}

	index := 0
	prevHash := chain.GenesisHash
	if c.head != nil {
		index = c.head.Index + 1
		prevHash = c.head.Hash
	}

	entry, err := chain.NewPersonalEntry(c.owner, index, prevHash, string(content))
	if err != nil {
		return nil, fmt.Errorf("syncctl: personal: build entry: %w", err)
	}
	wire, err := entry.Seal(c.owner.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("syncctl: personal: seal entry: %w", err)
	}

	req := transport.AppendChainLogRequest{
		Entry: transport.EncryptedEntry{
			Index:      wire.Index,
			PrevHash:   wire.PrevHash,
			Ciphertext: wire.Ciphertext,
			Nonce:      wire.Nonce,
			Hash:       wire.Hash,
			Signature:  hexcodec.EncodeHex(wire.Signature),
			CreatedAt:  wire.CreatedAt,
		},
		RequestID: requestID,
	}

	if _, err := c.puller.Append(c.db, req); err != nil {
		if conflict := c.conflictFromAppendError(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("syncctl: personal: append: %w", err)
	}

	tables, err := c.store.ApplyEntry(ctx, entry.Index, actions)
	if err != nil {
		return nil, fmt.Errorf("syncctl: personal: apply own entry %d: %w", entry.Index, err)
	}
	newHead := chain.Head{Index: entry.Index, Hash: entry.Hash}
	if err := saveHead(c.backend, personalHeadKey(c.db), newHead); err != nil {
		return nil, err
	}
	c.head = &newHead

	entriesApplied.WithLabelValues("personal").Inc()
	replayStatements.WithLabelValues("personal").Add(float64(len(actions)))
	if cb := c.cfg.OnEntryApplied; cb != nil {
		cb(tables)
	}
	return &newHead, nil
}

// HandlePushEntry feeds an out-of-band entry delivered over the push
// channel through the same verify+validate+replay pipeline used by Sync.
// If the entry's index is not the one right after the local head, it runs
// a full resync instead of applying it directly. The resync runs on the
// caller's goroutine before HandlePushEntry returns, not in the background.
func (c *PersonalController) HandlePushEntry(ctx context.Context, wire *transport.EncryptedEntry) ([]string, error) {
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

// conflictFromAppendError maps a rejected append to ConflictDetected
// when the server refused it because another entry already occupies the
// index (an HTTP 409, or a ConflictDetected a transport returned
// directly). The
// server head attached to the conflict lets the caller resync before
// retrying.
func (c *PersonalController) conflictFromAppendError(err error) *chain.ConflictDetected {
	var conflict *chain.ConflictDetected
	if errors.As(err, &conflict) {
		return conflict
	}
	var httpErr *transport.HTTPStatusError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusConflict {
		return nil
	}
	remoteHead, headErr := c.puller.Head(c.db)
	if headErr != nil || remoteHead == nil {
		return nil
	}
	return &chain.ConflictDetected{ServerHead: chain.Head{Index: remoteHead.Index, Hash: remoteHead.Hash}}
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
