// Copyright 2025 Certen Protocol
//
// CometBFT-DB backend — wraps github.com/cometbft/cometbft-db's dbm.DB
// into the Backend interface (nil-on-miss Get, SetSync for durable
// writes).

package storage

import (
	"bytes"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// CometBFTBackend adapts a dbm.DB into the Backend interface pkg/storage
// uses for group state, credential, and group public key persistence.
type CometBFTBackend struct {
	db dbm.DB
}

// NewCometBFTBackend wraps db.
func NewCometBFTBackend(db dbm.DB) *CometBFTBackend {
	return &CometBFTBackend{db: db}
}

// Get returns nil, nil when key is absent; a miss is "not present", not
// an error.
func (b *CometBFTBackend) Get(key []byte) ([]byte, error) {
	v, err := b.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("storage: cometbft get: %w", err)
	}
	return v, nil
}

// Set writes key/value durably (SetSync), per the lifecycle requirement
// that key material is never silently lost between restarts.
func (b *CometBFTBackend) Set(key, value []byte) error {
	if err := b.db.SetSync(key, value); err != nil {
		return fmt.Errorf("storage: cometbft set: %w", err)
	}
	return nil
}

// Delete removes key durably.
func (b *CometBFTBackend) Delete(key []byte) error {
	if err := b.db.DeleteSync(key); err != nil {
		return fmt.Errorf("storage: cometbft delete: %w", err)
	}
	return nil
}

// IteratePrefix walks every key beginning with prefix in ascending order.
func (b *CometBFTBackend) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	iter, err := b.db.Iterator(prefix, prefixUpperBound(prefix))
	if err != nil {
		return fmt.Errorf("storage: cometbft iterator: %w", err)
	}
	defer iter.Close()

	for ; iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		if !fn(key, iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil if prefix is all 0xff (meaning "no upper
// bound" — iterate to the end of the keyspace).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] == 0xff {
			upper[i] = 0
			continue
		}
		upper[i]++
		return upper[:i+1]
	}
	return nil
}
