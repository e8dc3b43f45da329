// Copyright 2025 Certen Protocol
//
// Head bookkeeping — persists the local chain.Head for a personal or
// group log in the same abstract storage.Backend used for MLS/BBS+
// state, under its own key namespace.

package syncctl

import (
	"encoding/json"
	"fmt"

	"github.com/certen/logchain/pkg/chain"
	"github.com/certen/logchain/pkg/storage"
)

const (
	personalHeadPrefix = "syncctl:head:personal:"
	groupHeadPrefix    = "syncctl:head:group:"
)

type headRecord struct {
	Index int    `json:"index"`
	Hash  string `json:"hash"`
}

func loadHead(backend storage.Backend, key string) (*chain.Head, error) {
	raw, err := backend.Get([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("syncctl: load head: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var rec headRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("syncctl: decode head: %w", err)
	}
	return &chain.Head{Index: rec.Index, Hash: rec.Hash}, nil
}

func saveHead(backend storage.Backend, key string, head chain.Head) error {
	raw, err := json.Marshal(headRecord{Index: head.Index, Hash: head.Hash})
	if err != nil {
		return fmt.Errorf("syncctl: encode head: %w", err)
	}
	if err := backend.Set([]byte(key), raw); err != nil {
		return fmt.Errorf("syncctl: save head: %w", err)
	}
	return nil
}

func personalHeadKey(db string) string       { return personalHeadPrefix + db }
func groupHeadKey(groupID, db string) string { return groupHeadPrefix + groupID + ":" + db }
