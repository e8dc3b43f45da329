// Copyright 2025 Certen Protocol
//
// Transport — the client-side contracts for the external REST pull API
// and bidirectional push channel. The concrete wire implementation lives
// here (an HTTP client), but the sync controller only ever depends on
// the narrow PersonalPuller/GroupPuller interfaces, so a test or alternate
// deployment can substitute its own.

package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport-level failures, all retriable except
// NotConfigured.
var (
	ErrNotConfigured   = errors.New("transport: not configured")
	ErrTimeout         = errors.New("transport: request timed out")
	ErrInvalidResponse = errors.New("transport: invalid response")
)

// HTTPStatusError carries the response code and body of a non-2xx REST
// reply.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("transport: http status %d: %s", e.Code, e.Body)
}

// EncryptedEntry is the wire shape returned by the personal-log pull
// endpoints: a chain.PersonalEntryWire with its hashes, nonce and
// signature as lowercase hex and its ciphertext as the base64 ECIES
// envelope.
type EncryptedEntry struct {
	Index      int    `json:"index"`
	PrevHash   string `json:"prevHash"`
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Hash       string `json:"hash"`
	Signature  string `json:"signature"`
	CreatedAt  int64  `json:"createdAt"`
}

// ServerGroupLogEntry is the wire shape for the group-log equivalents:
// ciphertext/groupSignature/accessProof are all hex-encoded byte strings.
type ServerGroupLogEntry struct {
	Index          int    `json:"index"`
	PrevHash       string `json:"prevHash"`
	Ciphertext     string `json:"ciphertext"`
	Nonce          string `json:"nonce"`
	Hash           string `json:"hash"`
	GroupSignature string `json:"groupSignature"`
	AccessProof    string `json:"accessProof"`
	CreatedAt      int64  `json:"createdAt"`
}

// AppendChainLogRequest is the POST body for appending a new personal
// chain entry. RequestID identifies one logical Append call (shared
// across a resync-and-retry pair triggered by a ConflictDetected
// response) so the server can de-duplicate a retried POST that actually
// landed before the client saw its response.
type AppendChainLogRequest struct {
	Entry     EncryptedEntry `json:"entry"`
	RequestID string         `json:"requestId"`
}

// AppendGroupChainLogRequest is the POST body for appending a new group
// chain entry. RequestID serves the same in-flight de-duplication role
// as AppendChainLogRequest's.
type AppendGroupChainLogRequest struct {
	Entry     ServerGroupLogEntry `json:"entry"`
	RequestID string              `json:"requestId"`
}

// CreateGroupRequest is the POST body for registering a new group with
// the server, carrying only what the server needs to gate future reads —
// never group plaintext or the group key.
type CreateGroupRequest struct {
	GroupID          string `json:"groupId"`
	GroupPublicKey   string `json:"groupPublicKey"`
	InitialAccessKey string `json:"initialAccessKey"`
}

// HeadResponse wraps GET .../head's body; Head is nil when the log is
// empty.
type HeadResponse struct {
	Head *EncryptedEntry `json:"head"`
}

// ListResponse wraps a paginated GET .../logs response.
type ListResponse struct {
	Logs    []EncryptedEntry `json:"logs"`
	HasMore bool             `json:"hasMore"`
}

// GroupHeadResponse and GroupListResponse mirror HeadResponse/ListResponse
// for the group-log equivalents.
type GroupHeadResponse struct {
	Head *ServerGroupLogEntry `json:"head"`
}

type GroupListResponse struct {
	Logs    []ServerGroupLogEntry `json:"logs"`
	HasMore bool                  `json:"hasMore"`
}

// AuthTokenProvider mints a bearer token on demand. The library never
// prescribes where the token comes from.
type AuthTokenProvider interface {
	Token() (string, error)
}

// PersonalPuller is the narrow pull-side contract for the personal log.
type PersonalPuller interface {
	Head(db string) (*EncryptedEntry, error)
	List(db string, startIndex, limit int) (*ListResponse, error)
	Get(db string, index int) (*EncryptedEntry, error)
	Append(db string, req AppendChainLogRequest) (*EncryptedEntry, error)
}

// GroupPuller is the narrow pull-side contract for a group log.
type GroupPuller interface {
	GroupHead(groupID, db string) (*ServerGroupLogEntry, error)
	GroupList(groupID, db string, startIndex, limit int) (*GroupListResponse, error)
	GroupGet(groupID, db string, index int) (*ServerGroupLogEntry, error)
	GroupAppend(groupID, db string, req AppendGroupChainLogRequest) (*ServerGroupLogEntry, error)
	CreateGroup(req CreateGroupRequest) error
}

// Client composes the personal and group pull contracts the sync
// controller depends on.
type Client interface {
	PersonalPuller
	GroupPuller
}

// PushEventKind tags one frame of the bidirectional push channel.
type PushEventKind string

const (
	PushEventConnected      PushEventKind = "connected"
	PushEventNewLog         PushEventKind = "new_log"
	PushEventLogStreamEnd   PushEventKind = "log_stream_end"
	PushEventNewGroupLog    PushEventKind = "new_group_log"
	PushEventGroupStreamEnd PushEventKind = "group_log_stream_end"
)

// PushEvent is one server-to-client frame on the push channel.
type PushEvent struct {
	Type       PushEventKind        `json:"type"`
	Address    string               `json:"address,omitempty"`
	Entry      *EncryptedEntry      `json:"entry,omitempty"`
	GroupID    string               `json:"groupId,omitempty"`
	GroupEntry *ServerGroupLogEntry `json:"groupEntry,omitempty"`
	LastIndex  int                  `json:"lastIndex,omitempty"`
}

// PushController subscribes to and sends client-originated control frames
// on the bidirectional push channel.
type PushController interface {
	StreamLogs(fromIndex *int) error
	SubscribeGroup(groupID string) error
	UnsubscribeGroup(groupID string) error
	StreamGroupLogs(groupID string, fromIndex *int) error
	// Events delivers every PushEvent frame received until the channel
	// closes or Close is called.
	Events() <-chan PushEvent
	Close() error
}
