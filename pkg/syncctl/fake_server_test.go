// Copyright 2025 Certen Protocol

package syncctl

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/certen/logchain/pkg/transport"
)

// fakeServer is an in-memory stand-in for the REST transport, shared by
// every controller in a test the way real controllers share one server.
// It enforces the same index-continuity rule as a real deployment:
// appending at an index another entry already occupies returns a 409.
type fakeServer struct {
	mu       sync.Mutex
	personal map[string][]transport.EncryptedEntry
	groups   map[string]map[string][]transport.ServerGroupLogEntry
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		personal: map[string][]transport.EncryptedEntry{},
		groups:   map[string]map[string][]transport.ServerGroupLogEntry{},
	}
}

func (s *fakeServer) Head(db string) (*transport.EncryptedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.personal[db]
	if len(log) == 0 {
		return nil, nil
	}
	head := log[len(log)-1]
	return &head, nil
}

func (s *fakeServer) List(db string, startIndex, limit int) (*transport.ListResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.personal[db]
	if startIndex < 0 || startIndex > len(log) {
		return &transport.ListResponse{}, nil
	}
	end := startIndex + limit
	if end > len(log) {
		end = len(log)
	}
	return &transport.ListResponse{
		Logs:    append([]transport.EncryptedEntry(nil), log[startIndex:end]...),
		HasMore: end < len(log),
	}, nil
}

func (s *fakeServer) Get(db string, index int) (*transport.EncryptedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.personal[db]
	if index < 0 || index >= len(log) {
		return nil, &transport.HTTPStatusError{Code: http.StatusNotFound, Body: "no such entry"}
	}
	entry := log[index]
	return &entry, nil
}

func (s *fakeServer) Append(db string, req transport.AppendChainLogRequest) (*transport.EncryptedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.personal[db]
	if req.Entry.Index != len(log) {
		return nil, &transport.HTTPStatusError{Code: http.StatusConflict, Body: "index already occupied"}
	}
	s.personal[db] = append(log, req.Entry)
	entry := req.Entry
	return &entry, nil
}

func (s *fakeServer) CreateGroup(req transport.CreateGroupRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[req.GroupID]; ok {
		return &transport.HTTPStatusError{Code: http.StatusConflict, Body: "group exists"}
	}
	s.groups[req.GroupID] = map[string][]transport.ServerGroupLogEntry{}
	return nil
}

func (s *fakeServer) groupLog(groupID, db string) ([]transport.ServerGroupLogEntry, error) {
	logs, ok := s.groups[groupID]
	if !ok {
		return nil, &transport.HTTPStatusError{Code: http.StatusNotFound, Body: fmt.Sprintf("no group %s", groupID)}
	}
	return logs[db], nil
}

func (s *fakeServer) GroupHead(groupID, db string) (*transport.ServerGroupLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, err := s.groupLog(groupID, db)
	if err != nil {
		return nil, err
	}
	if len(log) == 0 {
		return nil, nil
	}
	head := log[len(log)-1]
	return &head, nil
}

func (s *fakeServer) GroupList(groupID, db string, startIndex, limit int) (*transport.GroupListResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, err := s.groupLog(groupID, db)
	if err != nil {
		return nil, err
	}
	if startIndex < 0 || startIndex > len(log) {
		return &transport.GroupListResponse{}, nil
	}
	end := startIndex + limit
	if end > len(log) {
		end = len(log)
	}
	return &transport.GroupListResponse{
		Logs:    append([]transport.ServerGroupLogEntry(nil), log[startIndex:end]...),
		HasMore: end < len(log),
	}, nil
}

func (s *fakeServer) GroupGet(groupID, db string, index int) (*transport.ServerGroupLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, err := s.groupLog(groupID, db)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(log) {
		return nil, &transport.HTTPStatusError{Code: http.StatusNotFound, Body: "no such entry"}
	}
	entry := log[index]
	return &entry, nil
}

func (s *fakeServer) GroupAppend(groupID, db string, req transport.AppendGroupChainLogRequest) (*transport.ServerGroupLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, err := s.groupLog(groupID, db)
	if err != nil {
		return nil, err
	}
	if req.Entry.Index != len(log) {
		return nil, &transport.HTTPStatusError{Code: http.StatusConflict, Body: "index already occupied"}
	}
	s.groups[groupID][db] = append(log, req.Entry)
	entry := req.Entry
	return &entry, nil
}
