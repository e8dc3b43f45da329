// Copyright 2025 Certen Protocol

package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func TestHTTPClientHeadAndAppend(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/self/logs/main/head":
			json.NewEncoder(w).Encode(HeadResponse{Head: &EncryptedEntry{Index: 3, Hash: "abc"}})
		case r.Method == http.MethodPost && r.URL.Path == "/self/logs/main":
			var req AppendChainLogRequest
			json.NewDecoder(r.Body).Decode(&req)
			req.Entry.Index = 4
			json.NewEncoder(w).Encode(req.Entry)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, staticToken("tok-123"))

	head, err := client.Head("main")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Index != 3 || head.Hash != "abc" {
		t.Fatalf("unexpected head: %+v", head)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}

	appended, err := client.Append("main", AppendChainLogRequest{Entry: EncryptedEntry{Index: 0, Hash: "new"}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if appended.Index != 4 || appended.Hash != "new" {
		t.Fatalf("unexpected append result: %+v", appended)
	}
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"conflict"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, staticToken("tok"))
	_, err := client.Head("main")
	if err == nil {
		t.Fatal("expected error")
	}
	statusErr, ok := err.(*HTTPStatusError)
	if !ok {
		t.Fatalf("expected *HTTPStatusError, got %T: %v", err, err)
	}
	if statusErr.Code != http.StatusConflict {
		t.Fatalf("unexpected status code: %d", statusErr.Code)
	}
}

func TestHTTPClientNotConfiguredWithoutAuth(t *testing.T) {
	client := NewHTTPClient("http://localhost", nil)
	if _, err := client.Head("main"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
