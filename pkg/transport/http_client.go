// Copyright 2025 Certen Protocol
//
// HTTP client — the concrete net/http-based implementation of the pull
// API. A non-2xx response is decoded into an HTTPStatusError carrying
// the raw body.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPClient implements Client against the REST pull API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	auth    AuthTokenProvider
}

// NewHTTPClient builds a client against baseURL (no trailing slash),
// authenticating every request with a token minted by auth.
func NewHTTPClient(baseURL string, auth AuthTokenProvider) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		auth:    auth,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c.auth == nil {
		return ErrNotConfigured
	}
	token, err := c.auth.Token()
	if err != nil {
		return fmt.Errorf("transport: mint auth token: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("transport: encode request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrTimeout
		}
		return fmt.Errorf("transport: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("transport: read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// Head fetches the current head entry of the named personal log.
func (c *HTTPClient) Head(db string) (*EncryptedEntry, error) {
	var out HeadResponse
	path := fmt.Sprintf("/self/logs/%s/head", url.PathEscape(db))
	if err := c.do(context.Background(), http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Head, nil
}

// List fetches a page of personal log entries starting at startIndex.
func (c *HTTPClient) List(db string, startIndex, limit int) (*ListResponse, error) {
	var out ListResponse
	path := fmt.Sprintf("/self/logs/%s", url.PathEscape(db))
	q := url.Values{
		"startIndex": {strconv.Itoa(startIndex)},
		"limit":      {strconv.Itoa(limit)},
	}
	if err := c.do(context.Background(), http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches one personal log entry by index.
func (c *HTTPClient) Get(db string, index int) (*EncryptedEntry, error) {
	var out EncryptedEntry
	path := fmt.Sprintf("/self/logs/%s/%d", url.PathEscape(db), index)
	if err := c.do(context.Background(), http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Append posts a new personal log entry.
func (c *HTTPClient) Append(db string, req AppendChainLogRequest) (*EncryptedEntry, error) {
	var out EncryptedEntry
	path := fmt.Sprintf("/self/logs/%s", url.PathEscape(db))
	if err := c.do(context.Background(), http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupHead fetches the current head entry of a group log.
func (c *HTTPClient) GroupHead(groupID, db string) (*ServerGroupLogEntry, error) {
	var out GroupHeadResponse
	path := fmt.Sprintf("/groups/%s/logs/%s/head", url.PathEscape(groupID), url.PathEscape(db))
	if err := c.do(context.Background(), http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Head, nil
}

// GroupList fetches a page of group log entries starting at startIndex.
func (c *HTTPClient) GroupList(groupID, db string, startIndex, limit int) (*GroupListResponse, error) {
	var out GroupListResponse
	path := fmt.Sprintf("/groups/%s/logs/%s", url.PathEscape(groupID), url.PathEscape(db))
	q := url.Values{
		"startIndex": {strconv.Itoa(startIndex)},
		"limit":      {strconv.Itoa(limit)},
	}
	if err := c.do(context.Background(), http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupGet fetches one group log entry by index.
func (c *HTTPClient) GroupGet(groupID, db string, index int) (*ServerGroupLogEntry, error) {
	var out ServerGroupLogEntry
	path := fmt.Sprintf("/groups/%s/logs/%s/%d", url.PathEscape(groupID), url.PathEscape(db), index)
	if err := c.do(context.Background(), http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupAppend posts a new group log entry.
func (c *HTTPClient) GroupAppend(groupID, db string, req AppendGroupChainLogRequest) (*ServerGroupLogEntry, error) {
	var out ServerGroupLogEntry
	path := fmt.Sprintf("/groups/%s/logs/%s", url.PathEscape(groupID), url.PathEscape(db))
	if err := c.do(context.Background(), http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateGroup registers a new group with the server.
func (c *HTTPClient) CreateGroup(req CreateGroupRequest) error {
	return c.do(context.Background(), http.MethodPost, "/groups", nil, req, nil)
}
