// Package client talks to the relay's JSON API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nfrund/roomrelay/internal/modules/chat"
)

// Client is a thin wrapper around the relay's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the relay served at base.
func New(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Status fetches the live room, user and connection counts.
func (c *Client) Status(ctx context.Context) (chat.StatusResponse, error) {
	var out chat.StatusResponse
	err := c.get(ctx, "/api/status", nil, &out)
	return out, err
}

// Messages fetches up to limit recent messages of a chat. A limit of zero
// leaves the server default in place.
func (c *Client) Messages(ctx context.Context, chatID string, limit int) (chat.MessagesResponse, error) {
	q := url.Values{"chat_id": {chatID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out chat.MessagesResponse
	err := c.get(ctx, "/api/chat/messages", q, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return statusError(path, res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// statusError prefers the {"message": ...} body the relay sends on errors.
func statusError(path string, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("GET %s: %s: %s", path, res.Status, e.Message)
	}
	return fmt.Errorf("GET %s: %s", path, res.Status)
}
