// Package rest is the client for the chat backend's REST collaborator:
// session listing, paginated history, start/end session and mark-read.
// Paths are fixed by the existing backend and must not change.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lojinha/chatd/internal/auth"
	"go.uber.org/zap"
)

// SessionSummary is one entry of GET /sessions.
type SessionSummary struct {
	CounterpartID   string `json:"counterpartId"`
	CounterpartName string `json:"counterpartName"`
	LastMessage     string `json:"lastMessage"`
	UnreadCount     int    `json:"unreadCount"`
}

// HistoryMessage is one entry of GET /chats/{id}/messages.
type HistoryMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	SentBy    string `json:"sentBy"` // "USER" or "SHOP"
	CreatedAt int64  `json:"createdAt"`
	Read      bool   `json:"read"`
}

type historyPage struct {
	Content []HistoryMessage `json:"content"`
	Last    bool             `json:"last"`
}

type startChatRequest struct {
	CounterpartID string `json:"counterpartId"`
}

type startChatResponse struct {
	SessionID string `json:"sessionId"`
}

// Client talks to the REST backend with the identity's bearer credential.
type Client struct {
	base   string
	http   *http.Client
	auth   *auth.Context
	logger *zap.Logger
}

// New creates a REST client for the given base URL and identity.
func New(baseURL string, ac *auth.Context, logger *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 15 * time.Second},
		auth:   ac,
		logger: logger,
	}
}

// Sessions returns the identity's chat sessions.
func (c *Client) Sessions(ctx context.Context) ([]SessionSummary, error) {
	var out []SessionSummary
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Messages returns one page of a session's history plus whether more pages
// remain.
func (c *Client) Messages(ctx context.Context, sessionID string, page, size int) ([]HistoryMessage, bool, error) {
	path := fmt.Sprintf("/chats/%s/messages?page=%d&size=%d",
		url.PathEscape(sessionID), page, size)
	var out historyPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, false, fmt.Errorf("load history: %w", err)
	}
	return out.Content, !out.Last, nil
}

// StartChat asks the backend to create (or return) the session with the
// counterpart. Returns the session id.
func (c *Client) StartChat(ctx context.Context, counterpartID string) (string, error) {
	var out startChatResponse
	if err := c.do(ctx, http.MethodPost, "/chats/start", startChatRequest{CounterpartID: counterpartID}, &out); err != nil {
		return "", fmt.Errorf("start chat: %w", err)
	}
	return out.SessionID, nil
}

// EndChat closes the session server-side.
func (c *Client) EndChat(ctx context.Context, sessionID string) error {
	path := "/chats/" + url.PathEscape(sessionID) + "/end"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("end chat: %w", err)
	}
	return nil
}

// MarkRead marks the session's messages read for this identity.
func (c *Client) MarkRead(ctx context.Context, sessionID string) error {
	path := "/chats/" + url.PathEscape(sessionID) + "/mark-read"
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.auth.BearerHeader())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little of the body for the log, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if c.logger != nil {
			c.logger.Warn("backend call failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", snippet))
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
