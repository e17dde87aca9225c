// ABOUTME: HTTP implementation of the session.ChatAPI boundary contract
// ABOUTME: Talks to the gateway's REST API with a JWT bearer token

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storeline/chatsync/internal/wire"
)

// Client calls the chatsync gateway's conversation API. The token's role
// claim scopes read acknowledgements and unread counts server-side.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client for the gateway at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// FindConversation looks up the conversation for a customer.
// Returns wire.ErrNotFound when none exists yet.
func (c *Client) FindConversation(ctx context.Context, customerID int64) (*wire.Conversation, error) {
	var conv wire.Conversation
	path := fmt.Sprintf("/api/conversations/by-customer/%d", customerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateConversation creates the customer's conversation.
func (c *Client) CreateConversation(ctx context.Context, customerID int64) (*wire.Conversation, error) {
	var conv wire.Conversation
	body := map[string]int64{"customerId": customerID}
	if err := c.do(ctx, http.MethodPost, "/api/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages fetches a conversation's ordered message history. Used
// once at session start to seed local state; live updates come from the
// transport.
func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]*wire.ChatMessage, error) {
	var msgs []*wire.ChatMessage
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead acknowledges the conversation as read for the caller's role.
// Idempotent server-side.
func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/api/conversations/%d/read", conversationID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// GetUnreadCount fetches the customer's server-computed unread count.
func (c *Client) GetUnreadCount(ctx context.Context, customerID int64) (int, error) {
	var out struct {
		UnreadCount int `json:"unreadCount"`
	}
	path := fmt.Sprintf("/api/customers/%d/unread", customerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

// ListConversations returns the conversation queue for the agent console.
func (c *Client) ListConversations(ctx context.Context) ([]*wire.Conversation, error) {
	var convs []*wire.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// AssignAgent claims a conversation for an agent.
func (c *Client) AssignAgent(ctx context.Context, conversationID, agentID int64) error {
	path := fmt.Sprintf("/api/conversations/%d/assign", conversationID)
	body := map[string]int64{"agentId": agentID}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// do performs one JSON request/response round trip.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return wire.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
