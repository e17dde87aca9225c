// ABOUTME: Wire contract shared by the chat clients and the gateway
// ABOUTME: Defines the flat message payload, envelope frames, and topic addressing

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frame type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeSubscribe registers interest in a conversation topic (client -> server).
	TypeSubscribe = "subscribe"
	// TypeUnsubscribe removes interest in a conversation topic (client -> server).
	TypeUnsubscribe = "unsubscribe"
	// TypePublish carries an outbound chat message (client -> server).
	TypePublish = "publish"
	// TypeMessage delivers a chat message on a conversation topic (server -> client).
	TypeMessage = "message"
	// TypePing / TypePong keep the connection alive.
	TypePing = "ping"
	TypePong = "pong"
	// TypeError reports a transport-level failure (server -> client).
	TypeError = "error"
)

// topicPrefix is the addressing scheme for per-conversation delivery.
const topicPrefix = "conversation/"

// ErrNotFound is returned by conversation lookups when no conversation
// exists for the given customer.
var ErrNotFound = errors.New("conversation not found")

// Role identifies which side of a conversation is viewing it.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Opposite returns the other role in a conversation.
func (r Role) Opposite() Role {
	if r == RoleAgent {
		return RoleCustomer
	}
	return RoleAgent
}

// ChatMessage is the flat payload exchanged over the transport.
// Delivery state (pending, sent, failed) is client-local and never
// crosses the wire.
type ChatMessage struct {
	ID string `json:"id"`
	// ClientID is the sender-assigned correlation ID. The server echoes
	// it back unchanged so the publishing client can match the delivery
	// to its pending message; it is never persisted.
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID int64     `json:"conversationId"`
	SenderID       int64     `json:"senderId"`
	IsAgent        bool      `json:"isAgent"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AuthorRole returns the role that authored the message.
func (m *ChatMessage) AuthorRole() Role {
	if m.IsAgent {
		return RoleAgent
	}
	return RoleCustomer
}

// Conversation is the client-side view of one customer/agent conversation.
// UnreadCount is server-computed and scoped to the requesting role.
type Conversation struct {
	ID          int64     `json:"id"`
	CustomerID  int64     `json:"customerId"`
	AgentID     *int64    `json:"agentId,omitempty"`
	UnreadCount int       `json:"unreadCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Envelope is the canonical frame wrapper for the realtime transport.
type Envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Validate performs structural validation for an Envelope.
func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeHello, TypeSubscribe, TypeUnsubscribe, TypePublish,
		TypeMessage, TypePing, TypePong, TypeError:
	case "":
		return errors.New("missing frame type")
	default:
		return fmt.Errorf("unknown frame type: %q", e.Type)
	}

	switch e.Type {
	case TypeSubscribe, TypeUnsubscribe, TypeMessage:
		if e.Topic == "" {
			return fmt.Errorf("%s frame requires a topic", e.Type)
		}
	case TypePublish:
		if len(e.Payload) == 0 {
			return errors.New("publish frame requires a payload")
		}
	}
	return nil
}

// EncodeFrame marshals an envelope with the given payload.
func EncodeFrame(frameType, topic string, payload any) ([]byte, error) {
	env := Envelope{Type: frameType, Topic: topic}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", frameType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(&env)
}

// ConversationTopic returns the logical topic for inbound delivery
// of a conversation's messages.
func ConversationTopic(conversationID int64) string {
	return topicPrefix + strconv.FormatInt(conversationID, 10)
}

// ParseConversationTopic extracts the conversation ID from a topic string.
func ParseConversationTopic(topic string) (int64, error) {
	rest, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return 0, fmt.Errorf("not a conversation topic: %q", topic)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad conversation topic %q: %w", topic, err)
	}
	return id, nil
}
