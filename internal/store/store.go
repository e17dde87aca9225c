// ABOUTME: Store interface and data types for chatsync persistence
// ABOUTME: Defines Conversation, Message, ReadState and the Store interface

package store

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/storeline/chatsync/internal/wire"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a customer already has a conversation.
var ErrDuplicateConversation = errors.New("conversation already exists")

// Conversation links one customer to at most one assigned support agent.
// Conversations are created on the customer's first chat open and are
// never deleted here.
type Conversation struct {
	ID         int64
	CustomerID int64
	AgentID    *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message is one persisted chat message within a conversation.
type Message struct {
	ID             string
	ConversationID int64
	SenderID       int64
	IsAgent        bool
	Content        string
	CreatedAt      time.Time
}

// ReadState is the per-role read watermark for a conversation. Unread
// counts are derived from it: messages authored by the opposite role
// after LastReadAt are unread.
type ReadState struct {
	ConversationID int64
	Role           wire.Role
	LastReadID     string
	LastReadAt     time.Time
}

// Store defines the persistence contract for conversations and messages.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, customerID int64) (*Conversation, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	FindConversationByCustomer(ctx context.Context, customerID int64) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)
	AssignAgent(ctx context.Context, conversationID, agentID int64) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)

	// Read tracking
	MarkRead(ctx context.Context, conversationID int64, role wire.Role) error
	UnreadCount(ctx context.Context, conversationID int64, role wire.Role) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a fresh message identifier. ULIDs are unique and
// lexicographically ordered by creation time; monotonic entropy keeps
// same-millisecond IDs ordered too, which the read watermark queries
// depend on.
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ToWire converts a persisted message into its wire payload form.
func (m *Message) ToWire() *wire.ChatMessage {
	return &wire.ChatMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		IsAgent:        m.IsAgent,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

// MessageFromWire converts a wire payload into its persisted form.
func MessageFromWire(m *wire.ChatMessage) *Message {
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		IsAgent:        m.IsAgent,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}
