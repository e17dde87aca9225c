// ABOUTME: In-memory Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/storeline/chatsync/internal/wire"
)

// MemStore is an in-memory Store implementation for testing.
type MemStore struct {
	mu            sync.RWMutex
	nextID        int64
	conversations map[int64]*Conversation // keyed by conversation ID
	byCustomer    map[int64]int64         // customer ID -> conversation ID
	messages      map[int64][]*Message    // keyed by conversation ID
	readStates    map[readKey]*ReadState

	// Optional failure injection for error-path tests.
	FailMarkRead bool
}

type readKey struct {
	conversationID int64
	role           wire.Role
}

// NewMemStore creates a new MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		nextID:        1,
		conversations: make(map[int64]*Conversation),
		byCustomer:    make(map[int64]int64),
		messages:      make(map[int64][]*Message),
		readStates:    make(map[readKey]*ReadState),
	}
}

func (s *MemStore) CreateConversation(ctx context.Context, customerID int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCustomer[customerID]; exists {
		return nil, ErrDuplicateConversation
	}

	now := time.Now().UTC()
	conv := &Conversation{
		ID:         s.nextID,
		CustomerID: customerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.nextID++
	s.conversations[conv.ID] = conv
	s.byCustomer[customerID] = conv.ID
	return cloneConversation(conv), nil
}

func (s *MemStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemStore) FindConversationByCustomer(ctx context.Context, customerID int64) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCustomer[customerID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(s.conversations[id]), nil
}

func (s *MemStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]*Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		convs = append(convs, cloneConversation(conv))
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

func (s *MemStore) AssignAgent(ctx context.Context, conversationID, agentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.AgentID = &agentID
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) SaveMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	saved := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &saved)
	s.conversations[msg.ConversationID].UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) ListMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		copied := *m
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) MarkRead(ctx context.Context, conversationID int64, role wire.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailMarkRead {
		return context.DeadlineExceeded
	}

	var lastID string
	for _, m := range s.messages[conversationID] {
		if m.ID > lastID {
			lastID = m.ID
		}
	}
	s.readStates[readKey{conversationID, role}] = &ReadState{
		ConversationID: conversationID,
		Role:           role,
		LastReadID:     lastID,
		LastReadAt:     time.Now().UTC(),
	}
	return nil
}

func (s *MemStore) UnreadCount(ctx context.Context, conversationID int64, role wire.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var watermark string
	if rs, ok := s.readStates[readKey{conversationID, role}]; ok {
		watermark = rs.LastReadID
	}

	count := 0
	for _, m := range s.messages[conversationID] {
		if m.AuthorRole() == role.Opposite() && m.ID > watermark {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) Close() error {
	return nil
}

// AuthorRole returns the role that authored a persisted message.
func (m *Message) AuthorRole() wire.Role {
	if m.IsAgent {
		return wire.RoleAgent
	}
	return wire.RoleCustomer
}

func cloneConversation(c *Conversation) *Conversation {
	copied := *c
	if c.AgentID != nil {
		agentID := *c.AgentID
		copied.AgentID = &agentID
	}
	return &copied
}
