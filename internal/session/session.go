// ABOUTME: Shared session controller types: the ChatAPI boundary and lifecycle states
// ABOUTME: Controllers compose conn/registry/dispatch/unread into the two chat roles

package session

import (
	"context"

	"github.com/storeline/chatsync/internal/wire"
)

// ChatAPI is the boundary contract to the conversation service. Lookup
// misses are reported as wire.ErrNotFound; any other error propagates to
// the controller's error state.
type ChatAPI interface {
	FindConversation(ctx context.Context, customerID int64) (*wire.Conversation, error)
	CreateConversation(ctx context.Context, customerID int64) (*wire.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*wire.ChatMessage, error)
	MarkRead(ctx context.Context, conversationID int64) error
	GetUnreadCount(ctx context.Context, customerID int64) (int, error)
	ListConversations(ctx context.Context) ([]*wire.Conversation, error)
	AssignAgent(ctx context.Context, conversationID, agentID int64) error
}

// State is a controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MessageFunc is the UI hook invoked for each delivered message.
type MessageFunc func(msg *wire.ChatMessage)
