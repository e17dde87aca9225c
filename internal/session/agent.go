// ABOUTME: Agent console session controller: conversation list, claims, replies
// ABOUTME: Subscribes to every visible conversation and tracks agent-role unread counts

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/storeline/chatsync/internal/conn"
	"github.com/storeline/chatsync/internal/dispatch"
	"github.com/storeline/chatsync/internal/registry"
	"github.com/storeline/chatsync/internal/unread"
	"github.com/storeline/chatsync/internal/wire"
)

// AgentController drives the staff console for one support agent. The
// console sees the whole conversation queue: messages are valid in a
// conversation whether or not an assignment has completed, so the
// controller subscribes to unassigned conversations too.
type AgentController struct {
	api     ChatAPI
	conn    *conn.Manager
	reg     *registry.Registry
	disp    *dispatch.Dispatcher
	tracker *unread.Tracker
	logger  *slog.Logger

	agentID   int64
	onMessage MessageFunc

	mu            sync.Mutex
	state         State
	open          bool
	conversations []*wire.Conversation
	subs          map[int64]*registry.Subscription
}

// NewAgentController wires a console controller into the shared chat services.
func NewAgentController(
	api ChatAPI,
	mgr *conn.Manager,
	reg *registry.Registry,
	disp *dispatch.Dispatcher,
	tracker *unread.Tracker,
	agentID int64,
	onMessage MessageFunc,
	logger *slog.Logger,
) *AgentController {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AgentController{
		api:       api,
		conn:      mgr,
		reg:       reg,
		disp:      disp,
		tracker:   tracker,
		agentID:   agentID,
		onMessage: onMessage,
		logger:    logger.With("component", "console", "agent_id", agentID),
		subs:      make(map[int64]*registry.Subscription),
	}

	mgr.OnConnected(a.resubscribeAll)
	mgr.OnDisconnected(a.dropSubscriptions)
	return a
}

// Open brings the console up: list the conversation queue, connect, and
// subscribe to every listed conversation.
func (a *AgentController) Open(ctx context.Context) error {
	a.mu.Lock()
	if a.open {
		a.mu.Unlock()
		return nil
	}
	a.state = StateLoading
	a.mu.Unlock()

	convs, err := a.api.ListConversations(ctx)
	if err != nil {
		a.setError()
		return fmt.Errorf("listing conversations: %w", err)
	}

	a.mu.Lock()
	a.conversations = convs
	a.open = true
	a.mu.Unlock()

	for _, conv := range convs {
		a.tracker.SetCount(conv.ID, wire.RoleAgent, conv.UnreadCount)
	}

	if err := a.conn.Connect(ctx); err != nil {
		a.setError()
		return err
	}
	for _, conv := range convs {
		if err := a.subscribe(ctx, conv.ID); err != nil {
			a.setError()
			return err
		}
	}

	a.mu.Lock()
	a.state = StateReady
	a.mu.Unlock()

	a.logger.Info("console opened", "conversations", len(convs))
	return nil
}

// Claim assigns a conversation to this agent and ensures a live
// subscription for it. Agent-role-only operation.
func (a *AgentController) Claim(ctx context.Context, conversationID int64) error {
	if err := a.api.AssignAgent(ctx, conversationID, a.agentID); err != nil {
		return fmt.Errorf("claiming conversation %d: %w", conversationID, err)
	}

	a.mu.Lock()
	for _, conv := range a.conversations {
		if conv.ID == conversationID {
			agentID := a.agentID
			conv.AgentID = &agentID
		}
	}
	a.mu.Unlock()

	a.logger.Info("conversation claimed", "conversation_id", conversationID)
	return a.subscribe(ctx, conversationID)
}

// Reply publishes an agent message into a conversation.
func (a *AgentController) Reply(ctx context.Context, conversationID int64, content string) (*wire.ChatMessage, error) {
	msg := &wire.ChatMessage{
		ConversationID: conversationID,
		SenderID:       a.agentID,
		IsAgent:        true,
		Content:        content,
	}
	if err := a.disp.Publish(ctx, msg); err != nil {
		return msg, fmt.Errorf("sending reply: %w", err)
	}
	return msg, nil
}

// MarkRead acknowledges a conversation as read for the agent role.
func (a *AgentController) MarkRead(ctx context.Context, conversationID int64) error {
	return a.tracker.MarkRead(ctx, conversationID, wire.RoleAgent)
}

// UnreadCount returns the tracked agent-role unread count for a conversation.
func (a *AgentController) UnreadCount(conversationID int64) (int, bool) {
	return a.tracker.Count(conversationID, wire.RoleAgent)
}

// Conversations returns a copy of the console's conversation list.
func (a *AgentController) Conversations() []*wire.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*wire.Conversation{}, a.conversations...)
}

// State returns the controller's lifecycle state.
func (a *AgentController) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Close takes the console surface down, unsubscribing everything without
// disconnecting the shared connection.
func (a *AgentController) Close() {
	a.mu.Lock()
	subs := a.subs
	a.subs = make(map[int64]*registry.Subscription)
	a.open = false
	a.state = StateIdle
	a.mu.Unlock()

	for _, sub := range subs {
		a.reg.Unsubscribe(sub)
	}
	a.logger.Info("console closed")
}

// SignOut closes the surface and tears down the process-wide connection.
func (a *AgentController) SignOut() {
	a.Close()
	a.conn.Disconnect()
}

// subscribe registers the console's delivery callback for one
// conversation, once.
func (a *AgentController) subscribe(ctx context.Context, conversationID int64) error {
	a.mu.Lock()
	if _, exists := a.subs[conversationID]; exists {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	sub, err := a.reg.Subscribe(ctx, conversationID, a.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribing to conversation %d: %w", conversationID, err)
	}

	a.mu.Lock()
	a.subs[conversationID] = sub
	a.mu.Unlock()
	return nil
}

// resubscribeAll restores live subscriptions after a reconnect.
func (a *AgentController) resubscribeAll() {
	a.mu.Lock()
	open := a.open
	convs := append([]*wire.Conversation{}, a.conversations...)
	a.mu.Unlock()
	if !open {
		return
	}

	for _, conv := range convs {
		if err := a.subscribe(context.Background(), conv.ID); err != nil {
			a.logger.Warn("re-subscribe after reconnect failed",
				"conversation_id", conv.ID, "err", err)
		}
	}
}

// dropSubscriptions forgets stale handles when the connection goes away.
func (a *AgentController) dropSubscriptions() {
	a.mu.Lock()
	a.subs = make(map[int64]*registry.Subscription)
	a.mu.Unlock()
}

// handleMessage is the registry delivery callback for the console.
func (a *AgentController) handleMessage(msg *wire.ChatMessage) {
	a.tracker.OnMessage(msg, wire.RoleAgent)
	if a.onMessage != nil {
		a.onMessage(msg)
	}
}

// setError moves the controller to the error state.
func (a *AgentController) setError() {
	a.mu.Lock()
	a.state = StateError
	a.mu.Unlock()
}
