// ABOUTME: Customer widget session controller: find-or-create, history seed, live subscription
// ABOUTME: Owns the widget surface lifecycle independent of the shared connection's lifecycle

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/storeline/chatsync/internal/conn"
	"github.com/storeline/chatsync/internal/dispatch"
	"github.com/storeline/chatsync/internal/registry"
	"github.com/storeline/chatsync/internal/unread"
	"github.com/storeline/chatsync/internal/wire"
)

// CustomerController drives the floating chat widget for one customer.
// Opening the widget resolves (or creates) the customer's conversation,
// seeds local history, and subscribes for live messages. Closing the
// widget unsubscribes but deliberately leaves the shared connection up:
// other surfaces, like the unread badge poller, may still need it.
type CustomerController struct {
	api     ChatAPI
	conn    *conn.Manager
	reg     *registry.Registry
	disp    *dispatch.Dispatcher
	tracker *unread.Tracker
	logger  *slog.Logger

	customerID int64
	onMessage  MessageFunc

	mu      sync.Mutex
	state   State
	open    bool
	conv    *wire.Conversation
	history []*wire.ChatMessage
	sub     *registry.Subscription
}

// NewCustomerController wires a widget controller into the shared chat
// services. onMessage is the UI render hook; pass nil to skip.
func NewCustomerController(
	api ChatAPI,
	mgr *conn.Manager,
	reg *registry.Registry,
	disp *dispatch.Dispatcher,
	tracker *unread.Tracker,
	customerID int64,
	onMessage MessageFunc,
	logger *slog.Logger,
) *CustomerController {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CustomerController{
		api:        api,
		conn:       mgr,
		reg:        reg,
		disp:       disp,
		tracker:    tracker,
		customerID: customerID,
		onMessage:  onMessage,
		logger:     logger.With("component", "widget", "customer_id", customerID),
	}

	// Subscriptions do not survive a reconnect; re-establish ours from
	// the connected callback while the surface is open.
	mgr.OnConnected(c.resubscribe)
	mgr.OnDisconnected(c.dropSubscription)
	return c
}

// Open brings the widget surface up: resolve the conversation, seed
// history, connect, and subscribe. Idempotent while already open.
func (c *CustomerController) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return nil
	}
	c.state = StateLoading
	c.mu.Unlock()

	conv, err := c.resolveConversation(ctx)
	if err != nil {
		c.setError()
		return err
	}

	msgs, err := c.api.ListMessages(ctx, conv.ID)
	if err != nil {
		c.setError()
		return fmt.Errorf("seeding history: %w", err)
	}

	c.mu.Lock()
	c.conv = conv
	c.history = msgs
	c.open = true
	c.mu.Unlock()

	c.tracker.SetCount(conv.ID, wire.RoleCustomer, conv.UnreadCount)

	if err := c.conn.Connect(ctx); err != nil {
		c.setError()
		return err
	}
	if err := c.subscribe(ctx); err != nil {
		c.setError()
		return err
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Info("widget opened", "conversation_id", conv.ID, "history", len(msgs))
	return nil
}

// resolveConversation finds the customer's conversation, creating one on
// the first open. Only a NotFound miss triggers creation; any other
// lookup error propagates.
func (c *CustomerController) resolveConversation(ctx context.Context) (*wire.Conversation, error) {
	conv, err := c.api.FindConversation(ctx, c.customerID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, wire.ErrNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	conv, err = c.api.CreateConversation(ctx, c.customerID)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	c.logger.Info("conversation created", "conversation_id", conv.ID)
	return conv, nil
}

// Send publishes a customer message. On failure the error surfaces to
// the caller so the UI can mark that message failed-to-send and invite a
// manual resend; nothing is silently dropped. The sent message lands in
// local history via its transport echo, which dedupe keeps to one copy.
func (c *CustomerController) Send(ctx context.Context, content string) (*wire.ChatMessage, error) {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return nil, fmt.Errorf("widget not open")
	}

	msg := &wire.ChatMessage{
		ConversationID: conv.ID,
		SenderID:       c.customerID,
		IsAgent:        false,
		Content:        content,
	}
	if err := c.disp.Publish(ctx, msg); err != nil {
		return msg, fmt.Errorf("sending message: %w", err)
	}
	return msg, nil
}

// MarkRead acknowledges the conversation as read for the customer role.
func (c *CustomerController) MarkRead(ctx context.Context) error {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return nil
	}
	return c.tracker.MarkRead(ctx, conv.ID, wire.RoleCustomer)
}

// UnreadCount returns the tracked unread count for the customer role.
func (c *CustomerController) UnreadCount() (int, bool) {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return 0, false
	}
	return c.tracker.Count(conv.ID, wire.RoleCustomer)
}

// Messages returns a copy of the local message history.
func (c *CustomerController) Messages() []*wire.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*wire.ChatMessage{}, c.history...)
}

// Conversation returns the resolved conversation, or nil before Open.
func (c *CustomerController) Conversation() *wire.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}

// State returns the controller's lifecycle state.
func (c *CustomerController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close takes the widget surface down. It unsubscribes but does not
// disconnect the shared connection; only SignOut does that.
func (c *CustomerController) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.open = false
	c.state = StateIdle
	c.mu.Unlock()

	c.reg.Unsubscribe(sub)
	c.logger.Info("widget closed")
}

// SignOut closes the surface and tears down the process-wide connection.
// Call only on an explicit full sign-out event.
func (c *CustomerController) SignOut() {
	c.Close()
	c.conn.Disconnect()
}

// subscribe registers the widget's delivery callback, once.
func (c *CustomerController) subscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.sub != nil || c.conv == nil {
		c.mu.Unlock()
		return nil
	}
	convID := c.conv.ID
	c.mu.Unlock()

	sub, err := c.reg.Subscribe(ctx, convID, c.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribing to conversation %d: %w", convID, err)
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// resubscribe restores the live subscription after a reconnect.
func (c *CustomerController) resubscribe() {
	c.mu.Lock()
	shouldSubscribe := c.open && c.sub == nil
	c.mu.Unlock()
	if !shouldSubscribe {
		return
	}
	if err := c.subscribe(context.Background()); err != nil {
		c.logger.Warn("re-subscribe after reconnect failed", "err", err)
	}
}

// dropSubscription forgets the stale handle when the connection goes away.
func (c *CustomerController) dropSubscription() {
	c.mu.Lock()
	c.sub = nil
	c.mu.Unlock()
}

// handleMessage is the registry delivery callback for the widget.
func (c *CustomerController) handleMessage(msg *wire.ChatMessage) {
	c.mu.Lock()
	c.history = append(c.history, msg)
	c.mu.Unlock()

	c.tracker.OnMessage(msg, wire.RoleCustomer)
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// setError moves the controller to the error state.
func (c *CustomerController) setError() {
	c.mu.Lock()
	c.state = StateError
	c.mu.Unlock()
}
