// ABOUTME: Per-conversation subscription registry with ordered callback fan-out
// ABOUTME: Announces topic interest to the gateway and maps conversations to callbacks

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storeline/chatsync/internal/conn"
	"github.com/storeline/chatsync/internal/wire"
)

// unsubscribeTimeout bounds the best-effort unsubscribe announcement.
const unsubscribeTimeout = 5 * time.Second

// Callback receives one inbound chat message for a subscribed conversation.
type Callback func(msg *wire.ChatMessage)

// Subscription is a handle for one registered callback. Handles are
// independently cancelable; holding a handle after Unsubscribe is harmless.
type Subscription struct {
	id             string
	ConversationID int64
	fn             Callback
}

// connection is what the registry needs from the connection manager:
// liveness, and a way to announce topic interest to the gateway.
type connection interface {
	Connected() bool
	Send(ctx context.Context, data []byte) error
}

// Registry tracks which callbacks want messages for which conversation.
// Multiple live handles may target the same conversation (widget plus a
// badge listener, or a duplicated tab); delivery fans out to all of them
// in registration order. The first handle for a conversation sends a
// subscribe frame to the gateway, and removing the last one sends an
// unsubscribe; in between, topic interest is purely local. Subscriptions
// do not survive a disconnect: the Manager's disconnected hook calls
// Reset, and re-subscribing is the caller's job in its connected
// callback, which re-announces the topic on the fresh transport.
type Registry struct {
	mu     sync.RWMutex
	subs   map[int64][]*Subscription
	conn   connection
	logger *slog.Logger
}

// New creates a Registry bound to a connection manager. The registry
// clears itself whenever the connection goes away.
func New(mgr *conn.Manager, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		subs:   make(map[int64][]*Subscription),
		conn:   mgr,
		logger: logger.With("component", "registry"),
	}
	mgr.OnDisconnected(r.Reset)
	return r
}

// Subscribe registers a callback for a conversation's inbound messages.
// Requires the connection to be established; callers are responsible for
// calling Connect first and retrying subscribe from the connected
// callback. The first handle for a conversation announces the topic to
// the gateway; if that announcement cannot be sent, nothing is
// registered and the error is returned.
func (r *Registry) Subscribe(ctx context.Context, conversationID int64, fn Callback) (*Subscription, error) {
	if !r.conn.Connected() {
		return nil, conn.ErrNotConnected
	}

	sub := &Subscription{
		id:             uuid.New().String(),
		ConversationID: conversationID,
		fn:             fn,
	}

	r.mu.Lock()
	first := len(r.subs[conversationID]) == 0
	r.subs[conversationID] = append(r.subs[conversationID], sub)
	r.mu.Unlock()

	if first {
		if err := r.announce(ctx, wire.TypeSubscribe, conversationID); err != nil {
			r.remove(sub)
			return nil, err
		}
	}

	r.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", sub.id)
	return sub, nil
}

// announce sends a subscribe or unsubscribe frame for a conversation topic.
func (r *Registry) announce(ctx context.Context, frameType string, conversationID int64) error {
	frame, err := wire.EncodeFrame(frameType, wire.ConversationTopic(conversationID), nil)
	if err != nil {
		return err
	}
	if err := r.conn.Send(ctx, frame); err != nil {
		return fmt.Errorf("announcing %s for conversation %d: %w", frameType, conversationID, err)
	}
	return nil
}

// Unsubscribe removes a handle. Idempotent: removing a handle that was
// already removed is a silent no-op. Canceling the last subscription for
// a conversation tells the gateway to stop forwarding the topic but does
// not close the connection.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	removed, last := r.remove(sub)
	if !removed {
		return
	}

	r.logger.Debug("subscriber removed",
		"conversation_id", sub.ConversationID,
		"sub_id", sub.id)

	if !last {
		return
	}
	// Best effort: if the connection is already gone the gateway forgot
	// the topic with the session anyway.
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := r.announce(ctx, wire.TypeUnsubscribe, sub.ConversationID); err != nil && !errors.Is(err, conn.ErrNotConnected) {
		r.logger.Warn("unsubscribe announcement failed",
			"conversation_id", sub.ConversationID, "err", err)
	}
}

// remove deletes a handle from the table, reporting whether it was
// present and whether it was the conversation's last handle.
func (r *Registry) remove(sub *Subscription) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[sub.ConversationID]
	for i, s := range subs {
		if s.id == sub.id {
			r.subs[sub.ConversationID] = append(subs[:i:i], subs[i+1:]...)
			if len(r.subs[sub.ConversationID]) == 0 {
				delete(r.subs, sub.ConversationID)
				return true, true
			}
			return true, false
		}
	}
	return false, false
}

// Deliver fans an inbound message out to every subscriber of its
// conversation, in registration order. Callbacks run synchronously so
// per-conversation ordering is preserved.
func (r *Registry) Deliver(msg *wire.ChatMessage) {
	r.mu.RLock()
	subs := append([]*Subscription{}, r.subs[msg.ConversationID]...)
	r.mu.RUnlock()

	for _, s := range subs {
		s.fn(msg)
	}
}

// SubscriberCount returns the number of live handles for a conversation.
func (r *Registry) SubscriberCount(conversationID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[conversationID])
}

// Reset drops every subscription. Called on disconnect; callers must
// re-establish their subscriptions on the next connect.
func (r *Registry) Reset() {
	r.mu.Lock()
	n := len(r.subs)
	r.subs = make(map[int64][]*Subscription)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Debug("subscriptions cleared", "conversations", n)
	}
}
