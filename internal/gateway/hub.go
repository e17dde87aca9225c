// ABOUTME: In-memory fan-out hub for per-conversation message topics
// ABOUTME: Delivers persisted chat messages to every live topic subscriber

package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/storeline/chatsync/internal/metrics"
	"github.com/storeline/chatsync/internal/wire"
)

// subscriberBufferSize is the channel buffer for each topic subscriber.
const subscriberBufferSize = 64

// Hub provides in-memory pub/sub over conversation topics. Each
// connected socket subscribes for the conversations it cares about and
// receives messages as they are persisted.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]map[string]chan *wire.ChatMessage // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[int64]map[string]chan *wire.ChatMessage),
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber for a conversation topic. Returns a
// channel that receives messages and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx
// is cancelled.
func (h *Hub) Subscribe(ctx context.Context, conversationID int64) (<-chan *wire.ChatMessage, string) {
	subID := uuid.New().String()
	ch := make(chan *wire.ChatMessage, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subscribers[conversationID]; !ok {
		h.subscribers[conversationID] = make(map[string]chan *wire.ChatMessage)
	}
	h.subscribers[conversationID][subID] = ch
	h.mu.Unlock()

	metrics.TopicSubscribers.Inc()
	h.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends a message to all subscribers of its conversation topic.
// Non-blocking: messages are dropped for subscribers whose channels are full.
func (h *Hub) Publish(msg *wire.ChatMessage) {
	h.mu.RLock()
	subs, ok := h.subscribers[msg.ConversationID]
	if !ok || len(subs) == 0 {
		h.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding it during sends
	targets := make([]chan *wire.ChatMessage, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- msg:
			metrics.MessagesDelivered.Inc()
		default:
			h.logger.Debug("dropped message for slow subscriber",
				"conversation_id", msg.ConversationID,
				"message_id", msg.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel. Idempotent.
func (h *Hub) Unsubscribe(conversationID int64, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	metrics.TopicSubscribers.Dec()

	if len(subs) == 0 {
		delete(h.subscribers, conversationID)
	}

	h.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for convID, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
			metrics.TopicSubscribers.Dec()
		}
		delete(h.subscribers, convID)
	}

	h.logger.Debug("hub closed")
}
