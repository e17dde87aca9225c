// ABOUTME: Publishes outbound messages and demultiplexes inbound frames to subscribers
// ABOUTME: Dedupes inbound deliveries by message ID with a bounded per-conversation set

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/storeline/chatsync/internal/conn"
	"github.com/storeline/chatsync/internal/dedupe"
	"github.com/storeline/chatsync/internal/registry"
	"github.com/storeline/chatsync/internal/wire"
)

const (
	// recentWindow covers plausible duplicate-delivery gaps, not history.
	recentWindow = 30 * time.Second
	// recentMaxPerConversation bounds the per-conversation seen set.
	recentMaxPerConversation = 256
)

// Dispatcher moves messages between the connection and the subscription
// registry. One bad inbound frame must never interrupt delivery for
// other conversations, so decode and dedupe failures are logged and
// swallowed rather than propagated.
type Dispatcher struct {
	conn   *conn.Manager
	reg    *registry.Registry
	recent *dedupe.Recent
	logger *slog.Logger

	// duplicatesDropped counts inbound messages suppressed by dedupe.
	// Observable for tests; not a user-visible error.
	duplicatesDropped atomic.Uint64
}

// New creates a Dispatcher and wires it into the connection's inbound path.
func New(mgr *conn.Manager, reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		conn:   mgr,
		reg:    reg,
		recent: dedupe.New(recentWindow, recentMaxPerConversation),
		logger: logger.With("component", "dispatch"),
	}
	mgr.SetInboundHandler(d.OnInbound)
	return d
}

// Publish sends an outbound message over the active connection. The
// canonical message ID is assigned server-side; Publish only stamps a
// client correlation ID, which the server echoes back so the sender can
// match the delivery to its pending message and dedupe suppresses any
// redundant echo.
func (d *Dispatcher) Publish(ctx context.Context, msg *wire.ChatMessage) error {
	if msg.ClientID == "" {
		msg.ClientID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	frame, err := wire.EncodeFrame(wire.TypePublish, "", msg)
	if err != nil {
		return fmt.Errorf("encoding publish frame: %w", err)
	}
	if err := d.conn.Send(ctx, frame); err != nil {
		return err
	}

	d.logger.Debug("message published",
		"conversation_id", msg.ConversationID,
		"client_id", msg.ClientID)
	return nil
}

// OnInbound decodes a raw frame and routes message frames to the
// registered subscribers for their conversation. Messages for a single
// conversation are delivered in the order the transport emitted them;
// nothing is buffered or reordered across conversations.
func (d *Dispatcher) OnInbound(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.logger.Warn("dropping undecodable frame", "err", err)
		return
	}

	switch env.Type {
	case wire.TypeMessage:
		d.handleMessage(&env)
	case wire.TypePong, wire.TypePing:
		// Keepalive traffic, nothing to route.
	case wire.TypeError:
		d.logger.Warn("server reported error", "error", env.Error)
	default:
		d.logger.Debug("ignoring frame", "type", env.Type)
	}
}

// handleMessage dedupes and fans out one inbound chat message.
func (d *Dispatcher) handleMessage(env *wire.Envelope) {
	var msg wire.ChatMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		d.logger.Warn("dropping undecodable message payload", "err", err)
		return
	}
	if msg.ConversationID == 0 && env.Topic != "" {
		id, err := wire.ParseConversationTopic(env.Topic)
		if err != nil {
			d.logger.Warn("dropping message with bad topic", "topic", env.Topic, "err", err)
			return
		}
		msg.ConversationID = id
	}

	// A redundant delivery may repeat the server ID, the client
	// correlation ID, or both; any match drops it.
	dup := d.recent.Seen(msg.ConversationID, msg.ID)
	if msg.ClientID != "" && d.recent.Seen(msg.ConversationID, msg.ClientID) {
		dup = true
	}
	if dup {
		d.duplicatesDropped.Add(1)
		d.logger.Debug("duplicate message dropped",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID)
		return
	}

	d.reg.Deliver(&msg)
}

// DuplicatesDropped returns how many inbound messages dedupe suppressed.
func (d *Dispatcher) DuplicatesDropped() uint64 {
	return d.duplicatesDropped.Load()
}

// Close releases the dedupe tracker's background resources.
func (d *Dispatcher) Close() {
	d.recent.Close()
}
