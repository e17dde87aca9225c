// ABOUTME: WebSocket endpoint for the realtime transport
// ABOUTME: Accepts publish/subscribe frames and forwards topic deliveries

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/storeline/chatsync/internal/metrics"
	"github.com/storeline/chatsync/internal/store"
	"github.com/storeline/chatsync/internal/wire"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsMaxFrameSize = 64 * 1024
	// outboundQueueSize bounds frames waiting for the socket writer.
	outboundQueueSize = 256
)

// wsSession is one connected socket: its identity, outbound queue, and
// active topic subscriptions.
type wsSession struct {
	identity *Identity
	conn     *websocket.Conn
	outbound chan []byte
	subs     map[int64]string // conversationID -> hub subscription ID
	logger   *slog.Logger
}

// HandleWS upgrades the request and runs the realtime session loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := g.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(wsMaxFrameSize)

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	sess := &wsSession{
		identity: identity,
		conn:     conn,
		outbound: make(chan []byte, outboundQueueSize),
		subs:     make(map[int64]string),
		logger: g.logger.With(
			"user_id", identity.UserID,
			"role", identity.Role),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go sess.writeLoop(ctx)
	sess.logger.Info("realtime session opened")
	defer sess.logger.Info("realtime session closed")

	g.readLoop(ctx, sess)
	conn.Close(websocket.StatusNormalClosure, "bye")
}

// authenticate resolves the caller from a bearer header or token query param.
func (g *Gateway) authenticate(r *http.Request) (*Identity, error) {
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); auth != "" {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		return nil, ErrInvalidToken
	}
	return g.tokens.Verify(token)
}

// readLoop pumps frames from the socket until it closes.
func (g *Gateway) readLoop(ctx context.Context, sess *wsSession) {
	for {
		_, data, err := sess.conn.Read(ctx)
		if err != nil {
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			sess.sendError("undecodable frame")
			continue
		}
		if err := env.Validate(); err != nil {
			sess.sendError(err.Error())
			continue
		}

		switch env.Type {
		case wire.TypeHello:
			// Nothing to negotiate yet.
		case wire.TypeSubscribe:
			g.handleSubscribe(ctx, sess, env.Topic)
		case wire.TypeUnsubscribe:
			g.handleUnsubscribe(sess, env.Topic)
		case wire.TypePublish:
			g.handlePublish(ctx, sess, env.Payload)
		case wire.TypePing:
			if frame, err := wire.EncodeFrame(wire.TypePong, "", nil); err == nil {
				sess.send(frame)
			}
		default:
			sess.sendError(fmt.Sprintf("unexpected frame type %q", env.Type))
		}
	}
}

// handleSubscribe attaches the session to a conversation topic after an
// access check. Duplicate subscribes for the same topic are no-ops.
func (g *Gateway) handleSubscribe(ctx context.Context, sess *wsSession, topic string) {
	convID, err := wire.ParseConversationTopic(topic)
	if err != nil {
		sess.sendError(err.Error())
		return
	}
	if _, exists := sess.subs[convID]; exists {
		return
	}
	if err := g.authorizeConversation(ctx, sess.identity, convID); err != nil {
		sess.sendError("forbidden")
		return
	}

	ch, subID := g.hub.Subscribe(ctx, convID)
	sess.subs[convID] = subID

	go func() {
		for msg := range ch {
			frame, err := wire.EncodeFrame(wire.TypeMessage, wire.ConversationTopic(msg.ConversationID), msg)
			if err != nil {
				continue
			}
			sess.send(frame)
		}
	}()

	sess.logger.Debug("topic subscribed", "conversation_id", convID)
}

// handleUnsubscribe detaches the session from a conversation topic.
func (g *Gateway) handleUnsubscribe(sess *wsSession, topic string) {
	convID, err := wire.ParseConversationTopic(topic)
	if err != nil {
		sess.sendError(err.Error())
		return
	}
	if subID, ok := sess.subs[convID]; ok {
		delete(sess.subs, convID)
		g.hub.Unsubscribe(convID, subID)
	}
}

// handlePublish validates, persists, and fans out one chat message. The
// server assigns the canonical message ID: a ULID, so persisted IDs sort
// by creation time and the read-watermark queries stay correct. The
// client's correlation ID rides along in clientId for the echo only.
func (g *Gateway) handlePublish(ctx context.Context, sess *wsSession, payload []byte) {
	var msg wire.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		sess.sendError("undecodable message payload")
		return
	}
	if msg.ConversationID == 0 || msg.Content == "" {
		sess.sendError("message requires conversationId and content")
		return
	}
	if err := g.authorizeConversation(ctx, sess.identity, msg.ConversationID); err != nil {
		sess.sendError("forbidden")
		return
	}

	// The sender's identity and the message ID are authoritative,
	// whatever the payload says.
	msg.SenderID = sess.identity.UserID
	msg.IsAgent = sess.identity.Role == wire.RoleAgent
	msg.ID = store.NewMessageID()
	msg.CreatedAt = time.Now().UTC()

	if err := g.store.SaveMessage(ctx, store.MessageFromWire(&msg)); err != nil {
		sess.logger.Warn("failed to persist message",
			"conversation_id", msg.ConversationID, "err", err)
		sess.sendError("message not accepted")
		return
	}

	metrics.MessagesPublished.Inc()
	g.hub.Publish(&msg)

	sess.logger.Debug("message accepted",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID)
}

// authorizeConversation checks topic access: agents see every
// conversation, customers only their own.
func (g *Gateway) authorizeConversation(ctx context.Context, identity *Identity, conversationID int64) error {
	if identity.Role == wire.RoleAgent {
		return nil
	}
	conv, err := g.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.CustomerID != identity.UserID {
		return fmt.Errorf("conversation %d does not belong to customer %d", conversationID, identity.UserID)
	}
	return nil
}

// writeLoop is the single socket writer; everything outbound queues
// through it so topic forwarders never write concurrently.
func (s *wsSession) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.outbound:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := s.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// send queues a frame, dropping it if the session writer is backed up.
func (s *wsSession) send(frame []byte) {
	select {
	case s.outbound <- frame:
	default:
		s.logger.Debug("outbound queue full, dropping frame")
	}
}

// sendError queues an error frame.
func (s *wsSession) sendError(msg string) {
	frame, err := json.Marshal(&wire.Envelope{Type: wire.TypeError, Error: msg})
	if err != nil {
		return
	}
	s.send(frame)
}
