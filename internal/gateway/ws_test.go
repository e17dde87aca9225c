// ABOUTME: End-to-end tests for the realtime websocket endpoint
// ABOUTME: Covers publish/subscribe round-trips, identity stamping, and topic access

package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeline/chatsync/internal/wire"
)

type wsFixture struct {
	*apiFixture
	wsURL string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	f := newAPIFixture(t)
	return &wsFixture{
		apiFixture: f,
		wsURL:      strings.Replace(f.server.URL, "http", "ws", 1) + "/ws",
	}
}

func (f *wsFixture) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, f.wsURL+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frameType, topic string, payload any) {
	t.Helper()
	frame, err := wire.EncodeFrame(frameType, topic, payload)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) *wire.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env wire.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return &env
}

func TestWS_RejectsMissingToken(t *testing.T) {
	f := newWSFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, f.wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 401, resp.StatusCode)
	}
}

func TestWS_PublishSubscribeRoundTrip(t *testing.T) {
	f := newWSFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, err := f.store.CreateConversation(ctx, 3)
	require.NoError(t, err)

	customer := f.dial(t, ctx, f.customerToken)
	agent := f.dial(t, ctx, f.agentToken)

	topic := wire.ConversationTopic(conv.ID)
	sendFrame(t, ctx, customer, wire.TypeSubscribe, topic, nil)
	sendFrame(t, ctx, agent, wire.TypeSubscribe, topic, nil)

	// Let both subscriptions land before publishing.
	for _, conn := range []*websocket.Conn{customer, agent} {
		sendFrame(t, ctx, conn, wire.TypePing, "", nil)
		require.Equal(t, wire.TypePong, readEnvelope(t, ctx, conn).Type)
	}

	sendFrame(t, ctx, customer, wire.TypePublish, "", &wire.ChatMessage{
		ClientID:       "client-42",
		ConversationID: conv.ID,
		Content:        "where is my order?",
	})

	// Both sides receive the message with a server-assigned ID; the
	// client correlation ID is echoed back unchanged.
	var serverID string
	for _, conn := range []*websocket.Conn{customer, agent} {
		env := readEnvelope(t, ctx, conn)
		require.Equal(t, wire.TypeMessage, env.Type)
		assert.Equal(t, topic, env.Topic)

		var msg wire.ChatMessage
		require.NoError(t, json.Unmarshal(env.Payload, &msg))
		require.NotEmpty(t, msg.ID)
		serverID = msg.ID
		assert.Equal(t, "client-42", msg.ClientID)
		assert.Equal(t, int64(3), msg.SenderID, "sender stamped from the token identity")
		assert.False(t, msg.IsAgent)
		assert.False(t, msg.CreatedAt.IsZero())
	}

	// The message was persisted under the server ID.
	msgs, err := f.store.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, serverID, msgs[0].ID)
}

func TestWS_SenderIdentityOverridesPayload(t *testing.T) {
	f := newWSFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, err := f.store.CreateConversation(ctx, 3)
	require.NoError(t, err)

	agent := f.dial(t, ctx, f.agentToken)
	sendFrame(t, ctx, agent, wire.TypeSubscribe, wire.ConversationTopic(conv.ID), nil)
	sendFrame(t, ctx, agent, wire.TypePing, "", nil)
	require.Equal(t, wire.TypePong, readEnvelope(t, ctx, agent).Type)

	// Spoofed sender fields and a spoofed message ID are ignored.
	sendFrame(t, ctx, agent, wire.TypePublish, "", &wire.ChatMessage{
		ID:             "zzzz-spoofed",
		ConversationID: conv.ID,
		SenderID:       12345,
		IsAgent:        false,
		Content:        "it ships tomorrow",
	})

	env := readEnvelope(t, ctx, agent)
	require.Equal(t, wire.TypeMessage, env.Type)
	var msg wire.ChatMessage
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Equal(t, int64(99), msg.SenderID)
	assert.True(t, msg.IsAgent)
	require.NotEmpty(t, msg.ID)
	assert.NotEqual(t, "zzzz-spoofed", msg.ID, "the server always assigns the message ID")
}

func TestWS_CustomerCannotSubscribeToForeignConversation(t *testing.T) {
	f := newWSFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	other, err := f.store.CreateConversation(ctx, 4)
	require.NoError(t, err)

	customer := f.dial(t, ctx, f.customerToken)
	sendFrame(t, ctx, customer, wire.TypeSubscribe, wire.ConversationTopic(other.ID), nil)

	env := readEnvelope(t, ctx, customer)
	assert.Equal(t, wire.TypeError, env.Type)
	assert.Equal(t, "forbidden", env.Error)
}

func TestWS_PublishRequiresContent(t *testing.T) {
	f := newWSFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, err := f.store.CreateConversation(ctx, 3)
	require.NoError(t, err)

	customer := f.dial(t, ctx, f.customerToken)
	sendFrame(t, ctx, customer, wire.TypePublish, "", &wire.ChatMessage{ConversationID: conv.ID})

	env := readEnvelope(t, ctx, customer)
	assert.Equal(t, wire.TypeError, env.Type)
}

func TestWS_ServerIDsKeepWatermarkOrder(t *testing.T) {
	f := newWSFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, err := f.store.CreateConversation(ctx, 3)
	require.NoError(t, err)

	customer := f.dial(t, ctx, f.customerToken)
	sendFrame(t, ctx, customer, wire.TypeSubscribe, wire.ConversationTopic(conv.ID), nil)
	sendFrame(t, ctx, customer, wire.TypePing, "", nil)
	require.Equal(t, wire.TypePong, readEnvelope(t, ctx, customer).Type)

	publish := func(clientID, content string) {
		sendFrame(t, ctx, customer, wire.TypePublish, "", &wire.ChatMessage{
			ClientID:       clientID,
			ConversationID: conv.ID,
			Content:        content,
		})
		require.Equal(t, wire.TypeMessage, readEnvelope(t, ctx, customer).Type)
	}

	// Correlation IDs are random UUIDs; a high-sorting one followed by a
	// low-sorting one must not disturb persisted ordering or the read
	// watermark.
	publish("ffffffff-0000-0000-0000-000000000001", "first")
	require.NoError(t, f.store.MarkRead(ctx, conv.ID, wire.RoleAgent))
	publish("00000000-0000-0000-0000-000000000002", "second")

	count, err := f.store.UnreadCount(ctx, conv.ID, wire.RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only the post-watermark message is unread")

	msgs, err := f.store.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content, "history stays in creation order")
	assert.Equal(t, "second", msgs[1].Content)
	assert.Less(t, msgs[0].ID, msgs[1].ID)
}

func TestWS_UnsubscribeStopsDelivery(t *testing.T) {
	f := newWSFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, err := f.store.CreateConversation(ctx, 3)
	require.NoError(t, err)
	topic := wire.ConversationTopic(conv.ID)

	customer := f.dial(t, ctx, f.customerToken)
	agent := f.dial(t, ctx, f.agentToken)

	sendFrame(t, ctx, customer, wire.TypeSubscribe, topic, nil)
	sendFrame(t, ctx, customer, wire.TypeUnsubscribe, topic, nil)
	sendFrame(t, ctx, agent, wire.TypeSubscribe, topic, nil)

	// Wait until the customer's unsubscribe has been processed.
	sendFrame(t, ctx, customer, wire.TypePing, "", nil)
	require.Equal(t, wire.TypePong, readEnvelope(t, ctx, customer).Type)
	sendFrame(t, ctx, agent, wire.TypePing, "", nil)
	require.Equal(t, wire.TypePong, readEnvelope(t, ctx, agent).Type)

	sendFrame(t, ctx, agent, wire.TypePublish, "", &wire.ChatMessage{
		ConversationID: conv.ID,
		Content:        "hello?",
	})

	// The agent still receives its own echo; the customer gets nothing.
	require.Equal(t, wire.TypeMessage, readEnvelope(t, ctx, agent).Type)

	shortCtx, shortCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer shortCancel()
	_, _, err = customer.Read(shortCtx)
	assert.Error(t, err, "no delivery after unsubscribe")
}
