// ABOUTME: Transport abstraction for the realtime connection plus its WebSocket implementation
// ABOUTME: The Manager owns exactly one Transport at a time; Dialer produces fresh ones

package conn

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// Transport is one physical bidirectional connection. The Manager opens,
// reads from, and closes Transports; everything above it sees only frames.
type Transport interface {
	// Send writes one frame.
	Send(ctx context.Context, data []byte) error
	// Receive blocks until the next frame or a transport failure.
	Receive(ctx context.Context) ([]byte, error)
	// Ping performs a transport-level keepalive round trip.
	Ping(ctx context.Context) error
	// Close tears the connection down.
	Close() error
}

// Dialer establishes a new Transport. Called for the initial connect and
// for every reconnect attempt.
type Dialer func(ctx context.Context) (Transport, error)

// wsTransport implements Transport over a WebSocket connection.
type wsTransport struct {
	conn *websocket.Conn
}

// WebsocketDialer returns a Dialer that connects to the gateway's
// realtime endpoint. The token is passed as a bearer header so the
// gateway can resolve the caller's role.
func WebsocketDialer(url, token string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		opts := &websocket.DialOptions{}
		if token != "" {
			opts.HTTPHeader = map[string][]string{
				"Authorization": {"Bearer " + token},
			}
		}
		c, _, err := websocket.Dial(ctx, url, opts)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", url, err)
		}
		return &wsTransport{conn: c}, nil
	}
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}
