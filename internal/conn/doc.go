// Package conn manages the single realtime connection shared by every
// chat surface in a client process.
//
// # Overview
//
// The conn package owns the websocket lifecycle: dialing, heartbeats,
// bounded automatic reconnection, and explicit teardown. The widget, the
// agent console, and the unread badge all route through one Manager
// rather than opening independent sockets.
//
// # Manager
//
// The Manager is created with a Dialer and lifecycle options:
//
//	mgr := conn.NewManager(conn.WebsocketDialer(url, token), conn.Options{
//	    ReconnectDelay:       2 * time.Second,
//	    MaxReconnectAttempts: 5,
//	    PingInterval:         30 * time.Second,
//	})
//
// Key operations:
//
//   - Connect(ctx): Establish the transport; idempotent while connected
//   - Disconnect(): Tear down and stop reconnecting
//   - Send(ctx, frame): Transmit one frame; ErrNotConnected otherwise
//   - OnConnected / OnDisconnected / OnError: lifecycle observers
//   - SetInboundHandler(fn): Install the inbound frame handler
//
// # Reconnection
//
// An unsolicited transport closure schedules a reconnect after a fixed
// delay. Attempts are counted across consecutive closures and capped at
// MaxReconnectAttempts; when the budget is exhausted the Manager moves
// to StateFailed and notifies the error observers. Only an explicit
// Connect call (a user-visible retry) resets the budget, so a flapping
// network cannot retry forever.
//
// Subscriptions do not survive a reconnect. The connected callback fires
// after every successful connect, including automatic ones, and callers
// re-establish their subscriptions there.
//
// # Thread Safety
//
// The Manager is safe for concurrent use. Stale goroutines from
// superseded transports are fenced off with an epoch counter.
package conn
