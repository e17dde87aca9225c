// Package gateway serves the conversation REST API and the realtime
// websocket endpoint.
//
// # Overview
//
// The gateway is the server side of chatsync. It persists conversations
// and messages through the store, fans live messages out over
// per-conversation topics via the Hub, and authenticates every caller
// with a JWT bearer token carrying a role claim.
//
// # REST API
//
// All /api routes require a bearer token. Customers are scoped to their
// own conversation; agents see everything.
//
//	POST /api/conversations                       find-or-create entry point
//	GET  /api/conversations                       queue listing (agent only)
//	GET  /api/conversations/by-customer/{id}      conversation lookup
//	GET  /api/conversations/{id}/messages         ordered history
//	POST /api/conversations/{id}/read             read acknowledgement
//	POST /api/conversations/{id}/assign           claim (agent only)
//	GET  /api/customers/{id}/unread               role-scoped unread count
//
// # Realtime
//
// GET /ws upgrades to a websocket speaking wire.Envelope frames:
// subscribe/unsubscribe address conversation topics, publish carries a
// chat message. The sender's identity always comes from the token, not
// the payload, and the server assigns every message a ULID so persisted
// IDs sort by creation time. A client-supplied correlation ID is echoed
// back in clientId so the sender can match the delivery to its pending
// message.
//
// # Hub
//
// The Hub is in-memory pub/sub keyed by conversation ID. Publishing is
// non-blocking: a subscriber that cannot keep up has frames dropped
// rather than stalling delivery for everyone else.
package gateway
