// Package session provides the two chat surface controllers: the
// customer widget and the agent console.
//
// # Overview
//
// A controller composes the shared chat services (conn, registry,
// dispatch, unread) with the gateway's REST API behind the ChatAPI
// interface. Controllers own surface lifecycle, not connection
// lifecycle: closing a surface unsubscribes its conversations but
// leaves the process-wide connection up for other surfaces. Only
// SignOut disconnects.
//
// # CustomerController
//
// Drives the floating widget for one customer:
//
//	c := session.NewCustomerController(api, mgr, reg, disp, tracker, customerID, onMessage, logger)
//	err := c.Open(ctx)
//
// Open resolves the customer's conversation (creating it on first
// contact), seeds local history from the API, connects, and subscribes.
// Send publishes without appending locally; the message lands in
// history via its transport echo, which carries the server-assigned ID
// plus the original correlation ID and therefore renders exactly once.
//
// # AgentController
//
// Drives the staff console. Open lists the whole conversation queue and
// subscribes to every conversation in it, assigned or not: a customer
// message in an unassigned conversation is as valid as any other.
// Claim assigns a conversation to this agent and keeps its
// subscription; Reply publishes an agent-authored message.
//
// # Reconnects
//
// Both controllers register connected/disconnected hooks on the
// Manager: stale subscription handles are dropped on disconnect and
// re-established on the next connect while the surface is open.
package session
