// ABOUTME: Per-conversation, per-role unread counts and read-receipt bookkeeping
// ABOUTME: Reconciles optimistic local increments with server acknowledgements

package unread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/storeline/chatsync/internal/wire"
)

// ErrReadAckFailed wraps a failed read acknowledgement. The local count
// is left unchanged and the call is eligible for retry on the next
// explicit user read action; it is never retried automatically.
var ErrReadAckFailed = errors.New("read acknowledgement failed")

// ReadAcker is the server-side read acknowledgement contract.
type ReadAcker interface {
	MarkRead(ctx context.Context, conversationID int64) error
}

type key struct {
	conversationID int64
	role           wire.Role
}

type state struct {
	count int
	// known distinguishes synced(0) from never-fetched.
	known bool
	// ackInFlight debounces MarkRead: a second call before the first
	// acknowledgement returns is a no-op.
	ackInFlight bool
}

// Tracker maintains unread counts per (conversation, role). Inbound
// messages authored by the opposite role bump the count optimistically;
// the next authoritative fetch always wins over local deltas.
type Tracker struct {
	mu     sync.Mutex
	counts map[key]*state
	acker  ReadAcker
	logger *slog.Logger
}

// New creates a Tracker that acknowledges reads through acker.
func New(acker ReadAcker, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		counts: make(map[key]*state),
		acker:  acker,
		logger: logger.With("component", "unread"),
	}
}

// Count returns the tracked unread count for a conversation and role.
// ok is false while no data has been fetched or observed yet.
func (t *Tracker) Count(conversationID int64, role wire.Role) (count int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, exists := t.counts[key{conversationID, role}]
	if !exists || !st.known {
		return 0, false
	}
	return st.count, true
}

// OnMessage records an inbound message against the viewing role's count.
// Only messages authored by the other role count as unread.
func (t *Tracker) OnMessage(msg *wire.ChatMessage, viewer wire.Role) {
	if msg.AuthorRole() == viewer {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(msg.ConversationID, viewer)
	if st.ackInFlight {
		// The surface is actively marking read; the acknowledgement's
		// authoritative result will cover this message.
		return
	}
	st.count++
	st.known = true
}

// SetCount applies an authoritative server-computed count, discarding
// any provisional local increments.
func (t *Tracker) SetCount(conversationID int64, role wire.Role, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateLocked(conversationID, role)
	st.count = count
	st.known = true
}

// MarkRead acknowledges the conversation as read for the role. Debounced
// per conversation: while an acknowledgement is in flight, further calls
// are silent no-ops. A failed acknowledgement leaves the count unchanged.
func (t *Tracker) MarkRead(ctx context.Context, conversationID int64, role wire.Role) error {
	t.mu.Lock()
	st := t.stateLocked(conversationID, role)
	if st.ackInFlight {
		t.mu.Unlock()
		return nil
	}
	st.ackInFlight = true
	t.mu.Unlock()

	err := t.acker.MarkRead(ctx, conversationID)

	t.mu.Lock()
	st.ackInFlight = false
	if err == nil {
		st.count = 0
		st.known = true
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("read acknowledgement failed",
			"conversation_id", conversationID,
			"role", role,
			"err", err)
		return fmt.Errorf("%w: %v", ErrReadAckFailed, err)
	}

	t.logger.Debug("conversation marked read",
		"conversation_id", conversationID,
		"role", role)
	return nil
}

// stateLocked returns the state entry, creating it if needed. Must be
// called with mu held.
func (t *Tracker) stateLocked(conversationID int64, role wire.Role) *state {
	k := key{conversationID, role}
	st, ok := t.counts[k]
	if !ok {
		st = &state{}
		t.counts[k] = st
	}
	return st
}
