// ABOUTME: Bounded recent-message-ID tracking for duplicate delivery suppression
// ABOUTME: Keeps a small TTL'd set of seen IDs per conversation, not a full history

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the timestamp and eviction-list element for a seen message ID.
type entry struct {
	timestamp time.Time
	element   *list.Element
}

// conversationSet tracks recently seen message IDs for one conversation,
// with insertion order kept in a list for O(1) eviction.
type conversationSet struct {
	seen  map[string]*entry
	order *list.List // message IDs in insertion order, oldest at front
}

// Recent is a thread-safe, TTL-based, size-limited record of message IDs
// recently delivered per conversation. The dispatcher uses it to drop
// duplicate inbound deliveries. The window only needs to cover plausible
// duplicate arrival gaps (a few seconds of traffic), so each conversation
// keeps at most maxPerConversation IDs.
type Recent struct {
	mu      sync.Mutex
	convs   map[int64]*conversationSet
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a recent-ID tracker with the given TTL and per-conversation
// size cap. A background goroutine periodically drops expired entries.
func New(ttl time.Duration, maxPerConversation int) *Recent {
	r := &Recent{
		convs:   make(map[int64]*conversationSet),
		ttl:     ttl,
		maxSize: maxPerConversation,
		done:    make(chan struct{}),
	}
	go r.cleanup()
	return r
}

// Seen atomically checks whether a message ID was recently delivered for
// the conversation and marks it if not. Returns true for duplicates.
func (r *Recent) Seen(conversationID int64, messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.convs[conversationID]
	if !ok {
		cs = &conversationSet{
			seen:  make(map[string]*entry),
			order: list.New(),
		}
		r.convs[conversationID] = cs
	}

	if e, ok := cs.seen[messageID]; ok && time.Since(e.timestamp) < r.ttl {
		return true
	}

	r.markLocked(cs, messageID)
	return false
}

// markLocked records a message ID. Must be called with mu held.
func (r *Recent) markLocked(cs *conversationSet, messageID string) {
	now := time.Now()

	if e, exists := cs.seen[messageID]; exists {
		e.timestamp = now
		cs.order.MoveToBack(e.element)
		return
	}

	if len(cs.seen) >= r.maxSize {
		front := cs.order.Front()
		if front != nil {
			oldest, _ := front.Value.(string)
			cs.order.Remove(front)
			delete(cs.seen, oldest)
		}
	}

	elem := cs.order.PushBack(messageID)
	cs.seen[messageID] = &entry{timestamp: now, element: elem}
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (r *Recent) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runCleanup()
		case <-r.done:
			return
		}
	}
}

// runCleanup drops expired entries and empty conversation sets.
func (r *Recent) runCleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for convID, cs := range r.convs {
		for id, e := range cs.seen {
			if now.Sub(e.timestamp) > r.ttl {
				cs.order.Remove(e.element)
				delete(cs.seen, id)
			}
		}
		if len(cs.seen) == 0 {
			delete(r.convs, convID)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (r *Recent) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		close(r.done)
		r.closed = true
	}
}
