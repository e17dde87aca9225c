// ABOUTME: Tests for the recent-message-ID tracker
// ABOUTME: Covers duplicate detection, conversation scoping, TTL, and size eviction

package dedupe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecent_FirstDeliveryIsNotSeen(t *testing.T) {
	r := New(30*time.Second, 100)
	defer r.Close()

	assert.False(t, r.Seen(1, "msg-1"))
}

func TestRecent_SecondDeliveryIsSeen(t *testing.T) {
	r := New(30*time.Second, 100)
	defer r.Close()

	assert.False(t, r.Seen(1, "msg-1"))
	assert.True(t, r.Seen(1, "msg-1"))
	assert.True(t, r.Seen(1, "msg-1"))
}

func TestRecent_ScopedPerConversation(t *testing.T) {
	r := New(30*time.Second, 100)
	defer r.Close()

	assert.False(t, r.Seen(1, "msg-1"))
	assert.False(t, r.Seen(2, "msg-1"), "same ID in another conversation is distinct")
	assert.True(t, r.Seen(1, "msg-1"))
	assert.True(t, r.Seen(2, "msg-1"))
}

func TestRecent_ExpiredEntryIsNotSeen(t *testing.T) {
	r := New(10*time.Millisecond, 100)
	defer r.Close()

	assert.False(t, r.Seen(1, "msg-1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, r.Seen(1, "msg-1"), "entry past TTL reads as new")
}

func TestRecent_EvictsOldestAtCapacity(t *testing.T) {
	r := New(time.Hour, 3)
	defer r.Close()

	for i := 0; i < 4; i++ {
		assert.False(t, r.Seen(1, fmt.Sprintf("msg-%d", i)))
	}

	// msg-0 was evicted to make room for msg-3.
	assert.False(t, r.Seen(1, "msg-0"))
	assert.True(t, r.Seen(1, "msg-3"))
}

func TestRecent_CapacityIsPerConversation(t *testing.T) {
	r := New(time.Hour, 2)
	defer r.Close()

	r.Seen(1, "a")
	r.Seen(1, "b")
	r.Seen(2, "c")
	r.Seen(2, "d")

	assert.True(t, r.Seen(1, "a"), "conversation 1 kept its entries")
	assert.True(t, r.Seen(2, "c"), "conversation 2 kept its entries")
}

func TestRecent_RunCleanupDropsExpired(t *testing.T) {
	r := New(10*time.Millisecond, 100)
	defer r.Close()

	r.Seen(1, "msg-1")
	time.Sleep(20 * time.Millisecond)
	r.runCleanup()

	r.mu.Lock()
	empty := len(r.convs) == 0
	r.mu.Unlock()
	assert.True(t, empty, "expired conversations are dropped entirely")
}

func TestRecent_CloseIsIdempotent(t *testing.T) {
	r := New(time.Second, 10)
	r.Close()
	r.Close()
}
