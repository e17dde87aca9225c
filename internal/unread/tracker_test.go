// ABOUTME: Tests for the unread tracker
// ABOUTME: Covers optimistic increments, debounced mark-read, and reconcile

package unread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeline/chatsync/internal/wire"
)

// fakeAcker counts MarkRead calls and can hold them open or fail them.
type fakeAcker struct {
	mu      sync.Mutex
	calls   int
	err     error
	release chan struct{} // when non-nil, MarkRead blocks until closed
}

func (a *fakeAcker) MarkRead(ctx context.Context, conversationID int64) error {
	a.mu.Lock()
	a.calls++
	release := a.release
	err := a.err
	a.mu.Unlock()

	if release != nil {
		<-release
	}
	return err
}

func (a *fakeAcker) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func agentMsg(conv int64, id string) *wire.ChatMessage {
	return &wire.ChatMessage{ID: id, ConversationID: conv, SenderID: 99, IsAgent: true}
}

func TestTracker_CountUnknownBeforeFirstData(t *testing.T) {
	tr := New(&fakeAcker{}, nil)

	count, ok := tr.Count(7, wire.RoleCustomer)
	assert.Zero(t, count)
	assert.False(t, ok)
}

func TestTracker_InboundMessagesIncrement(t *testing.T) {
	tr := New(&fakeAcker{}, nil)

	tr.OnMessage(agentMsg(7, "m1"), wire.RoleCustomer)
	tr.OnMessage(agentMsg(7, "m2"), wire.RoleCustomer)
	tr.OnMessage(agentMsg(7, "m3"), wire.RoleCustomer)

	count, ok := tr.Count(7, wire.RoleCustomer)
	require.True(t, ok)
	assert.Equal(t, 3, count)
}

func TestTracker_OwnMessagesDoNotCount(t *testing.T) {
	tr := New(&fakeAcker{}, nil)

	own := &wire.ChatMessage{ID: "m1", ConversationID: 7, SenderID: 3, IsAgent: false}
	tr.OnMessage(own, wire.RoleCustomer)

	_, ok := tr.Count(7, wire.RoleCustomer)
	assert.False(t, ok, "a viewer's own message leaves the count untouched")
}

func TestTracker_CountsScopedByRole(t *testing.T) {
	tr := New(&fakeAcker{}, nil)

	tr.OnMessage(agentMsg(7, "m1"), wire.RoleCustomer)

	count, ok := tr.Count(7, wire.RoleCustomer)
	require.True(t, ok)
	assert.Equal(t, 1, count)

	_, ok = tr.Count(7, wire.RoleAgent)
	assert.False(t, ok, "agent-side count is tracked separately")
}

func TestTracker_MarkReadZeroesCount(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(acker, nil)

	tr.OnMessage(agentMsg(7, "m1"), wire.RoleCustomer)
	require.NoError(t, tr.MarkRead(context.Background(), 7, wire.RoleCustomer))

	count, ok := tr.Count(7, wire.RoleCustomer)
	require.True(t, ok)
	assert.Zero(t, count)
	assert.Equal(t, 1, acker.callCount())
}

func TestTracker_MarkReadDebounced(t *testing.T) {
	release := make(chan struct{})
	acker := &fakeAcker{release: release}
	tr := New(acker, nil)

	tr.OnMessage(agentMsg(7, "m1"), wire.RoleCustomer)

	done := make(chan error, 1)
	go func() { done <- tr.MarkRead(context.Background(), 7, wire.RoleCustomer) }()

	require.Eventually(t, func() bool { return acker.callCount() == 1 },
		time.Second, time.Millisecond)

	// Second call while the first acknowledgement is in flight: no-op.
	require.NoError(t, tr.MarkRead(context.Background(), 7, wire.RoleCustomer))
	assert.Equal(t, 1, acker.callCount(), "no second network call while one is pending")

	close(release)
	require.NoError(t, <-done)

	count, ok := tr.Count(7, wire.RoleCustomer)
	require.True(t, ok)
	assert.Zero(t, count)
}

func TestTracker_MessagesDuringAckDoNotIncrement(t *testing.T) {
	release := make(chan struct{})
	acker := &fakeAcker{release: release}
	tr := New(acker, nil)

	done := make(chan error, 1)
	go func() { done <- tr.MarkRead(context.Background(), 7, wire.RoleCustomer) }()
	require.Eventually(t, func() bool { return acker.callCount() == 1 },
		time.Second, time.Millisecond)

	tr.OnMessage(agentMsg(7, "m1"), wire.RoleCustomer)

	close(release)
	require.NoError(t, <-done)

	count, ok := tr.Count(7, wire.RoleCustomer)
	require.True(t, ok)
	assert.Zero(t, count, "the acknowledgement's result covers mid-flight messages")
}

func TestTracker_FailedAckLeavesCount(t *testing.T) {
	acker := &fakeAcker{err: errors.New("server unavailable")}
	tr := New(acker, nil)

	tr.OnMessage(agentMsg(7, "m1"), wire.RoleCustomer)
	tr.OnMessage(agentMsg(7, "m2"), wire.RoleCustomer)

	err := tr.MarkRead(context.Background(), 7, wire.RoleCustomer)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReadAckFailed)

	count, ok := tr.Count(7, wire.RoleCustomer)
	require.True(t, ok)
	assert.Equal(t, 2, count, "count untouched after a failed acknowledgement")

	// The debounce marker cleared; an explicit retry goes through.
	acker.mu.Lock()
	acker.err = nil
	acker.mu.Unlock()
	require.NoError(t, tr.MarkRead(context.Background(), 7, wire.RoleCustomer))
	assert.Equal(t, 2, acker.callCount())
}

func TestTracker_SetCountIsAuthoritative(t *testing.T) {
	tr := New(&fakeAcker{}, nil)

	tr.OnMessage(agentMsg(7, "m1"), wire.RoleCustomer)
	tr.OnMessage(agentMsg(7, "m2"), wire.RoleCustomer)
	tr.SetCount(7, wire.RoleCustomer, 5)

	count, ok := tr.Count(7, wire.RoleCustomer)
	require.True(t, ok)
	assert.Equal(t, 5, count, "server-computed count discards local deltas")
}

// unreadCounterFunc adapts a function to the UnreadCounter interface.
type unreadCounterFunc func(ctx context.Context, customerID int64) (int, error)

func (f unreadCounterFunc) GetUnreadCount(ctx context.Context, customerID int64) (int, error) {
	return f(ctx, customerID)
}

func TestBadgePoller_FirstPollIsImmediate(t *testing.T) {
	var mu sync.Mutex
	var got []int
	api := unreadCounterFunc(func(ctx context.Context, customerID int64) (int, error) {
		return 4, nil
	})

	p := NewBadgePoller(api, 3, time.Hour, func(count int) {
		mu.Lock()
		got = append(got, count)
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == 4
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestBadgePoller_FetchErrorsAreSkipped(t *testing.T) {
	var mu sync.Mutex
	var got []int
	calls := 0
	api := unreadCounterFunc(func(ctx context.Context, customerID int64) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return 0, errors.New("server unavailable")
		}
		return 2, nil
	})

	p := NewBadgePoller(api, 3, 5*time.Millisecond, func(count int) {
		mu.Lock()
		got = append(got, count)
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	}, time.Second, time.Millisecond, "poller keeps going after a failed fetch")
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, got[0], "first delivered value comes from the first successful poll")
}
