// ABOUTME: Tests for the in-memory store
// ABOUTME: Keeps MemStore behavior aligned with the SQLite implementation

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeline/chatsync/internal/wire"
)

func TestMemStore_MatchesStoreContract(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, 3)
	require.NoError(t, err)

	_, err = s.CreateConversation(ctx, 3)
	assert.ErrorIs(t, err, ErrDuplicateConversation)

	_, err = s.FindConversationByCustomer(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveMessage(ctx, &Message{
		ID: NewMessageID(), ConversationID: conv.ID,
		SenderID: 99, IsAgent: true, Content: "hi", CreatedAt: time.Now().UTC(),
	}))
	assert.ErrorIs(t, s.SaveMessage(ctx, &Message{ID: NewMessageID(), ConversationID: 404}), ErrNotFound)

	count, err := s.UnreadCount(ctx, conv.ID, wire.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.MarkRead(ctx, conv.ID, wire.RoleCustomer))
	count, err = s.UnreadCount(ctx, conv.ID, wire.RoleCustomer)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemStore_ReturnsCopies(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, 3)
	require.NoError(t, err)

	conv.CustomerID = 999

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.CustomerID, "callers must not share store internals")
}

func TestMemStore_FailMarkReadInjection(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, 3)
	require.NoError(t, err)

	s.FailMarkRead = true
	assert.Error(t, s.MarkRead(ctx, conv.ID, wire.RoleCustomer))

	s.FailMarkRead = false
	assert.NoError(t, s.MarkRead(ctx, conv.ID, wire.RoleCustomer))
}
