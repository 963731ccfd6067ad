// ABOUTME: Unit tests for MockStore edge cases specific to the in-memory implementation
// ABOUTME: Returned values must be detached copies, like rows read back from SQLite

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ReturnsCopies(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newConversation("conv-1", "a", "b"), nil, ""))
	msg := newMessage("m1", "conv-1", "a", "b", "hi")
	msg.Attachments = []Attachment{{URL: "u", Name: "n"}}
	require.NoError(t, store.AppendMessage(ctx, msg, "hi", 0))

	conv, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	conv.UnreadCount["b"] = 99
	conv.ArchivedBy = append(conv.ArchivedBy, "a")

	again, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Unread("b"))
	assert.Empty(t, again.ArchivedBy)

	got, err := store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	got.Attachments[0].Name = "changed"
	got.IsRead = true

	msgs, err := store.ListMessages(ctx, "conv-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "n", msgs[0].Attachments[0].Name)
	assert.False(t, msgs[0].IsRead)
}

func TestMockStore_SelfConversationRejected(t *testing.T) {
	store := NewMockStore()
	err := store.CreateConversation(context.Background(), newConversation("conv-1", "a", "a"), nil, "")
	assert.Error(t, err)
}

func TestMockStore_PingErr(t *testing.T) {
	store := NewMockStore()
	assert.NoError(t, store.Ping(context.Background()))

	store.PingErr = errors.New("down")
	assert.Error(t, store.Ping(context.Background()))
}
