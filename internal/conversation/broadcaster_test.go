// ABOUTME: Tests for EventBroadcaster fan-out
// ABOUTME: Covers rooms, inboxes, multi-device fan-out, slow subscribers and cleanup

package conversation

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "channel closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func assertNoUpdate(t *testing.T, ch <-chan Update) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_RoomReceivesUpdate(t *testing.T) {
	b := NewEventBroadcaster(0, nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), RoomKey("conv-1"))
	b.ConversationChanged("conv-1", []string{"alice", "bob"})

	u := receive(t, ch)
	assert.Equal(t, UpdateConversation, u.Type)
	assert.Equal(t, "conv-1", u.ConversationID)
}

func TestBroadcaster_EverySessionOfAUserReceives(t *testing.T) {
	b := NewEventBroadcaster(0, nil)
	defer b.Close()

	ctx := t.Context()
	laptop, _ := b.Subscribe(ctx, RoomKey("conv-1"))
	phone, _ := b.Subscribe(ctx, RoomKey("conv-1"))
	tablet, _ := b.Subscribe(ctx, RoomKey("conv-1"))

	b.ConversationChanged("conv-1", nil)

	for _, ch := range []<-chan Update{laptop, phone, tablet} {
		assert.Equal(t, "conv-1", receive(t, ch).ConversationID)
	}
}

func TestBroadcaster_InboxesReceiveInboxUpdates(t *testing.T) {
	b := NewEventBroadcaster(0, nil)
	defer b.Close()

	ctx := t.Context()
	alice, _ := b.Subscribe(ctx, InboxKey("alice"))
	bob, _ := b.Subscribe(ctx, InboxKey("bob"))
	carol, _ := b.Subscribe(ctx, InboxKey("carol"))

	b.ConversationChanged("conv-1", []string{"alice", "bob"})

	assert.Equal(t, Update{Type: UpdateInbox, ConversationID: "conv-1"}, receive(t, alice))
	assert.Equal(t, Update{Type: UpdateInbox, ConversationID: "conv-1"}, receive(t, bob))
	assertNoUpdate(t, carol)
}

func TestBroadcaster_RoomsAreIsolated(t *testing.T) {
	b := NewEventBroadcaster(0, nil)
	defer b.Close()

	ctx := t.Context()
	one, _ := b.Subscribe(ctx, RoomKey("conv-1"))
	two, _ := b.Subscribe(ctx, RoomKey("conv-2"))

	b.ConversationChanged("conv-1", nil)

	receive(t, one)
	assertNoUpdate(t, two)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewEventBroadcaster(2, nil)
	defer b.Close()

	ctx := t.Context()
	slow, _ := b.Subscribe(ctx, RoomKey("conv-1"))
	fast, _ := b.Subscribe(ctx, RoomKey("conv-1"))

	done := make(chan struct{})
	go func() {
		for range 10 {
			b.Publish(RoomKey("conv-1"), Update{Type: UpdateConversation, ConversationID: "conv-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Len(t, slow, 2)
	assert.Len(t, fast, 2)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewEventBroadcaster(0, nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), RoomKey("conv-1"))
	assert.Equal(t, 1, b.SubscriberCount(RoomKey("conv-1")))

	b.Unsubscribe(RoomKey("conv-1"), subID)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.Zero(t, b.SubscriberCount(RoomKey("conv-1")))

	// second unsubscribe is a no-op
	b.Unsubscribe(RoomKey("conv-1"), subID)
}

func TestBroadcaster_UnsubscribeReleasesWatcher(t *testing.T) {
	b := NewEventBroadcaster(0, nil)
	defer b.Close()

	before := runtime.NumGoroutine()

	// t.Context stays live for the whole test, so only Unsubscribe can
	// release the per-subscription goroutines
	ids := make([]string, 0, 50)
	for range 50 {
		_, subID := b.Subscribe(t.Context(), RoomKey("conv-1"))
		ids = append(ids, subID)
	}
	require.GreaterOrEqual(t, runtime.NumGoroutine(), before+50)

	for _, id := range ids {
		b.Unsubscribe(RoomKey("conv-1"), id)
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewEventBroadcaster(0, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch, _ := b.Subscribe(ctx, RoomKey("conv-1"))
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not cleaned up")
	}
	assert.Eventually(t, func() bool {
		return b.SubscriberCount(RoomKey("conv-1")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_CloseClosesAll(t *testing.T) {
	b := NewEventBroadcaster(0, nil)

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, RoomKey("conv-1"))
	ch2, _ := b.Subscribe(ctx, InboxKey("alice"))

	b.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)

	// publishing after close is harmless
	b.ConversationChanged("conv-1", []string{"alice"})
}

func TestBroadcaster_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewEventBroadcaster(0, nil)
	defer b.Close()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			ctx, cancel := context.WithCancel(t.Context())
			ch, _ := b.Subscribe(ctx, RoomKey("conv-1"))
			b.ConversationChanged("conv-1", []string{"alice"})
			cancel()
			for range ch {
			}
		})
		wg.Go(func() {
			b.ConversationChanged("conv-1", []string{"alice"})
		})
	}
	wg.Wait()
}
