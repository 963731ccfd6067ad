package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	payload []byte
}

type fakeRedis struct {
	mu        sync.Mutex
	published []published
	err       error
	// hang makes Publish wait for its context, like an unresponsive server.
	hang bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	if f.hang {
		<-ctx.Done()
		return redis.NewIntResult(0, ctx.Err())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, f.err)
}

func (f *fakeRedis) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	panic("relay tests replace subscribe")
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.published)
}

// fakeSubscription confirms (or fails) once and then relays whatever is
// pushed onto msgs.
type fakeSubscription struct {
	err  error
	msgs chan *redis.Message
}

func (f *fakeSubscription) Receive(ctx context.Context) (any, error) { return nil, f.err }

func (f *fakeSubscription) Channel(...redis.ChannelOption) <-chan *redis.Message { return f.msgs }

func (f *fakeSubscription) Close() error { return nil }

type change struct {
	conversationID string
	participants   []string
}

type recordingLocal struct {
	mu      sync.Mutex
	changes []change
}

func (r *recordingLocal) ConversationChanged(conversationID string, participants []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change{conversationID, participants})
}

func (r *recordingLocal) all() []change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.changes)
}

// runRelay starts relay.Run with sub as every subscription and stops it at cleanup.
func runRelay(t *testing.T, relay *RedisRelay, sub *fakeSubscription) {
	t.Helper()
	relay.subscribe = func(context.Context) subscription { return sub }
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("relay did not stop")
		}
	})
}

func TestRelay_NotifiesLocallyAndPublishes(t *testing.T) {
	client := &fakeRedis{}
	local := &recordingLocal{}
	relay := newRedisRelay(client, "", local, nil)
	runRelay(t, relay, &fakeSubscription{msgs: make(chan *redis.Message)})

	relay.ConversationChanged("c1", []string{"alice", "bob"})

	require.Len(t, local.all(), 1)
	assert.Equal(t, "c1", local.all()[0].conversationID)

	require.Eventually(t, func() bool { return len(client.sent()) == 1 }, time.Second, 5*time.Millisecond)
	sent := client.sent()[0]
	assert.Equal(t, DefaultChannel, sent.channel)

	var m relayMessage
	require.NoError(t, json.Unmarshal(sent.payload, &m))
	assert.Equal(t, relay.origin, m.Origin)
	assert.Equal(t, []string{"alice", "bob"}, m.Participants)
}

func TestRelay_PublishFailureStillNotifiesLocally(t *testing.T) {
	local := &recordingLocal{}
	relay := newRedisRelay(&fakeRedis{err: errors.New("connection refused")}, "ch", local, nil)
	runRelay(t, relay, &fakeSubscription{msgs: make(chan *redis.Message)})

	relay.ConversationChanged("c1", []string{"alice", "bob"})
	assert.Len(t, local.all(), 1)
}

func TestRelay_UnresponsiveRedisDoesNotBlockWriters(t *testing.T) {
	local := &recordingLocal{}
	relay := newRedisRelay(&fakeRedis{hang: true}, "ch", local, nil)
	runRelay(t, relay, &fakeSubscription{msgs: make(chan *redis.Message)})

	start := time.Now()
	for range 3 {
		relay.ConversationChanged("c1", []string{"alice", "bob"})
	}
	assert.Less(t, time.Since(start), publishTimeout/2)
	assert.Len(t, local.all(), 3)
}

func TestRelay_FullOutboxDrops(t *testing.T) {
	local := &recordingLocal{}
	relay := newRedisRelay(&fakeRedis{}, "ch", local, nil)

	// nothing drains the outbox without Run
	for range outboxSize + 10 {
		relay.ConversationChanged("c1", []string{"alice", "bob"})
	}
	assert.Len(t, relay.outbox, outboxSize)
	assert.Len(t, local.all(), outboxSize+10)
}

func TestRelay_ResubscribesAfterFailure(t *testing.T) {
	local := &recordingLocal{}
	relay := newRedisRelay(&fakeRedis{}, "ch", local, nil)
	relay.backoff = []time.Duration{time.Millisecond}

	msgs := make(chan *redis.Message, 1)
	var (
		mu       sync.Mutex
		attempts int
	)
	relay.subscribe = func(context.Context) subscription {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return &fakeSubscription{err: errors.New("connection refused")}
		}
		return &fakeSubscription{msgs: msgs}
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	peer, _ := json.Marshal(relayMessage{Origin: "other-node", ConversationID: "c9", Participants: []string{"x", "y"}})
	msgs <- &redis.Message{Channel: "ch", Payload: string(peer)}

	require.Eventually(t, func() bool { return len(local.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, change{"c9", []string{"x", "y"}}, local.all()[0])

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestRelay_AppliesPeerMessages(t *testing.T) {
	local := &recordingLocal{}
	relay := newRedisRelay(&fakeRedis{}, "ch", local, nil)

	peer, _ := json.Marshal(relayMessage{Origin: "other-node", ConversationID: "c9", Participants: []string{"x", "y"}})
	relay.handle(string(peer))

	require.Len(t, local.changes, 1)
	assert.Equal(t, change{"c9", []string{"x", "y"}}, local.changes[0])
}

func TestRelay_SkipsOwnAndMalformed(t *testing.T) {
	local := &recordingLocal{}
	relay := newRedisRelay(&fakeRedis{}, "ch", local, nil)

	own, _ := json.Marshal(relayMessage{Origin: relay.origin, ConversationID: "c1"})
	relay.handle(string(own))
	relay.handle("not json")
	empty, _ := json.Marshal(relayMessage{Origin: "other-node"})
	relay.handle(string(empty))

	assert.Empty(t, local.changes)
}

func TestNewRedisRelay_BadURL(t *testing.T) {
	_, err := NewRedisRelay(t.Context(), "localhost:6379", "", &recordingLocal{}, nil)
	assert.Error(t, err)
}
