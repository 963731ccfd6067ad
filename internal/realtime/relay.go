// ABOUTME: Redis pub/sub relay so change notifications reach sessions on every gateway instance
// ABOUTME: Each instance publishes its writes and replays other instances' writes into its local broadcaster

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/2389/realty-inbox/internal/conversation"
)

// DefaultChannel is the redis channel used when none is configured.
const DefaultChannel = "inbox:conversation-changes"

const (
	publishTimeout = 2 * time.Second
	// outboxSize bounds changes waiting for the publisher; past it they are
	// dropped and peers catch up on their clients' next fetch.
	outboxSize = 1024
)

// resubscribeBackoff is the wait before each resubscribe attempt; the last
// entry repeats. It resets once a subscription is confirmed.
var resubscribeBackoff = []time.Duration{
	time.Second,
	5 * time.Second,
	15 * time.Second,
	60 * time.Second,
}

type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Close() error
}

// subscription is the part of *redis.PubSub the relay reads from.
type subscription interface {
	Receive(ctx context.Context) (any, error)
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

type relayMessage struct {
	Origin         string   `json:"origin"`
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
}

// RedisRelay implements conversation.ChangeNotifier for multi-instance
// deployments. Local subscribers are notified directly; the change is
// queued for a publisher goroutine so peers can notify theirs. Writers
// never wait on redis.
type RedisRelay struct {
	client    redisClient
	subscribe func(ctx context.Context) subscription
	local     conversation.ChangeNotifier
	channel   string
	origin    string
	outbox    chan relayMessage
	backoff   []time.Duration
	logger    *slog.Logger
}

// NewRedisRelay connects to redisURL and verifies the connection.
func NewRedisRelay(ctx context.Context, redisURL, channel string, local conversation.ChangeNotifier, logger *slog.Logger) (*RedisRelay, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging relay redis: %w", err)
	}

	return newRedisRelay(client, channel, local, logger), nil
}

func newRedisRelay(client redisClient, channel string, local conversation.ChangeNotifier, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	origin := uuid.New().String()
	return &RedisRelay{
		client: client,
		subscribe: func(ctx context.Context) subscription {
			return client.Subscribe(ctx, channel)
		},
		local:   local,
		channel: channel,
		origin:  origin,
		outbox:  make(chan relayMessage, outboxSize),
		backoff: resubscribeBackoff,
		logger:  logger.With("component", "relay", "channel", channel, "origin", origin),
	}
}

// ConversationChanged implements conversation.ChangeNotifier. It notifies
// local subscribers and queues the change for peers without blocking.
func (r *RedisRelay) ConversationChanged(conversationID string, participants []string) {
	r.local.ConversationChanged(conversationID, participants)

	select {
	case r.outbox <- relayMessage{Origin: r.origin, ConversationID: conversationID, Participants: participants}:
	default:
		r.logger.Warn("relay outbox full, dropping change", "conversation_id", conversationID)
	}
}

// Run publishes queued changes and replays peer notifications until ctx is
// cancelled. A lost or failed subscription is retried with backoff.
func (r *RedisRelay) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Go(func() { r.publishLoop(ctx) })
	defer wg.Wait()

	for failures := 0; ; {
		subscribed, err := r.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			failures = 0
		}
		wait := r.backoff[min(failures, len(r.backoff)-1)]
		failures++
		r.logger.Warn("relay subscription lost, retrying", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// listen runs one subscription. subscribed reports whether redis confirmed it.
func (r *RedisRelay) listen(ctx context.Context) (subscribed bool, err error) {
	sub := r.subscribe(ctx)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("subscription channel closed")
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.outbox:
			r.publish(ctx, m)
		}
	}
}

func (r *RedisRelay) publish(ctx context.Context, m relayMessage) {
	payload, err := json.Marshal(m)
	if err != nil {
		r.logger.Error("encoding relay message", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed", "conversation_id", m.ConversationID, "error", err)
	}
}

// handle applies one message from the channel, skipping this instance's own.
func (r *RedisRelay) handle(payload string) {
	var m relayMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.logger.Warn("ignoring malformed relay message", "error", err)
		return
	}
	if m.Origin == r.origin || m.ConversationID == "" {
		return
	}
	r.local.ConversationChanged(m.ConversationID, m.Participants)
}

// Close releases the redis connection.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
