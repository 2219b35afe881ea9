package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/realtime-server-go/internal/config"
	"github.com/openclaw/realtime-server-go/internal/metrics"
	"github.com/openclaw/realtime-server-go/internal/presence"
	"github.com/openclaw/realtime-server-go/internal/protocol"
	redisclient "github.com/openclaw/realtime-server-go/internal/redis"
)

// leaveScript decrements a presence counter and removes it once it reaches zero.
var leaveScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
    redis.call('DEL', KEYS[1])
    return 0
end
return n
`)

type subscription struct {
	cancel context.CancelFunc
}

// Broker is the single fan-out primitive: "emit to all sessions of user X".
//
// Without Redis it delivers straight through the local registry. With Redis
// every emit is published on the user's channel and each instance delivers to
// the sessions it holds, so a user connected to several instances still gets
// each event exactly once per session. A per-user counter of instances
// holding sessions makes presence cluster-wide.
type Broker struct {
	registry *presence.Registry
	redis    *redisclient.Client
	subs     map[string]*subscription // userID -> channel subscription
	joined   map[string]bool          // users counted in the presence counter by this instance
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(registry *presence.Registry, redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		registry: registry,
		redis:    redisClient,
		subs:     make(map[string]*subscription),
		joined:   make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (b *Broker) Emit(ctx context.Context, userID string, event protocol.Event) {
	metrics.EventsEmitted.WithLabelValues(event.Type).Inc()

	if b.redis == nil {
		b.registry.Emit(userID, event)
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("failed to marshal event")
		return
	}

	if err := b.redis.Publish(ctx, redisclient.UserChannel(userID), data).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("userId", userID).
			Str("event", event.Type).
			Msg("redis publish failed, delivering locally")
		b.registry.Emit(userID, event)
		return
	}

	// Local sessions without a subscription would miss the published copy.
	if b.registry.IsOnline(userID) && !b.subscribed(userID) {
		b.registry.Emit(userID, event)
		go b.resubscribe(userID)
	}
}

// IsOnline reports whether userID has a session on this or any other instance.
func (b *Broker) IsOnline(ctx context.Context, userID string) bool {
	if b.registry.IsOnline(userID) {
		return true
	}
	if b.redis == nil {
		return false
	}

	n, err := b.redis.Get(ctx, redisclient.PresenceKey(userID)).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to read cluster presence")
		}
		return false
	}
	return n > 0
}

// Join is called when userID gets its first session on this instance. The
// channel subscription is acknowledged before it returns. It reports whether
// no other instance held a session of the user.
func (b *Broker) Join(ctx context.Context, userID string) bool {
	if b.redis == nil {
		return true
	}

	if err := b.subscribe(ctx, userID); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("redis subscribe failed, delivering locally")
	}

	n, err := b.redis.Incr(ctx, redisclient.PresenceKey(userID)).Result()
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to count cluster presence")
		return true
	}

	b.mu.Lock()
	b.joined[userID] = true
	b.mu.Unlock()

	return n == 1
}

// Leave is called when userID's last session on this instance is gone. It
// reports whether the user is now offline on every instance.
func (b *Broker) Leave(ctx context.Context, userID string) bool {
	if b.redis == nil {
		return true
	}

	b.unsubscribe(userID)

	b.mu.Lock()
	joined := b.joined[userID]
	delete(b.joined, userID)
	b.mu.Unlock()

	if !joined {
		return true
	}

	n, err := leaveScript.Run(ctx, b.redis.Client, []string{redisclient.PresenceKey(userID)}).Int64()
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to release cluster presence")
		return true
	}
	return n == 0
}

func (b *Broker) subscribe(ctx context.Context, userID string) error {
	b.mu.Lock()
	if _, ok := b.subs[userID]; ok {
		b.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(b.ctx)
	sub := &subscription{cancel: cancel}
	b.subs[userID] = sub
	b.mu.Unlock()

	channel := redisclient.UserChannel(userID)
	pubsub := b.redis.Subscribe(subCtx, channel)

	if _, err := pubsub.ReceiveTimeout(ctx, config.RedisSubscribeTimeout); err != nil {
		pubsub.Close()
		cancel()
		b.drop(userID, sub)
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	b.mu.Lock()
	current := b.subs[userID] == sub
	b.mu.Unlock()
	if !current {
		pubsub.Close()
		return nil
	}

	log.Debug().
		Str("userId", userID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	go b.listen(subCtx, userID, sub, pubsub)
	return nil
}

func (b *Broker) resubscribe(userID string) {
	ctx, cancel := context.WithTimeout(b.ctx, config.RedisSubscribeTimeout)
	defer cancel()

	if err := b.subscribe(ctx, userID); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("redis resubscribe failed")
		return
	}
	if !b.registry.IsOnline(userID) {
		b.unsubscribe(userID)
	}
}

func (b *Broker) subscribed(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[userID]
	return ok
}

func (b *Broker) unsubscribe(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[userID]; ok {
		sub.cancel()
		delete(b.subs, userID)
	}
}

// drop removes sub if it is still the user's current subscription.
func (b *Broker) drop(userID string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[userID] == sub {
		delete(b.subs, userID)
	}
}

func (b *Broker) listen(ctx context.Context, userID string, sub *subscription, pubsub *redis.PubSub) {
	defer func() {
		pubsub.Close()
		b.drop(userID, sub)
	}()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event protocol.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.registry.Emit(userID, event)
		}
	}
}

// Close stops every subscription and releases this instance's share of the
// presence counters.
func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	joined := b.joined
	b.subs = make(map[string]*subscription)
	b.joined = make(map[string]bool)
	b.mu.Unlock()

	if b.redis == nil || len(joined) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.RedisSubscribeTimeout)
	defer cancel()
	for userID := range joined {
		if err := leaveScript.Run(ctx, b.redis.Client, []string{redisclient.PresenceKey(userID)}).Err(); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to release cluster presence")
		}
	}
}

func (b *Broker) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
