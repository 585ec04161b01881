package identity

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
)

// ChangeChannel is the Redis channel carrying session change events.
const ChangeChannel = "identity.sessions"

// RedisStore keeps identity sessions in Redis with a TTL matching their expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save stores the session until it expires.
func (s *RedisStore) Save(ctx context.Context, sess Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("identity: session %s already expired", sess.ID)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(sess.ID), data, ttl).Err()
}

// Get loads a session. A missing session yields nil without error.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("identity: decode session: %w", err)
	}
	return &sess, nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *RedisStore) key(id string) string {
	return "identity:session:" + id
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Broadcaster fans session change events out to local handlers and other instances.
type Broadcaster struct {
	client *redis.Client
	origin string
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[int]func(Event)
	next     int
}

// NewBroadcaster constructs a Broadcaster publishing on ChangeChannel.
func NewBroadcaster(client *redis.Client, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		client:   client,
		origin:   uuid.NewString(),
		logger:   logger,
		handlers: make(map[int]func(Event)),
	}
}

// OnSessionChange registers handler and returns a function removing it.
func (b *Broadcaster) OnSessionChange(handler func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers ev to local handlers and announces it to other instances.
func (b *Broadcaster) Publish(ctx context.Context, ev Event) error {
	b.dispatch(ev)
	if b.client == nil {
		return nil
	}
	data, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, ChangeChannel, data).Err()
}

// Run relays events published by other instances until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.client == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	sub := b.client.Subscribe(ctx, ChangeChannel)
	defer func() {
		if err := sub.Close(); err != nil {
			b.logger.Warn("identity unsubscribe", slog.Any("error", err))
		}
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("identity: subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("identity event decode", slog.Any("error", err))
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			b.dispatch(env.Event)
		}
	}
}

func (b *Broadcaster) dispatch(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
