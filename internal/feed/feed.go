package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/kavehz/MentorAppBack/internal/models"
)

// The change feed carries row-level insert/update events for messages.
// Every committed write is published to the owning conversation's channel
// and to each affected participant's user channel, so conversation views
// and unread counters can subscribe independently.

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

type Event struct {
	Type    EventType          `json:"type"`
	Message models.ChatMessage `json:"message"`
	// Old is the pre-update row state, set on update events only.
	Old *models.ChatMessage `json:"old,omitempty"`
}

func ConversationChannel(conversationID int64) string {
	return fmt.Sprintf("chat:conv:%d", conversationID)
}

func UserChannel(userID int64) string {
	return fmt.Sprintf("chat:user:%d", userID)
}

// Source hands out live subscriptions to a named channel. The events
// channel closes when the subscription drops; subscribers are expected to
// resubscribe and reconcile, the feed gives no delivery guarantee across
// a gap.
type Source interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

type Subscription interface {
	Events() <-chan Event
	Close() error
}

type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) PublishInsert(ctx context.Context, message *models.ChatMessage, userIDs ...int64) error {
	return p.publish(ctx, Event{Type: EventInsert, Message: *message}, message.ConversationID, userIDs)
}

func (p *Publisher) PublishUpdate(ctx context.Context, old, updated *models.ChatMessage, userIDs ...int64) error {
	return p.publish(ctx, Event{Type: EventUpdate, Message: *updated, Old: old}, updated.ConversationID, userIDs)
}

func (p *Publisher) publish(ctx context.Context, event Event, conversationID int64, userIDs []int64) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.rdb.Publish(ctx, ConversationChannel(conversationID), payload).Err(); err != nil {
		return err
	}
	for _, userID := range userIDs {
		if err := p.rdb.Publish(ctx, UserChannel(userID), payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

type RedisSource struct {
	rdb *redis.Client
}

func NewRedisSource(rdb *redis.Client) *RedisSource {
	return &RedisSource{rdb: rdb}
}

func (s *RedisSource) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, channel)

	// Receive blocks until the server acknowledges the subscription, so a
	// successful return means the feed is live.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan Event, 32),
	}
	go sub.pump(channel, pubsub.Channel())
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan Event
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

func (s *redisSubscription) pump(channel string, messages <-chan *redis.Message) {
	defer close(s.events)

	for msg := range messages {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Printf("feed: dropping malformed event on %s: %v", channel, err)
			continue
		}

		// The forward must never park: a subscriber mid-teardown stops
		// draining, and a goroutine blocked here outlives Close. The feed
		// gives no delivery guarantee anyway; the reconcile refetch covers
		// whatever a full buffer loses.
		select {
		case s.events <- event:
		default:
			log.Printf("feed: dropping event on %s, subscriber not draining", channel)
		}
	}
}
