package chatsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kavehz/MentorAppBack/internal/feed"
	"github.com/kavehz/MentorAppBack/internal/models"
)

// Engine maintains the live, ordered message view of one open
// conversation for one participant. It merges change-feed events with
// reconciliation fetches so the rendered list converges on the store's
// truth no matter how events arrive.

type Health string

const (
	HealthConnecting   Health = "connecting"
	HealthConnected    Health = "connected"
	HealthDisconnected Health = "disconnected"
)

var (
	ErrNotFound = errors.New("conversation not found")
	ErrClosed   = errors.New("sync engine closed")
)

type ConversationReader interface {
	GetByIDForParticipant(ctx context.Context, conversationID int64, participantID int64) (*models.Conversation, error)
}

type MessageLister interface {
	ListByConversationAsc(ctx context.Context, conversationID int64) ([]models.ChatMessage, error)
}

type Config struct {
	Conversations ConversationReader
	Messages      MessageLister
	Source        feed.Source

	// SendFunc writes a message through the store. The engine never
	// mutates local state on send; the sender sees their own message via
	// the feed echo, same as everyone else.
	SendFunc func(ctx context.Context, content string, attachment *models.Attachment) error

	// RetryInterval is the pause before a resubscribe attempt after the
	// feed drops. Defaults to 3s.
	RetryInterval time.Duration

	// OnHealth fires on every health transition. OnApplied fires for each
	// event that changed the view (duplicates and unknown-id updates do
	// not fire it). OnReset fires with a full snapshot after each
	// reconciliation fetch. All callbacks run on engine goroutines.
	OnHealth  func(Health)
	OnApplied func(feed.Event)
	OnReset   func([]models.ChatMessage)
}

type Engine struct {
	conversationID int64
	userID         int64
	cfg            Config

	mu       sync.Mutex
	list     []models.ChatMessage
	present  map[int64]struct{}
	health   Health
	closed   bool
	sendFunc func(ctx context.Context, content string, attachment *models.Attachment) error

	cancel context.CancelFunc
	done   chan struct{}
}

// Open checks that userID participates in the conversation, then starts
// the subscribe/reconcile loop. Authorization beyond participation is the
// store's concern, not re-implemented here. A conversation that does not
// exist, is archived, or does not include the caller yields ErrNotFound.
func Open(ctx context.Context, conversationID int64, userID int64, cfg Config) (*Engine, error) {
	conversation, err := cfg.Conversations.GetByIDForParticipant(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if conversation.Archived {
		return nil, ErrNotFound
	}

	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 3 * time.Second
	}

	engine := &Engine{
		conversationID: conversationID,
		userID:         userID,
		cfg:            cfg,
		present:        make(map[int64]struct{}),
		health:         HealthConnecting,
		sendFunc:       cfg.SendFunc,
		done:           make(chan struct{}),
	}

	// The loop outlives the open request; Close bounds its lifetime.
	runCtx, cancel := context.WithCancel(context.Background())
	engine.cancel = cancel
	go engine.run(runCtx)

	return engine, nil
}

func (e *Engine) ConversationID() int64 {
	return e.conversationID
}

func (e *Engine) UserID() int64 {
	return e.userID
}

func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

// Snapshot returns a copy of the current view in display order.
func (e *Engine) Snapshot() []models.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ChatMessage, len(e.list))
	copy(out, e.list)
	return out
}

// Send writes through the store and returns the store's verdict. Local
// state is untouched either way; on failure the caller restores whatever
// input it had cleared.
func (e *Engine) Send(ctx context.Context, content string, attachment *models.Attachment) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if e.sendFunc == nil {
		return errors.New("sync: engine has no send path")
	}
	return e.sendFunc(ctx, content, attachment)
}

// Close tears the subscription down synchronously and is idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	<-e.done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	for {
		e.setHealth(HealthConnecting)

		sub, err := e.cfg.Source.Subscribe(ctx, feed.ConversationChannel(e.conversationID))
		if err != nil {
			if !e.waitRetry(ctx) {
				return
			}
			continue
		}

		// Subscribe before fetching, so nothing falls in the crack between
		// the snapshot and the live stream; the overlap is absorbed by
		// dedupe. A refetch is mandatory after every gap, the feed gives no
		// delivery guarantee across one.
		if err := e.reconcile(ctx); err != nil {
			_ = sub.Close()
			if !e.waitRetry(ctx) {
				return
			}
			continue
		}

		e.setHealth(HealthConnected)
		e.consume(ctx, sub)
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}
		if !e.waitRetry(ctx) {
			return
		}
	}
}

func (e *Engine) setHealth(h Health) {
	e.mu.Lock()
	if e.health == h {
		e.mu.Unlock()
		return
	}
	e.health = h
	e.mu.Unlock()

	if e.cfg.OnHealth != nil {
		e.cfg.OnHealth(h)
	}
}

func (e *Engine) waitRetry(ctx context.Context) bool {
	e.setHealth(HealthDisconnected)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.cfg.RetryInterval):
		return true
	}
}

func (e *Engine) consume(ctx context.Context, sub feed.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			e.Apply(event)
		}
	}
}

func (e *Engine) reconcile(ctx context.Context) error {
	messages, err := e.cfg.Messages.ListByConversationAsc(ctx, e.conversationID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.list = messages
	e.present = make(map[int64]struct{}, len(messages))
	for _, message := range messages {
		e.present[message.ID] = struct{}{}
	}
	snapshot := make([]models.ChatMessage, len(e.list))
	copy(snapshot, e.list)
	e.mu.Unlock()

	if e.cfg.OnReset != nil {
		e.cfg.OnReset(snapshot)
	}
	return nil
}

// Apply folds one feed event into the view. Inserts dedupe by id (the
// initial fetch and the live feed can double-deliver the same row) and
// land at their sorted position, so a late-arriving earlier message is
// inserted, not appended. Updates patch in place by id; updates for
// unknown ids are ignored, not errors.
func (e *Engine) Apply(event feed.Event) {
	if event.Message.ConversationID != e.conversationID {
		return
	}

	e.mu.Lock()
	applied := false
	switch event.Type {
	case feed.EventInsert:
		if _, dup := e.present[event.Message.ID]; !dup {
			idx := sort.Search(len(e.list), func(i int) bool {
				return event.Message.Before(&e.list[i])
			})
			e.list = append(e.list, models.ChatMessage{})
			copy(e.list[idx+1:], e.list[idx:])
			e.list[idx] = event.Message
			e.present[event.Message.ID] = struct{}{}
			applied = true
		}
	case feed.EventUpdate:
		for i := range e.list {
			if e.list[i].ID == event.Message.ID {
				e.list[i] = event.Message
				applied = true
				break
			}
		}
	}
	e.mu.Unlock()

	if applied && e.cfg.OnApplied != nil {
		e.cfg.OnApplied(event)
	}
}
