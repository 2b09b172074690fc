package unread

import (
	"context"
	"sync"

	"github.com/kavehz/MentorAppBack/internal/feed"
	"github.com/kavehz/MentorAppBack/internal/models"
)

// Counter tracks one user's unread-message total for one session. The
// feed-driven increments and decrements are a fast path only; Recompute
// against the store is the truth and is safe to interleave at any time.

type Querier interface {
	CountUnreadForUser(ctx context.Context, userID int64) (int, error)
}

type Counter struct {
	userID int64
	store  Querier

	mu    sync.Mutex
	count int

	onChange func(int)
}

// NewCounter builds a zero counter; call Recompute to seed it. onChange
// may be nil and fires outside the lock whenever the value moves.
func NewCounter(userID int64, store Querier, onChange func(int)) *Counter {
	return &Counter{
		userID:   userID,
		store:    store,
		onChange: onChange,
	}
}

func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Recompute replaces the running value with the authoritative store
// count. Idempotent, so the fast path over- or under-shooting between
// recomputes self-heals.
func (c *Counter) Recompute(ctx context.Context) (int, error) {
	count, err := c.store.CountUnreadForUser(ctx, c.userID)
	if err != nil {
		return c.Count(), err
	}
	c.set(count)
	return count, nil
}

// Refresh is Recompute under the name the UI calls it by.
func (c *Counter) Refresh(ctx context.Context) (int, error) {
	return c.Recompute(ctx)
}

// OnInsert bumps the count for a new unread message from someone else.
func (c *Counter) OnInsert(message models.ChatMessage) {
	if message.SenderID == c.userID || message.IsRead {
		return
	}
	c.adjust(1)
}

// OnUpdate drops the count by one when a message addressed to the user
// flips unread→read. Every other field change is a no-op.
func (c *Counter) OnUpdate(old, updated models.ChatMessage) {
	if updated.SenderID == c.userID {
		return
	}
	if old.IsRead || !updated.IsRead {
		return
	}
	c.adjust(-1)
}

// ApplyEvent routes a feed event to the matching fast path. Update events
// without the prior row state are skipped; the next recompute covers them.
func (c *Counter) ApplyEvent(event feed.Event) {
	switch event.Type {
	case feed.EventInsert:
		c.OnInsert(event.Message)
	case feed.EventUpdate:
		if event.Old != nil {
			c.OnUpdate(*event.Old, event.Message)
		}
	}
}

func (c *Counter) adjust(delta int) {
	c.mu.Lock()
	next := c.count + delta
	if next < 0 {
		// Displayed count never goes negative regardless of interleaving.
		next = 0
	}
	changed := next != c.count
	c.count = next
	c.mu.Unlock()

	if changed && c.onChange != nil {
		c.onChange(next)
	}
}

func (c *Counter) set(value int) {
	if value < 0 {
		value = 0
	}
	c.mu.Lock()
	changed := value != c.count
	c.count = value
	c.mu.Unlock()

	if changed && c.onChange != nil {
		c.onChange(value)
	}
}
