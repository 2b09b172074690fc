package unread

import (
	"context"
	"errors"
	"testing"

	"github.com/kavehz/MentorAppBack/internal/feed"
	"github.com/kavehz/MentorAppBack/internal/models"
)

type stubQuerier struct {
	count int
	err   error
	calls int
}

func (s *stubQuerier) CountUnreadForUser(ctx context.Context, userID int64) (int, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.count, nil
}

func inbound(id int64, read bool) models.ChatMessage {
	return models.ChatMessage{ID: id, ConversationID: 1, SenderID: 20, IsRead: read}
}

func TestRecomputeSeedsFromStore(t *testing.T) {
	store := &stubQuerier{count: 7}
	counter := NewCounter(10, store, nil)

	count, err := counter.Recompute(context.Background())
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if count != 7 || counter.Count() != 7 {
		t.Fatalf("expected count 7, got %d / %d", count, counter.Count())
	}
}

func TestRecomputeErrorKeepsRunningValue(t *testing.T) {
	store := &stubQuerier{count: 3}
	counter := NewCounter(10, store, nil)
	if _, err := counter.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	store.err = errors.New("store down")
	count, err := counter.Recompute(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if count != 3 {
		t.Fatalf("failed recompute must keep the running value, got %d", count)
	}
}

func TestOnInsertCountsOnlyUnreadFromOthers(t *testing.T) {
	counter := NewCounter(10, &stubQuerier{}, nil)

	counter.OnInsert(inbound(1, false))
	if counter.Count() != 1 {
		t.Fatalf("expected 1 after unread insert, got %d", counter.Count())
	}

	// Own messages and already-read rows do not count.
	counter.OnInsert(models.ChatMessage{ID: 2, SenderID: 10})
	counter.OnInsert(inbound(3, true))
	if counter.Count() != 1 {
		t.Fatalf("expected count unchanged, got %d", counter.Count())
	}
}

func TestOnUpdateDecrementsOnReadFlip(t *testing.T) {
	counter := NewCounter(10, &stubQuerier{}, nil)
	counter.OnInsert(inbound(1, false))
	counter.OnInsert(inbound(2, false))

	old := inbound(1, false)
	updated := inbound(1, true)
	counter.OnUpdate(old, updated)
	if counter.Count() != 1 {
		t.Fatalf("expected 1 after read flip, got %d", counter.Count())
	}

	// Non-flip updates are no-ops: already read, still unread, own message.
	counter.OnUpdate(inbound(1, true), inbound(1, true))
	counter.OnUpdate(inbound(2, false), inbound(2, false))
	own := models.ChatMessage{ID: 3, SenderID: 10}
	counter.OnUpdate(own, own)
	if counter.Count() != 1 {
		t.Fatalf("expected count unchanged, got %d", counter.Count())
	}
}

func TestCountNeverGoesNegative(t *testing.T) {
	counter := NewCounter(10, &stubQuerier{}, nil)

	counter.OnUpdate(inbound(1, false), inbound(1, true))
	counter.OnUpdate(inbound(2, false), inbound(2, true))
	if counter.Count() != 0 {
		t.Fatalf("expected floor at 0, got %d", counter.Count())
	}
}

func TestApplyEventRoutesByType(t *testing.T) {
	counter := NewCounter(10, &stubQuerier{}, nil)

	counter.ApplyEvent(feed.Event{Type: feed.EventInsert, Message: inbound(1, false)})
	if counter.Count() != 1 {
		t.Fatalf("expected 1 after insert event, got %d", counter.Count())
	}

	old := inbound(1, false)
	counter.ApplyEvent(feed.Event{Type: feed.EventUpdate, Message: inbound(1, true), Old: &old})
	if counter.Count() != 0 {
		t.Fatalf("expected 0 after update event, got %d", counter.Count())
	}

	// Updates missing the prior row state are skipped, not guessed at.
	counter.ApplyEvent(feed.Event{Type: feed.EventUpdate, Message: inbound(2, true)})
	if counter.Count() != 0 {
		t.Fatalf("expected old-less update to be skipped, got %d", counter.Count())
	}
}

func TestOnChangeFiresOnMovementOnly(t *testing.T) {
	var notified []int
	store := &stubQuerier{count: 2}
	counter := NewCounter(10, store, func(count int) {
		notified = append(notified, count)
	})

	if _, err := counter.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	counter.OnInsert(inbound(1, false))
	// Recompute to the same value stays silent.
	store.count = 3
	if _, err := counter.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	counter.OnInsert(inbound(2, true))

	want := []int{2, 3}
	if len(notified) != len(want) {
		t.Fatalf("expected %d notifications, got %v", len(want), notified)
	}
	for i := range want {
		if notified[i] != want[i] {
			t.Fatalf("notification %d: expected %d, got %d", i, want[i], notified[i])
		}
	}
}

func TestRecomputeHealsFastPathDrift(t *testing.T) {
	store := &stubQuerier{count: 5}
	counter := NewCounter(10, store, nil)

	// Fast path drifted: three increments against a store truth of 5.
	counter.OnInsert(inbound(1, false))
	counter.OnInsert(inbound(2, false))
	counter.OnInsert(inbound(3, false))

	count, err := counter.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected authoritative 5, got %d", count)
	}
}
