package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kavehz/MentorAppBack/internal/models"
	"github.com/kavehz/MentorAppBack/internal/push"
	"github.com/kavehz/MentorAppBack/internal/services"
)

// fakeScheduledStore keeps rows in memory and honors the pending-only
// transition guard the real repository enforces.
type fakeScheduledStore struct {
	mu      sync.Mutex
	rows    map[int64]*models.ScheduledMessage
	listErr error
	markErr error
}

func newFakeScheduledStore(rows ...models.ScheduledMessage) *fakeScheduledStore {
	store := &fakeScheduledStore{rows: make(map[int64]*models.ScheduledMessage)}
	for i := range rows {
		row := rows[i]
		store.rows[row.ID] = &row
	}
	return store
}

func (s *fakeScheduledStore) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var due []models.ScheduledMessage
	for _, row := range s.rows {
		if row.Status == models.ScheduledStatusPending && !row.ScheduledFor.After(now) {
			due = append(due, *row)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (s *fakeScheduledStore) MarkSent(ctx context.Context, id int64, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	row, ok := s.rows[id]
	if !ok || row.Status != models.ScheduledStatusPending {
		return false, nil
	}
	row.Status = models.ScheduledStatusSent
	row.SentAt = &sentAt
	return true, nil
}

func (s *fakeScheduledStore) MarkFailed(ctx context.Context, id int64, detail string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != models.ScheduledStatusPending {
		return false, nil
	}
	row.Status = models.ScheduledStatusFailed
	row.Error = &detail
	return true, nil
}

func (s *fakeScheduledStore) status(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Status
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []int64
	failIDs   map[int64]error
}

func (d *fakeDeliverer) DeliverScheduled(ctx context.Context, row models.ScheduledMessage) (*services.ChatDelivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failIDs[row.ID]; ok {
		return nil, err
	}
	d.delivered = append(d.delivered, row.ID)
	return &services.ChatDelivery{
		Conversation: &models.Conversation{ID: row.ConversationID, StudentID: row.SenderID, MentorID: 20},
		Message: &models.ChatMessage{
			ID:             row.ID + 1000,
			ConversationID: row.ConversationID,
			SenderID:       row.SenderID,
			SenderName:     row.SenderName,
			Content:        row.Content,
		},
		RecipientID: 20,
	}, nil
}

func (d *fakeDeliverer) deliveries() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int64, len(d.delivered))
	copy(out, d.delivered)
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (n *fakeNotifier) Notify(ctx context.Context, userID int64, title, body string, data map[string]string) (push.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return push.Result{}, n.err
	}
	n.calls = append(n.calls, userID)
	return push.Result{Attempted: 1, Succeeded: 1}, nil
}

type fakeLock struct {
	held     bool
	err      error
	releases int
}

func (l *fakeLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func() { l.releases++ }, true, nil
}

func dueRow(id int64, at time.Time) models.ScheduledMessage {
	return models.ScheduledMessage{
		ID:             id,
		ConversationID: 1,
		SenderID:       10,
		SenderName:     "Ada",
		Content:        "scheduled hello",
		ScheduledFor:   at,
		Status:         models.ScheduledStatusPending,
	}
}

func TestDispatchRunOnceDeliversDueRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeScheduledStore(
		dueRow(1, now.Add(-time.Minute)),
		dueRow(2, now.Add(-time.Second)),
		dueRow(3, now.Add(time.Hour)), // not due yet
	)
	deliverer := &fakeDeliverer{}
	notifier := &fakeNotifier{}

	worker := NewDispatchWorker(store, deliverer, notifier, nil, 10)
	worker.now = func() time.Time { return now }

	summary, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if summary.Processed != 2 || summary.Succeeded != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if store.status(1) != models.ScheduledStatusSent || store.status(2) != models.ScheduledStatusSent {
		t.Fatal("due rows must be marked sent")
	}
	if store.status(3) != models.ScheduledStatusPending {
		t.Fatal("future row must stay pending")
	}
	if len(notifier.calls) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.calls))
	}
}

func TestDispatchIsExactlyOnceAcrossRuns(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeScheduledStore(dueRow(1, now.Add(-time.Minute)))
	deliverer := &fakeDeliverer{}

	worker := NewDispatchWorker(store, deliverer, nil, nil, 10)
	worker.now = func() time.Time { return now }

	first, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first.Succeeded != 1 || second.Processed != 0 {
		t.Fatalf("expected one delivery then a no-op, got %+v then %+v", first, second)
	}
	if got := deliverer.deliveries(); len(got) != 1 {
		t.Fatalf("row delivered %d times", len(got))
	}
}

func TestDispatchRowFailuresAreIsolated(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeScheduledStore(
		dueRow(1, now.Add(-time.Minute)),
		dueRow(2, now.Add(-time.Minute)),
	)
	deliverer := &fakeDeliverer{failIDs: map[int64]error{
		1: errors.New("conversation archived"),
	}}

	worker := NewDispatchWorker(store, deliverer, nil, nil, 10)
	worker.now = func() time.Time { return now }

	summary, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if summary.Processed != 2 || summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if store.status(1) != models.ScheduledStatusFailed {
		t.Fatal("failed row must be marked failed with the error recorded")
	}
	if store.rows[1].Error == nil || *store.rows[1].Error != "conversation archived" {
		t.Fatal("failure detail must be recorded on the row")
	}
	if store.status(2) != models.ScheduledStatusSent {
		t.Fatal("sibling row must still be delivered")
	}
}

func TestDispatchListFailureIsHard(t *testing.T) {
	store := newFakeScheduledStore()
	store.listErr = errors.New("store down")

	worker := NewDispatchWorker(store, &fakeDeliverer{}, nil, nil, 10)
	if _, err := worker.RunOnce(context.Background()); err == nil {
		t.Fatal("expected hard failure when the due query fails")
	}
}

func TestDispatchSkipsWhenLockHeld(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeScheduledStore(dueRow(1, now.Add(-time.Minute)))
	deliverer := &fakeDeliverer{}
	lock := &fakeLock{held: true}

	worker := NewDispatchWorker(store, deliverer, nil, lock, 10)
	worker.now = func() time.Time { return now }

	summary, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if summary.Processed != 0 {
		t.Fatalf("locked run must be a no-op, got %+v", summary)
	}
	if len(deliverer.deliveries()) != 0 {
		t.Fatal("locked run must not deliver")
	}
}

func TestDispatchReleasesLock(t *testing.T) {
	store := newFakeScheduledStore()
	lock := &fakeLock{}

	worker := NewDispatchWorker(store, &fakeDeliverer{}, nil, lock, 10)
	if _, err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released once, got %d", lock.releases)
	}
}

func TestDispatchNotifyFailureDoesNotFailRow(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeScheduledStore(dueRow(1, now.Add(-time.Minute)))
	notifier := &fakeNotifier{err: errors.New("push gateway down")}

	worker := NewDispatchWorker(store, &fakeDeliverer{}, notifier, nil, 10)
	worker.now = func() time.Time { return now }

	summary, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("delivered row must count as success despite push failure, got %+v", summary)
	}
	if store.status(1) != models.ScheduledStatusSent {
		t.Fatal("row must be marked sent despite push failure")
	}
}

func TestDispatchHonorsBatchSize(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeScheduledStore(
		dueRow(1, now.Add(-3*time.Minute)),
		dueRow(2, now.Add(-2*time.Minute)),
		dueRow(3, now.Add(-time.Minute)),
	)
	deliverer := &fakeDeliverer{}

	worker := NewDispatchWorker(store, deliverer, nil, nil, 2)
	worker.now = func() time.Time { return now }

	summary, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if summary.Processed != 2 {
		t.Fatalf("expected batch of 2, got %+v", summary)
	}
}
