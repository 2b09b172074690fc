package workers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kavehz/MentorAppBack/internal/models"
	"github.com/kavehz/MentorAppBack/internal/push"
	"github.com/kavehz/MentorAppBack/internal/services"
)

type scheduledStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledMessage, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, detail string) (bool, error)
}

type scheduledDeliverer interface {
	DeliverScheduled(ctx context.Context, row models.ScheduledMessage) (*services.ChatDelivery, error)
}

type deviceNotifier interface {
	Notify(ctx context.Context, userID int64, title, body string, data map[string]string) (push.Result, error)
}

// DispatchWorker promotes due scheduled messages into the live log,
// exactly once per row. Rows fail independently; one bad row never
// aborts its siblings.
type DispatchWorker struct {
	store     scheduledStore
	chat      scheduledDeliverer
	notifier  deviceNotifier
	lock      RunLocker
	batchSize int
	now       func() time.Time
}

func NewDispatchWorker(
	store scheduledStore,
	chat scheduledDeliverer,
	notifier deviceNotifier,
	lock RunLocker,
	batchSize int,
) *DispatchWorker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &DispatchWorker{
		store:     store,
		chat:      chat,
		notifier:  notifier,
		lock:      lock,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// RunOnce processes one bounded batch of due rows. Only a failure to
// query the due set is a hard failure; everything past that is recorded
// per row. A run that cannot take the overlap lock is a normal no-op.
func (w *DispatchWorker) RunOnce(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()

	if w.lock != nil {
		release, acquired, err := w.lock.TryAcquire(ctx)
		if err != nil {
			return Summary{}, err
		}
		if !acquired {
			log.Printf("dispatch %s: another run holds the lock, skipping", runID)
			return Summary{}, nil
		}
		defer release()
	}

	now := w.now()
	due, err := w.store.ListDue(ctx, now, w.batchSize)
	if err != nil {
		return Summary{}, err
	}
	if len(due) == 0 {
		return Summary{}, nil
	}

	summary := Summary{Processed: len(due)}
	for _, row := range due {
		if w.dispatchRow(ctx, runID, row) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	log.Printf("dispatch %s: processed=%d succeeded=%d failed=%d",
		runID, summary.Processed, summary.Succeeded, summary.Failed)
	return summary, nil
}

func (w *DispatchWorker) dispatchRow(ctx context.Context, runID string, row models.ScheduledMessage) bool {
	delivery, err := w.chat.DeliverScheduled(ctx, row)
	if err != nil {
		if _, markErr := w.store.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
			log.Printf("dispatch %s: mark row %d failed: %v", runID, row.ID, markErr)
		}
		return false
	}

	if _, err := w.store.MarkSent(ctx, row.ID, w.now()); err != nil {
		// The message is already in the log; a row left pending here would
		// be re-delivered next run. Needs operator attention.
		log.Printf("dispatch %s: mark row %d sent after delivery: %v", runID, row.ID, err)
	}

	// Best-effort fan-out to the counterpart. A notification failure must
	// not re-flag the row, the message is already sent.
	if w.notifier != nil {
		body := delivery.Message.Content
		if body == "" && delivery.Message.Attachment != nil {
			body = delivery.Message.Attachment.Name
		}
		if _, err := w.notifier.Notify(ctx, delivery.RecipientID, delivery.Message.SenderName, body, map[string]string{
			"conversation_id": strconv.FormatInt(delivery.Message.ConversationID, 10),
			"message_id":      strconv.FormatInt(delivery.Message.ID, 10),
		}); err != nil {
			log.Printf("dispatch %s: notify user %d for row %d: %v", runID, delivery.RecipientID, row.ID, err)
		}
	}

	return true
}
