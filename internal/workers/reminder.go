package workers

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kavehz/MentorAppBack/internal/models"
)

type reminderStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.MessageReminder, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) (bool, error)
}

type messageGetter interface {
	GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error)
}

// ReminderWorker sweeps due reminders and nudges the target user on
// every registered device. A reminder's job is "an attempt was made",
// so it is marked sent regardless of per-device outcomes. Reminders
// fire even if the message was read in the meantime.
type ReminderWorker struct {
	store     reminderStore
	messages  messageGetter
	notifier  deviceNotifier
	lock      RunLocker
	batchSize int
	now       func() time.Time
}

func NewReminderWorker(
	store reminderStore,
	messages messageGetter,
	notifier deviceNotifier,
	lock RunLocker,
	batchSize int,
) *ReminderWorker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ReminderWorker{
		store:     store,
		messages:  messages,
		notifier:  notifier,
		lock:      lock,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (w *ReminderWorker) RunOnce(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()

	if w.lock != nil {
		release, acquired, err := w.lock.TryAcquire(ctx)
		if err != nil {
			return Summary{}, err
		}
		if !acquired {
			log.Printf("reminders %s: another run holds the lock, skipping", runID)
			return Summary{}, nil
		}
		defer release()
	}

	due, err := w.store.ListDue(ctx, w.now(), w.batchSize)
	if err != nil {
		return Summary{}, err
	}
	if len(due) == 0 {
		return Summary{}, nil
	}

	summary := Summary{Processed: len(due)}
	for _, reminder := range due {
		if w.sendReminder(ctx, runID, reminder) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	log.Printf("reminders %s: processed=%d succeeded=%d failed=%d",
		runID, summary.Processed, summary.Succeeded, summary.Failed)
	return summary, nil
}

func (w *ReminderWorker) sendReminder(ctx context.Context, runID string, reminder models.MessageReminder) bool {
	message, err := w.messages.GetByID(ctx, reminder.MessageID)
	if err != nil {
		// Left pending on purpose: a lookup failure gets retried next run
		// instead of silently consuming the reminder.
		log.Printf("reminders %s: resolve message %d for reminder %d: %v",
			runID, reminder.MessageID, reminder.ID, err)
		return false
	}

	title := fmt.Sprintf("Reminder: message from %s", message.SenderName)
	body := message.Content
	if body == "" && message.Attachment != nil {
		body = message.Attachment.Name
	}
	if reminder.Note != nil && *reminder.Note != "" {
		body = *reminder.Note + ": " + body
	}

	if w.notifier != nil {
		result, err := w.notifier.Notify(ctx, reminder.UserID, title, body, map[string]string{
			"conversation_id": strconv.FormatInt(message.ConversationID, 10),
			"message_id":      strconv.FormatInt(message.ID, 10),
		})
		if err != nil {
			log.Printf("reminders %s: push lookup for user %d: %v", runID, reminder.UserID, err)
		} else if result.Failed > 0 {
			log.Printf("reminders %s: user %d: %d/%d devices failed",
				runID, reminder.UserID, result.Failed, result.Attempted)
		}
	}

	if _, err := w.store.MarkSent(ctx, reminder.ID, w.now()); err != nil {
		log.Printf("reminders %s: mark reminder %d sent: %v", runID, reminder.ID, err)
		return false
	}
	return true
}
