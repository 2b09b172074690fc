package repository

import (
	"context"
	"time"

	"github.com/kavehz/MentorAppBack/internal/models"
)

type ReminderRepository struct {
	db DBTX
}

func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

type CreateReminderInput struct {
	MessageID int64
	UserID    int64
	RemindAt  time.Time
	Note      *string
}

func (r *ReminderRepository) Create(ctx context.Context, input CreateReminderInput) (*models.MessageReminder, error) {
	query := `
		INSERT INTO message_reminders (message_id, user_id, remind_at, note, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id, message_id, user_id, remind_at, note, status, sent_at, created_at
	`

	var reminder models.MessageReminder
	err := r.db.QueryRow(ctx, query, input.MessageID, input.UserID, input.RemindAt.UTC(), input.Note).Scan(
		&reminder.ID,
		&reminder.MessageID,
		&reminder.UserID,
		&reminder.RemindAt,
		&reminder.Note,
		&reminder.Status,
		&reminder.SentAt,
		&reminder.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &reminder, nil
}

func (r *ReminderRepository) ListDue(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]models.MessageReminder, error) {
	query := `
		SELECT id, message_id, user_id, remind_at, note, status, sent_at, created_at
		FROM message_reminders
		WHERE status = 'pending'
		  AND remind_at <= $1
		ORDER BY remind_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reminders := make([]models.MessageReminder, 0)
	for rows.Next() {
		var reminder models.MessageReminder
		if err := rows.Scan(
			&reminder.ID,
			&reminder.MessageID,
			&reminder.UserID,
			&reminder.RemindAt,
			&reminder.Note,
			&reminder.Status,
			&reminder.SentAt,
			&reminder.CreatedAt,
		); err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return reminders, nil
}

func (r *ReminderRepository) ListForUser(
	ctx context.Context,
	userID int64,
) ([]models.MessageReminder, error) {
	query := `
		SELECT id, message_id, user_id, remind_at, note, status, sent_at, created_at
		FROM message_reminders
		WHERE user_id = $1
		ORDER BY remind_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reminders := make([]models.MessageReminder, 0)
	for rows.Next() {
		var reminder models.MessageReminder
		if err := rows.Scan(
			&reminder.ID,
			&reminder.MessageID,
			&reminder.UserID,
			&reminder.RemindAt,
			&reminder.Note,
			&reminder.Status,
			&reminder.SentAt,
			&reminder.CreatedAt,
		); err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return reminders, nil
}

// MarkSent moves a reminder pending→sent; the guard keeps it one-way.
func (r *ReminderRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE message_reminders
		SET status = 'sent', sent_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, sentAt.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
