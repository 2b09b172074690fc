package repository

import (
	"context"
	"time"

	"github.com/kavehz/MentorAppBack/internal/models"
)

type ScheduledMessageRepository struct {
	db DBTX
}

func NewScheduledMessageRepository(db DBTX) *ScheduledMessageRepository {
	return &ScheduledMessageRepository{db: db}
}

type CreateScheduledMessageInput struct {
	ConversationID int64
	SenderID       int64
	SenderName     string
	Content        string
	Attachment     *models.Attachment
	ScheduledFor   time.Time
}

func (r *ScheduledMessageRepository) Create(
	ctx context.Context,
	input CreateScheduledMessageInput,
) (*models.ScheduledMessage, error) {
	query := `
		INSERT INTO scheduled_messages (conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, scheduled_for, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		RETURNING id, conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, scheduled_for, status, error, sent_at, created_at
	`

	var attachmentURL, attachmentName, attachmentType *string
	if input.Attachment != nil {
		attachmentURL = &input.Attachment.URL
		attachmentName = &input.Attachment.Name
		attachmentType = &input.Attachment.Type
	}

	row := r.db.QueryRow(ctx, query,
		input.ConversationID,
		input.SenderID,
		input.SenderName,
		input.Content,
		attachmentURL,
		attachmentName,
		attachmentType,
		input.ScheduledFor.UTC(),
	)
	return scanScheduledMessageRow(row)
}

// ListDue returns pending rows whose due time has passed, oldest first,
// capped at limit so one run never monopolizes the store under backlog.
func (r *ScheduledMessageRepository) ListDue(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]models.ScheduledMessage, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, scheduled_for, status, error, sent_at, created_at
		FROM scheduled_messages
		WHERE status = 'pending'
		  AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.ScheduledMessage, 0)
	for rows.Next() {
		message, err := scanScheduledMessageRow(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *ScheduledMessageRepository) ListForSender(
	ctx context.Context,
	senderID int64,
) ([]models.ScheduledMessage, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, scheduled_for, status, error, sent_at, created_at
		FROM scheduled_messages
		WHERE sender_id = $1
		ORDER BY scheduled_for ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.ScheduledMessage, 0)
	for rows.Next() {
		message, err := scanScheduledMessageRow(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkSent moves a row pending→sent. The status guard in the WHERE clause
// keeps the transition one-way even if a stale run retries the row.
func (r *ScheduledMessageRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = 'sent', sent_at = $2, error = NULL
		WHERE id = $1 AND status = 'pending'
	`, id, sentAt.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ScheduledMessageRepository) MarkFailed(ctx context.Context, id int64, detail string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE scheduled_messages
		SET status = 'failed', error = $2, sent_at = NULL
		WHERE id = $1 AND status = 'pending'
	`, id, detail)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CancelPending deletes a not-yet-dispatched row owned by senderID.
func (r *ScheduledMessageRepository) CancelPending(ctx context.Context, id int64, senderID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM scheduled_messages
		WHERE id = $1 AND sender_id = $2 AND status = 'pending'
	`, id, senderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanScheduledMessageRow(row messageScanner) (*models.ScheduledMessage, error) {
	var message models.ScheduledMessage
	var attachmentURL, attachmentName, attachmentType *string

	err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.SenderName,
		&message.Content,
		&attachmentURL,
		&attachmentName,
		&attachmentType,
		&message.ScheduledFor,
		&message.Status,
		&message.Error,
		&message.SentAt,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if attachmentURL != nil {
		message.Attachment = &models.Attachment{URL: *attachmentURL}
		if attachmentName != nil {
			message.Attachment.Name = *attachmentName
		}
		if attachmentType != nil {
			message.Attachment.Type = *attachmentType
		}
	}

	return &message, nil
}
