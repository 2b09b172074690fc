package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/kavehz/MentorAppBack/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

type CreateMessageInput struct {
	ConversationID int64
	SenderID       int64
	SenderName     string
	Content        string
	Attachment     *models.Attachment
}

func (r *MessageRepository) Create(ctx context.Context, input CreateMessageInput) (*models.ChatMessage, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		RETURNING id, conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, is_read, delivered_at, created_at
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
	)
	return scanMessageRow(row)
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, is_read, delivered_at, created_at
		FROM messages
		WHERE id = $1
	`
	return scanMessageRow(r.db.QueryRow(ctx, query, messageID))
}

// ListByConversationAsc returns every message of a conversation in display
// order. Client timestamps can race, so the order is created_at ascending
// with id as the tiebreak.
func (r *MessageRepository) ListByConversationAsc(
	ctx context.Context,
	conversationID int64,
) ([]models.ChatMessage, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, is_read, delivered_at, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.ChatMessage, int, error) {
	totalQuery := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
	`

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, is_read, delivered_at, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// MarkMessagesRead flips is_read on the given messages and returns the rows
// it actually changed, so callers can publish the update events.
func (r *MessageRepository) MarkMessagesRead(
	ctx context.Context,
	messageIDs []int64,
	readerID int64,
) ([]models.ChatMessage, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	query := `
		UPDATE messages
		SET is_read = TRUE
		WHERE id = ANY($1)
		  AND sender_id <> $2
		  AND is_read = FALSE
		RETURNING id, conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, is_read, delivered_at, created_at
	`

	rows, err := r.db.Query(ctx, query, messageIDs, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) ([]models.ChatMessage, error) {
	query := `
		UPDATE messages
		SET is_read = TRUE
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND is_read = FALSE
		RETURNING id, conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, is_read, delivered_at, created_at
	`

	rows, err := r.db.Query(ctx, query, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MarkDelivered stamps delivered_at on undelivered messages addressed to
// recipientID. delivered_at is set once, by the first acknowledging client.
func (r *MessageRepository) MarkDelivered(
	ctx context.Context,
	conversationID int64,
	recipientID int64,
) ([]models.ChatMessage, error) {
	query := `
		UPDATE messages
		SET delivered_at = NOW()
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND delivered_at IS NULL
		RETURNING id, conversation_id, sender_id, sender_name, content, attachment_url, attachment_name, attachment_type, is_read, delivered_at, created_at
	`

	rows, err := r.db.Query(ctx, query, conversationID, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// CountUnreadForUser is the authoritative unread count: unread messages
// addressed to the user across all their non-archived conversations.
func (r *MessageRepository) CountUnreadForUser(ctx context.Context, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.student_id = $1 OR c.mentor_id = $1)
		  AND c.archived = FALSE
		  AND m.sender_id <> $1
		  AND m.is_read = FALSE
	`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

type messageScanner interface {
	Scan(dest ...any) error
}

func scanMessageRow(row messageScanner) (*models.ChatMessage, error) {
	var message models.ChatMessage
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
		&message.IsRead,
		&message.DeliveredAt,
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

func scanMessages(rows pgx.Rows) ([]models.ChatMessage, error) {
	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		message, err := scanMessageRow(rows)
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
