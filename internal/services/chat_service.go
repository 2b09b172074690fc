package services

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kavehz/MentorAppBack/internal/models"
	"github.com/kavehz/MentorAppBack/internal/push"
	"github.com/kavehz/MentorAppBack/internal/repository"
)

var (
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidInput         = errors.New("invalid input")
	ErrMentorNotFound       = errors.New("mentor not found")
	ErrConversationArchived = errors.New("conversation archived")
)

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type changePublisher interface {
	PublishInsert(ctx context.Context, message *models.ChatMessage, userIDs ...int64) error
	PublishUpdate(ctx context.Context, old, updated *models.ChatMessage, userIDs ...int64) error
}

type pushNotifier interface {
	Notify(ctx context.Context, userID int64, title, body string, data map[string]string) (push.Result, error)
}

type ChatService struct {
	db               *pgxpool.Pool
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	scheduledRepo    *repository.ScheduledMessageRepository
	reminderRepo     *repository.ReminderRepository
	userRepo         userReader
	publisher        changePublisher
	notifier         pushNotifier
}

type ChatDelivery struct {
	Conversation *models.Conversation
	Message      *models.ChatMessage
	RecipientID  int64
}

func NewChatService(
	db *pgxpool.Pool,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	scheduledRepo *repository.ScheduledMessageRepository,
	reminderRepo *repository.ReminderRepository,
	userRepo userReader,
	publisher changePublisher,
	notifier pushNotifier,
) *ChatService {
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		scheduledRepo:    scheduledRepo,
		reminderRepo:     reminderRepo,
		userRepo:         userRepo,
		publisher:        publisher,
		notifier:         notifier,
	}
}

func validRole(role string) bool {
	return role == "student" || role == "mentor"
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	actorID int64,
	role string,
) ([]models.ConversationSummary, error) {
	if !validRole(role) {
		return nil, ErrForbidden
	}

	return s.conversationRepo.ListForParticipant(ctx, actorID)
}

func (s *ChatService) CreateConversation(
	ctx context.Context,
	actorID int64,
	role string,
	mentorID int64,
) (*models.Conversation, error) {
	if role != "student" {
		return nil, ErrForbidden
	}
	if mentorID <= 0 || mentorID == actorID {
		return nil, ErrInvalidInput
	}

	mentor, err := s.userRepo.GetByID(ctx, mentorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMentorNotFound
		}
		return nil, err
	}
	if mentor.Role != "mentor" {
		return nil, ErrInvalidInput
	}

	return s.conversationRepo.CreateOrGet(ctx, actorID, mentorID)
}

func (s *ChatService) ArchiveConversation(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) error {
	if !validRole(role) {
		return ErrForbidden
	}
	if conversationID <= 0 {
		return ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if conversation.Archived {
		return nil
	}

	return s.conversationRepo.Archive(ctx, conversationID)
}

// ListMessages returns one page of a conversation (newest first, for
// paging) and marks the returned messages read, publishing the read-flip
// update events so open views and unread counters adjust live.
func (s *ChatService) ListMessages(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
	page int,
	limit int,
) ([]models.ChatMessage, int, error) {
	if !validRole(role) {
		return nil, 0, ErrForbidden
	}
	if conversationID <= 0 || page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	_, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, pgx.ErrNoRows
		}
		return nil, 0, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)

	messages, total, err := txMessageRepo.ListByConversation(
		ctx,
		conversationID,
		limit,
		(page-1)*limit,
	)
	if err != nil {
		return nil, 0, err
	}

	messageIDs := make([]int64, 0, len(messages))
	for _, message := range messages {
		messageIDs = append(messageIDs, message.ID)
	}

	flipped, err := txMessageRepo.MarkMessagesRead(ctx, messageIDs, actorID)
	if err != nil {
		return nil, 0, err
	}

	for i := range messages {
		if messages[i].SenderID != actorID {
			messages[i].IsRead = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}

	s.publishReadFlips(ctx, flipped, actorID)

	return messages, total, nil
}

// MarkConversationRead flips every unread message addressed to the actor
// in the conversation and returns how many it flipped.
func (s *ChatService) MarkConversationRead(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) (int, error) {
	if !validRole(role) {
		return 0, ErrForbidden
	}
	if conversationID <= 0 {
		return 0, ErrInvalidInput
	}

	if _, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID); err != nil {
		return 0, err
	}

	flipped, err := s.messageRepo.MarkConversationRead(ctx, conversationID, actorID)
	if err != nil {
		return 0, err
	}

	s.publishReadFlips(ctx, flipped, actorID)
	return len(flipped), nil
}

// AcknowledgeDelivery stamps delivered_at on messages addressed to the
// actor, set once by whichever client acknowledges first.
func (s *ChatService) AcknowledgeDelivery(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) error {
	if _, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID); err != nil {
		return err
	}

	stamped, err := s.messageRepo.MarkDelivered(ctx, conversationID, actorID)
	if err != nil {
		return err
	}

	for i := range stamped {
		old := stamped[i]
		old.DeliveredAt = nil
		if err := s.publisher.PublishUpdate(ctx, &old, &stamped[i]); err != nil {
			log.Printf("chat: publish delivered update for message %d: %v", stamped[i].ID, err)
		}
	}
	return nil
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
	content string,
	attachment *models.Attachment,
) (*ChatDelivery, error) {
	if !validRole(role) {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" && attachment == nil {
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if conversation.Archived {
		return nil, ErrConversationArchived
	}

	sender, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}

	message, err := s.insertMessage(ctx, repository.CreateMessageInput{
		ConversationID: conversationID,
		SenderID:       actorID,
		SenderName:     senderDisplayName(sender),
		Content:        trimmed,
		Attachment:     attachment,
	})
	if err != nil {
		return nil, err
	}

	recipientID := conversation.OtherParticipant(actorID)

	// The feed echo is how every open view, the sender's included, renders
	// this message. Publish failure is logged, not returned: the store has
	// committed and reconnect refetches will pick the row up.
	if err := s.publisher.PublishInsert(ctx, message, conversation.StudentID, conversation.MentorID); err != nil {
		log.Printf("chat: publish insert for message %d: %v", message.ID, err)
	}

	s.notifyNewMessage(ctx, recipientID, message)

	return &ChatDelivery{
		Conversation: conversation,
		Message:      message,
		RecipientID:  recipientID,
	}, nil
}

// DeliverScheduled materializes a due scheduled message into the live log.
// The sender name was denormalized when the row was authored and is used
// as-is. Push fan-out is the dispatch worker's job, not done here.
func (s *ChatService) DeliverScheduled(
	ctx context.Context,
	row models.ScheduledMessage,
) (*ChatDelivery, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, row.ConversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Archived {
		return nil, ErrConversationArchived
	}

	message, err := s.insertMessage(ctx, repository.CreateMessageInput{
		ConversationID: row.ConversationID,
		SenderID:       row.SenderID,
		SenderName:     row.SenderName,
		Content:        row.Content,
		Attachment:     row.Attachment,
	})
	if err != nil {
		return nil, err
	}

	if err := s.publisher.PublishInsert(ctx, message, conversation.StudentID, conversation.MentorID); err != nil {
		log.Printf("chat: publish insert for scheduled message %d: %v", row.ID, err)
	}

	return &ChatDelivery{
		Conversation: conversation,
		Message:      message,
		RecipientID:  conversation.OtherParticipant(row.SenderID),
	}, nil
}

func (s *ChatService) insertMessage(
	ctx context.Context,
	input repository.CreateMessageInput,
) (*models.ChatMessage, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)

	message, err := txMessageRepo.Create(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := txConversationRepo.Touch(ctx, input.ConversationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return message, nil
}

func (s *ChatService) ScheduleMessage(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
	content string,
	attachment *models.Attachment,
	scheduledFor time.Time,
) (*models.ScheduledMessage, error) {
	if !validRole(role) {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}
	if scheduledFor.Before(time.Now().Add(-1 * time.Minute)) {
		return nil, ErrInvalidInput
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" && attachment == nil {
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if conversation.Archived {
		return nil, ErrConversationArchived
	}

	sender, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}

	return s.scheduledRepo.Create(ctx, repository.CreateScheduledMessageInput{
		ConversationID: conversationID,
		SenderID:       actorID,
		SenderName:     senderDisplayName(sender),
		Content:        trimmed,
		Attachment:     attachment,
		ScheduledFor:   scheduledFor,
	})
}

func (s *ChatService) ListScheduledMessages(
	ctx context.Context,
	actorID int64,
	role string,
) ([]models.ScheduledMessage, error) {
	if !validRole(role) {
		return nil, ErrForbidden
	}
	return s.scheduledRepo.ListForSender(ctx, actorID)
}

func (s *ChatService) CancelScheduledMessage(
	ctx context.Context,
	actorID int64,
	role string,
	scheduledID int64,
) error {
	if !validRole(role) {
		return ErrForbidden
	}
	if scheduledID <= 0 {
		return ErrInvalidInput
	}

	cancelled, err := s.scheduledRepo.CancelPending(ctx, scheduledID, actorID)
	if err != nil {
		return err
	}
	if !cancelled {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *ChatService) CreateReminder(
	ctx context.Context,
	actorID int64,
	role string,
	messageID int64,
	remindAt time.Time,
	note *string,
) (*models.MessageReminder, error) {
	if !validRole(role) {
		return nil, ErrForbidden
	}
	if messageID <= 0 {
		return nil, ErrInvalidInput
	}
	if remindAt.Before(time.Now().Add(-1 * time.Minute)) {
		return nil, ErrInvalidInput
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if _, err := s.conversationRepo.GetByIDForParticipant(ctx, message.ConversationID, actorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	return s.reminderRepo.Create(ctx, repository.CreateReminderInput{
		MessageID: messageID,
		UserID:    actorID,
		RemindAt:  remindAt,
		Note:      note,
	})
}

func (s *ChatService) ListReminders(
	ctx context.Context,
	actorID int64,
	role string,
) ([]models.MessageReminder, error) {
	if !validRole(role) {
		return nil, ErrForbidden
	}
	return s.reminderRepo.ListForUser(ctx, actorID)
}

func (s *ChatService) UnreadCount(ctx context.Context, actorID int64) (int, error) {
	return s.messageRepo.CountUnreadForUser(ctx, actorID)
}

func (s *ChatService) publishReadFlips(ctx context.Context, flipped []models.ChatMessage, readerID int64) {
	for i := range flipped {
		old := flipped[i]
		old.IsRead = false
		if err := s.publisher.PublishUpdate(ctx, &old, &flipped[i], readerID); err != nil {
			log.Printf("chat: publish read update for message %d: %v", flipped[i].ID, err)
		}
	}
}

func (s *ChatService) notifyNewMessage(ctx context.Context, recipientID int64, message *models.ChatMessage) {
	if s.notifier == nil {
		return
	}

	body := message.Content
	if body == "" && message.Attachment != nil {
		body = message.Attachment.Name
	}

	result, err := s.notifier.Notify(ctx, recipientID, message.SenderName, body, map[string]string{
		"conversation_id": formatID(message.ConversationID),
		"message_id":      formatID(message.ID),
	})
	if err != nil {
		log.Printf("chat: push lookup for user %d: %v", recipientID, err)
		return
	}
	if result.Failed > 0 {
		log.Printf("chat: push to user %d: %d/%d devices failed", recipientID, result.Failed, result.Attempted)
	}
}

func senderDisplayName(user *models.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Email
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
