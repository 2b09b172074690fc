package models

import "time"

type Conversation struct {
	ID        int64     `json:"id"`
	StudentID int64     `json:"student_id"`
	MentorID  int64     `json:"mentor_id"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OtherParticipant returns the counterpart of userID in the conversation.
func (c *Conversation) OtherParticipant(userID int64) int64 {
	if userID == c.StudentID {
		return c.MentorID
	}
	return c.StudentID
}

func (c *Conversation) HasParticipant(userID int64) bool {
	return userID == c.StudentID || userID == c.MentorID
}

type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type ChatMessage struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	SenderID       int64       `json:"sender_id"`
	SenderName     string      `json:"sender_name"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	IsRead         bool        `json:"is_read"`
	DeliveredAt    *time.Time  `json:"delivered_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Before reports whether m sorts ahead of other in display order:
// created_at ascending, id as the tiebreak for concurrent senders.
func (m *ChatMessage) Before(other *ChatMessage) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

type ConversationSummary struct {
	Conversation
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}

const (
	ScheduledStatusPending = "pending"
	ScheduledStatusSent    = "sent"
	ScheduledStatusFailed  = "failed"
)

type ScheduledMessage struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	SenderID       int64       `json:"sender_id"`
	SenderName     string      `json:"sender_name"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	ScheduledFor   time.Time   `json:"scheduled_for"`
	Status         string      `json:"status"`
	Error          *string     `json:"error,omitempty"`
	SentAt         *time.Time  `json:"sent_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

const (
	ReminderStatusPending = "pending"
	ReminderStatusSent    = "sent"
)

type MessageReminder struct {
	ID        int64      `json:"id"`
	MessageID int64      `json:"message_id"`
	UserID    int64      `json:"user_id"`
	RemindAt  time.Time  `json:"remind_at"`
	Note      *string    `json:"note,omitempty"`
	Status    string     `json:"status"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type PushSubscription struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	KeyP256dh string    `json:"p256dh"`
	KeyAuth   string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}
