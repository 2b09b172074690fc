package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/kavehz/MentorAppBack/internal/models"
	"github.com/kavehz/MentorAppBack/internal/services"
	chatws "github.com/kavehz/MentorAppBack/internal/websocket"
)

type stubChatService struct {
	conversationsResult []models.ConversationSummary
	conversationsErr    error
	createResult        *models.Conversation
	createErr           error
	archiveErr          error
	messagesResult      []models.ChatMessage
	messagesTotal       int
	messagesErr         error
	sendResult          *services.ChatDelivery
	sendErr             error
	unreadResult        int
	unreadErr           error
	lastActorID         int64
	lastRole            string
	lastMentorID        int64
	lastConversationID  int64
	lastPage            int
	lastLimit           int
	lastContent         string
	lastAttachment      *models.Attachment
}

func (s *stubChatService) ListConversations(_ context.Context, actorID int64, role string) ([]models.ConversationSummary, error) {
	s.lastActorID = actorID
	s.lastRole = role
	return s.conversationsResult, s.conversationsErr
}

func (s *stubChatService) CreateConversation(_ context.Context, actorID int64, role string, mentorID int64) (*models.Conversation, error) {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastMentorID = mentorID
	return s.createResult, s.createErr
}

func (s *stubChatService) ArchiveConversation(_ context.Context, actorID int64, role string, conversationID int64) error {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastConversationID = conversationID
	return s.archiveErr
}

func (s *stubChatService) ListMessages(_ context.Context, actorID int64, role string, conversationID int64, page int, limit int) ([]models.ChatMessage, int, error) {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastConversationID = conversationID
	s.lastPage = page
	s.lastLimit = limit
	return s.messagesResult, s.messagesTotal, s.messagesErr
}

func (s *stubChatService) SendMessage(_ context.Context, actorID int64, role string, conversationID int64, content string, attachment *models.Attachment) (*services.ChatDelivery, error) {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastConversationID = conversationID
	s.lastContent = content
	s.lastAttachment = attachment
	return s.sendResult, s.sendErr
}

func (s *stubChatService) UnreadCount(_ context.Context, actorID int64) (int, error) {
	s.lastActorID = actorID
	return s.unreadResult, s.unreadErr
}

func chatTestApp(service *stubChatService, role, userID string) (*fiber.App, *ChatHandler) {
	handler := NewChatHandler(service, chatws.NewManager(), chatws.SessionDeps{}, "secret")

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("role", role)
		c.Locals("user_id", userID)
		return c.Next()
	})
	return app, handler
}

func TestListConversationsReturnsSummaries(t *testing.T) {
	service := &stubChatService{
		conversationsResult: []models.ConversationSummary{
			{
				Conversation: models.Conversation{ID: 17, StudentID: 42, MentorID: 8},
				LastMessage: &models.ChatMessage{
					ID:             3,
					ConversationID: 17,
					SenderID:       8,
					Content:        "See you tomorrow",
					CreatedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
				},
				UnreadCount: 2,
			},
		},
	}
	app, handler := chatTestApp(service, "student", "42")
	app.Get("/api/v1/conversations", handler.ListConversations)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastActorID != 42 || service.lastRole != "student" {
		t.Fatalf("unexpected actor context: %d %q", service.lastActorID, service.lastRole)
	}

	var body struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Conversations) != 1 || body.Conversations[0].UnreadCount != 2 {
		t.Fatalf("unexpected response: %+v", body.Conversations)
	}
}

func TestCreateConversationRequiresStudentRole(t *testing.T) {
	service := &stubChatService{}
	app, handler := chatTestApp(service, "mentor", "8")
	app.Post("/api/v1/conversations", handler.CreateConversation)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader(`{"mentor_id":8}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for mentor, got %d", resp.StatusCode)
	}
}

func TestCreateConversationReturnsCreated(t *testing.T) {
	service := &stubChatService{
		createResult: &models.Conversation{ID: 9, StudentID: 42, MentorID: 7},
	}
	app, handler := chatTestApp(service, "student", "42")
	app.Post("/api/v1/conversations", handler.CreateConversation)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader(`{"mentor_id":7}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastMentorID != 7 {
		t.Fatalf("expected mentor id 7, got %d", service.lastMentorID)
	}
}

func TestCreateConversationMapsUnknownMentorTo404(t *testing.T) {
	service := &stubChatService{createErr: services.ErrMentorNotFound}
	app, handler := chatTestApp(service, "student", "42")
	app.Post("/api/v1/conversations", handler.CreateConversation)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader(`{"mentor_id":999}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetMessagesPassesPagination(t *testing.T) {
	service := &stubChatService{
		messagesResult: []models.ChatMessage{{ID: 1, ConversationID: 17, SenderID: 8, Content: "hi"}},
		messagesTotal:  41,
	}
	app, handler := chatTestApp(service, "mentor", "8")
	app.Get("/api/v1/conversations/:id/messages", handler.GetMessages)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/17/messages?page=2&limit=20", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastConversationID != 17 || service.lastPage != 2 || service.lastLimit != 20 {
		t.Fatalf("unexpected query: conv=%d page=%d limit=%d",
			service.lastConversationID, service.lastPage, service.lastLimit)
	}

	var body struct {
		Messages   []models.ChatMessage  `json:"messages"`
		Pagination models.PaginationMeta `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Pagination.Total != 41 || body.Pagination.TotalPages != 3 {
		t.Fatalf("unexpected pagination: %+v", body.Pagination)
	}
}

func TestGetMessagesRejectsBadConversationID(t *testing.T) {
	app, handler := chatTestApp(&stubChatService{}, "student", "42")
	app.Get("/api/v1/conversations/:id/messages", handler.GetMessages)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/nope/messages", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSendMessageReturnsCreatedMessage(t *testing.T) {
	service := &stubChatService{
		sendResult: &services.ChatDelivery{
			Conversation: &models.Conversation{ID: 17, StudentID: 42, MentorID: 8},
			Message:      &models.ChatMessage{ID: 5, ConversationID: 17, SenderID: 42, Content: "hello"},
			RecipientID:  8,
		},
	}
	app, handler := chatTestApp(service, "student", "42")
	app.Post("/api/v1/conversations/:id/messages", handler.SendMessage)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/17/messages", strings.NewReader(`{"content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastContent != "hello" {
		t.Fatalf("unexpected content: %q", service.lastContent)
	}
}

func TestSendMessageMapsArchivedTo409(t *testing.T) {
	service := &stubChatService{sendErr: services.ErrConversationArchived}
	app, handler := chatTestApp(service, "student", "42")
	app.Post("/api/v1/conversations/:id/messages", handler.SendMessage)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/17/messages", strings.NewReader(`{"content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestSendMessageMapsEmptyContentTo400(t *testing.T) {
	service := &stubChatService{sendErr: services.ErrInvalidInput}
	app, handler := chatTestApp(service, "student", "42")
	app.Post("/api/v1/conversations/:id/messages", handler.SendMessage)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/17/messages", strings.NewReader(`{"content":""}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestArchiveConversationMapsMissingRowTo404(t *testing.T) {
	service := &stubChatService{archiveErr: pgx.ErrNoRows}
	app, handler := chatTestApp(service, "mentor", "8")
	app.Post("/api/v1/conversations/:id/archive", handler.ArchiveConversation)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/99/archive", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetUnreadCountReturnsTotal(t *testing.T) {
	service := &stubChatService{unreadResult: 6}
	app, handler := chatTestApp(service, "student", "42")
	app.Get("/api/v1/messages/unread-count", handler.GetUnreadCount)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/unread-count", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Unread int `json:"unread"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Unread != 6 {
		t.Fatalf("expected 6 unread, got %d", body.Unread)
	}
}

func TestChatEndpointsRejectUnknownRole(t *testing.T) {
	app, handler := chatTestApp(&stubChatService{}, "admin", "1")
	app.Get("/api/v1/conversations", handler.ListConversations)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown role, got %d", resp.StatusCode)
	}
}
