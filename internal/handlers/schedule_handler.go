package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kavehz/MentorAppBack/internal/models"
)

type scheduleApplicationService interface {
	ScheduleMessage(ctx context.Context, actorID int64, role string, conversationID int64, content string, attachment *models.Attachment, scheduledFor time.Time) (*models.ScheduledMessage, error)
	ListScheduledMessages(ctx context.Context, actorID int64, role string) ([]models.ScheduledMessage, error)
	CancelScheduledMessage(ctx context.Context, actorID int64, role string, scheduledID int64) error
	CreateReminder(ctx context.Context, actorID int64, role string, messageID int64, remindAt time.Time, note *string) (*models.MessageReminder, error)
	ListReminders(ctx context.Context, actorID int64, role string) ([]models.MessageReminder, error)
}

type ScheduleHandler struct {
	service scheduleApplicationService
}

func NewScheduleHandler(service scheduleApplicationService) *ScheduleHandler {
	return &ScheduleHandler{service: service}
}

type scheduleMessageRequest struct {
	ConversationID int64              `json:"conversation_id"`
	Content        string             `json:"content"`
	Attachment     *models.Attachment `json:"attachment,omitempty"`
	ScheduledFor   time.Time          `json:"scheduled_for"`
}

type createReminderRequest struct {
	MessageID int64     `json:"message_id"`
	RemindAt  time.Time `json:"remind_at"`
	Note      *string   `json:"note,omitempty"`
}

func (h *ScheduleHandler) ScheduleMessage(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || (role != "student" && role != "mentor") {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req scheduleMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	scheduled, err := h.service.ScheduleMessage(
		c.Context(),
		userID,
		role,
		req.ConversationID,
		req.Content,
		req.Attachment,
		req.ScheduledFor,
	)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"scheduled_message": scheduled})
}

func (h *ScheduleHandler) ListScheduledMessages(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || (role != "student" && role != "mentor") {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	scheduled, err := h.service.ListScheduledMessages(c.Context(), userID, role)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"scheduled_messages": scheduled})
}

func (h *ScheduleHandler) CancelScheduledMessage(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || (role != "student" && role != "mentor") {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	scheduledID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || scheduledID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid scheduled message id"})
	}

	if err := h.service.CancelScheduledMessage(c.Context(), userID, role, scheduledID); err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"cancelled": true})
}

func (h *ScheduleHandler) CreateReminder(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || (role != "student" && role != "mentor") {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createReminderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	reminder, err := h.service.CreateReminder(c.Context(), userID, role, req.MessageID, req.RemindAt, req.Note)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"reminder": reminder})
}

func (h *ScheduleHandler) ListReminders(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || (role != "student" && role != "mentor") {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	reminders, err := h.service.ListReminders(c.Context(), userID, role)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"reminders": reminders})
}
