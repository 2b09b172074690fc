package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kavehz/MentorAppBack/internal/models"
)

type subscriptionStore interface {
	Upsert(ctx context.Context, userID int64, endpoint, keyP256dh, keyAuth string) (*models.PushSubscription, error)
	DeleteForUser(ctx context.Context, userID int64, endpoint string) (bool, error)
}

// NotificationHandler manages a user's per-device Web Push registrations.
type NotificationHandler struct {
	subs           subscriptionStore
	vapidPublicKey string
}

func NewNotificationHandler(subs subscriptionStore, vapidPublicKey string) *NotificationHandler {
	return &NotificationHandler{
		subs:           subs,
		vapidPublicKey: vapidPublicKey,
	}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *NotificationHandler) GetVAPIDPublicKey(c *fiber.Ctx) error {
	if h.vapidPublicKey == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Push notifications are not configured"})
	}
	return c.JSON(fiber.Map{"public_key": h.vapidPublicKey})
}

func (h *NotificationHandler) Subscribe(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Endpoint and keys are required"})
	}

	sub, err := h.subs.Upsert(c.Context(), userID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to store subscription"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"subscription": sub})
}

func (h *NotificationHandler) Unsubscribe(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req unsubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	deleted, err := h.subs.DeleteForUser(c.Context(), userID, strings.TrimSpace(req.Endpoint))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to remove subscription"})
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Subscription not found"})
	}

	return c.JSON(fiber.Map{"unsubscribed": true})
}
