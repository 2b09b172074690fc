package handlers

import (
	"context"
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/kavehz/MentorAppBack/internal/workers"
)

type runOnceWorker interface {
	RunOnce(ctx context.Context) (workers.Summary, error)
}

// JobHandler exposes the batch workers as stateless "run once" endpoints
// for an external cron. Invoking one with nothing due is a normal no-op
// returning zero counts.
type JobHandler struct {
	dispatch   runOnceWorker
	reminders  runOnceWorker
	cronSecret string
}

func NewJobHandler(dispatch, reminders runOnceWorker, cronSecret string) *JobHandler {
	return &JobHandler{
		dispatch:   dispatch,
		reminders:  reminders,
		cronSecret: cronSecret,
	}
}

func (h *JobHandler) RunDispatch(c *fiber.Ctx) error {
	return h.run(c, h.dispatch)
}

func (h *JobHandler) RunReminders(c *fiber.Ctx) error {
	return h.run(c, h.reminders)
}

func (h *JobHandler) run(c *fiber.Ctx, worker runOnceWorker) error {
	if !h.authorized(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid cron secret"})
	}

	summary, err := worker.RunOnce(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Worker run failed"})
	}

	return c.JSON(summary)
}

func (h *JobHandler) authorized(c *fiber.Ctx) bool {
	if h.cronSecret == "" {
		return false
	}
	provided := c.Get("X-Cron-Secret")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.cronSecret)) == 1
}
