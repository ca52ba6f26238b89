package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/careline-id/careline/internal/domain"
	"github.com/careline-id/careline/internal/service"
	"github.com/gofiber/fiber/v2"
)

type FollowupQueue interface {
	DequeueFollowup(ctx context.Context, followupID string) error
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

type ReminderRecorder interface {
	RecordDelivery(ctx context.Context, patientID, phoneNumber, message, providerMessageID string) (*domain.ReminderLog, error)
}

type Poller interface {
	PollOnce(ctx context.Context) error
}

type FollowupHandler struct {
	queue     FollowupQueue
	reminders ReminderRecorder
	poller    Poller
}

func NewFollowupHandler(queue FollowupQueue, reminders ReminderRecorder, poller Poller) (*FollowupHandler, error) {
	if queue == nil {
		return nil, fmt.Errorf("followup queue is required")
	}
	if reminders == nil {
		return nil, fmt.Errorf("reminder service is required")
	}
	if poller == nil {
		return nil, fmt.Errorf("followup poller is required")
	}
	return &FollowupHandler{queue: queue, reminders: reminders, poller: poller}, nil
}

func RegisterFollowupRoutes(router fiber.Router, queue FollowupQueue, reminders ReminderRecorder, poller Poller) error {
	h, err := NewFollowupHandler(queue, reminders, poller)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/reminders", h.RecordReminder)
	v1.Get("/followups/stats", h.QueueStats)
	v1.Post("/followups/:followupId/cancel", h.CancelFollowup)

	router.Post("/internal/cron/followups", h.TriggerPoll)

	return nil
}

type recordReminderRequest struct {
	PatientID         string `json:"patientId"`
	PhoneNumber       string `json:"phoneNumber"`
	Message           string `json:"message"`
	ProviderMessageID string `json:"providerMessageId"`
}

type reminderResponse struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patientId"`
	PhoneNumber string    `json:"phoneNumber"`
	SentAt      time.Time `json:"sentAt"`
}

func (h *FollowupHandler) RecordReminder(c *fiber.Ctx) error {
	var req recordReminderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	reminder, err := h.reminders.RecordDelivery(
		c.Context(),
		strings.TrimSpace(req.PatientID),
		req.PhoneNumber,
		req.Message,
		strings.TrimSpace(req.ProviderMessageID),
	)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(reminderResponse{
		ID:          reminder.ID,
		PatientID:   reminder.PatientID,
		PhoneNumber: reminder.PhoneNumber,
		SentAt:      reminder.SentAt,
	})
}

func (h *FollowupHandler) QueueStats(c *fiber.Ctx) error {
	stats, err := h.queue.Stats(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"pending":    stats.Pending,
		"processing": stats.Processing,
		"completed":  stats.Completed,
		"failed":     stats.Failed,
	})
}

func (h *FollowupHandler) CancelFollowup(c *fiber.Ctx) error {
	followupID := strings.TrimSpace(c.Params("followupId"))
	if err := h.queue.DequeueFollowup(c.Context(), followupID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"followupId": followupID,
		"status":     "dequeued",
	})
}

func (h *FollowupHandler) TriggerPoll(c *fiber.Ctx) error {
	if err := h.poller.PollOnce(c.Context()); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "polled",
	})
}

var _ Poller = (*service.FollowupPoller)(nil)
