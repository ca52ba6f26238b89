package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/careline-id/careline/internal/domain"
	"github.com/careline-id/careline/internal/service"
	"github.com/gofiber/fiber/v2"
)

type InboundService interface {
	HandleReply(ctx context.Context, patientID string, replyText string) (*service.InboundResult, error)
	HandleNoResponse(ctx context.Context, patientID string) error
}

type ReplyHandler struct {
	inbound InboundService
}

func NewReplyHandler(inbound InboundService) (*ReplyHandler, error) {
	if inbound == nil {
		return nil, fmt.Errorf("inbound service is required")
	}
	return &ReplyHandler{inbound: inbound}, nil
}

func RegisterReplyRoutes(router fiber.Router, inbound InboundService) error {
	h, err := NewReplyHandler(inbound)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/replies", h.ReceiveReply)
	v1.Post("/patients/:patientId/no-response", h.NoResponse)

	return nil
}

type receiveReplyRequest struct {
	PatientID string `json:"patientId"`
	Message   string `json:"message"`
}

type linkResponse struct {
	Success          bool    `json:"success"`
	Message          string  `json:"message"`
	RequiresFollowUp bool    `json:"requiresFollowUp"`
	ConfirmationID   *string `json:"confirmationId,omitempty"`
	ResponseType     *string `json:"responseType,omitempty"`
	Confidence       *int    `json:"confidence,omitempty"`
}

type analysisResponse struct {
	Intent        string `json:"intent"`
	Confidence    int    `json:"confidence"`
	IsEmergency   bool   `json:"isEmergency"`
	IsComplex     bool   `json:"isComplex"`
	RequiresHuman bool   `json:"requiresHuman"`
}

type receiveReplyResponse struct {
	Link        linkResponse     `json:"link"`
	Analysis    analysisResponse `json:"analysis"`
	Escalations int              `json:"escalations"`
}

func (h *ReplyHandler) ReceiveReply(c *fiber.Ctx) error {
	var req receiveReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.inbound.HandleReply(c.Context(), strings.TrimSpace(req.PatientID), req.Message)
	if err != nil {
		return toHTTPError(err)
	}

	link := linkResponse{
		Success:          result.Link.Success,
		Message:          result.Link.Message,
		RequiresFollowUp: result.Link.RequiresFollowUp,
	}
	if confirmation := result.Link.Confirmation; confirmation != nil {
		responseType := confirmation.ResponseType.String()
		link.ConfirmationID = &confirmation.ID
		link.ResponseType = &responseType
		link.Confidence = &confirmation.Confidence
	}

	return c.Status(fiber.StatusOK).JSON(receiveReplyResponse{
		Link: link,
		Analysis: analysisResponse{
			Intent:        result.Analysis.Intent,
			Confidence:    result.Analysis.Confidence,
			IsEmergency:   result.Analysis.IsEmergency,
			IsComplex:     result.Analysis.IsComplex,
			RequiresHuman: result.Analysis.RequiresHuman,
		},
		Escalations: len(result.Escalations),
	})
}

func (h *ReplyHandler) NoResponse(c *fiber.Ctx) error {
	patientID := strings.TrimSpace(c.Params("patientId"))
	if err := h.inbound.HandleNoResponse(c.Context(), patientID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"patientId": patientID,
		"status":    "escalated",
	})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
