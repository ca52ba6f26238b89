package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/careline-id/careline/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultNotifyTimeout = 10 * time.Second

type notificationRequest struct {
	PatientID  string `json:"patientId"`
	Message    string `json:"message"`
	Reason     string `json:"reason"`
	Confidence int    `json:"confidence"`
	Intent     string `json:"intent"`
}

// WebhookSink posts escalation events to the volunteer coordination endpoint.
type WebhookSink struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookSink(endpoint string) (*WebhookSink, error) {
	client := resty.New()
	client.SetTimeout(defaultNotifyTimeout)
	client.SetRetryCount(0)

	return NewWebhookSinkWithClient(endpoint, client)
}

func NewWebhookSinkWithClient(endpoint string, client *resty.Client) (*WebhookSink, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("volunteer webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid volunteer webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultNotifyTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookSink{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (s *WebhookSink) CreateNotification(ctx context.Context, event domain.EscalationEvent) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("volunteer sink is not initialized")
	}
	if err := event.Validate(); err != nil {
		return err
	}

	reqBody := notificationRequest{
		PatientID:  event.PatientID,
		Message:    event.Message,
		Reason:     event.Reason.String(),
		Confidence: event.Confidence,
		Intent:     event.Intent,
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(s.endpoint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("volunteer notification request failed: %w", err)
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return fmt.Errorf("volunteer sink returned status %d", statusCode)
}
