package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultSendTimeout = 10 * time.Second

type whatsAppRequest struct {
	To   string `json:"to"`
	Type string `json:"type"`
	Body string `json:"body"`
}

type whatsAppResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// WhatsAppClient delivers followup texts through a WhatsApp business gateway.
type WhatsAppClient struct {
	client   *resty.Client
	endpoint string
}

func NewWhatsAppClient(endpoint string, token string) (*WhatsAppClient, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)
	if strings.TrimSpace(token) != "" {
		client.SetAuthToken(token)
	}

	return NewWhatsAppClientWithClient(endpoint, client)
}

func NewWhatsAppClientWithClient(endpoint string, client *resty.Client) (*WhatsAppClient, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("whatsapp endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid whatsapp endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &WhatsAppClient{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (c *WhatsAppClient) Send(ctx context.Context, phoneNumber string, body string) (*SendResponse, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("whatsapp client is not initialized")
	}
	if strings.TrimSpace(phoneNumber) == "" {
		return nil, fmt.Errorf("phone number is required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("message body is required")
	}

	reqBody := whatsAppRequest{
		To:   strings.TrimSpace(phoneNumber),
		Type: "text",
		Body: body,
	}

	var parsed whatsAppResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&parsed).
		Post(c.endpoint)
	if err != nil {
		return nil, &SendError{
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &SendError{
			Message:   "gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  messageID(parsed, response),
		}, nil
	}

	return nil, &SendError{
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func messageID(parsed whatsAppResponse, response *resty.Response) string {
	if id := strings.TrimSpace(parsed.MessageID); id != "" {
		return id
	}
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
