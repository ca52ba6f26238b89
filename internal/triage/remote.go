package triage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultClassifyTimeout = 5 * time.Second

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Intent     string `json:"intent"`
	Confidence int    `json:"confidence"`
}

// HTTPClassifier calls an external classification service. It is strictly a
// supplement: callers fall back to the keyword path on any failure.
type HTTPClassifier struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPClassifier(endpoint string) (*HTTPClassifier, error) {
	client := resty.New()
	client.SetTimeout(defaultClassifyTimeout)
	client.SetRetryCount(0)

	return NewHTTPClassifierWithClient(endpoint, client)
}

func NewHTTPClassifierWithClient(endpoint string, client *resty.Client) (*HTTPClassifier, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("classifier endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid classifier endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultClassifyTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPClassifier{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (string, int, error) {
	if c == nil || c.client == nil {
		return "", 0, fmt.Errorf("classifier is not initialized")
	}

	var parsed classifyResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(classifyRequest{Text: text}).
		SetResult(&parsed).
		Post(c.endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("classifier request failed: %w", err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return "", 0, fmt.Errorf("classifier returned status %d", statusCode)
	}

	return parsed.Intent, parsed.Confidence, nil
}
