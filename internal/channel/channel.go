package channel

import "context"

// Client is the outbound patient-message delivery port. Implementations send
// exactly one message per call and assume no other side effects.
type Client interface {
	Send(ctx context.Context, phoneNumber string, body string) (*SendResponse, error)
}

// SendResponse stores gateway call metadata for audit and reminder logging.
type SendResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
