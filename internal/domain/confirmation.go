package domain

import (
	"fmt"
	"strings"
	"time"
)

// ResponseType classifies what a patient reply says about the original reminder.
type ResponseType string

const (
	ResponseConfirmed ResponseType = "CONFIRMED"
	ResponseMissed    ResponseType = "MISSED"
	ResponseLater     ResponseType = "LATER"
	ResponseUnknown   ResponseType = "UNKNOWN"
)

func (r ResponseType) String() string { return string(r) }

func (r ResponseType) IsValid() bool {
	switch r {
	case ResponseConfirmed, ResponseMissed, ResponseLater, ResponseUnknown:
		return true
	}
	return false
}

func ParseResponseTypeFromString(s string) (ResponseType, error) {
	rt := ResponseType(strings.ToUpper(strings.TrimSpace(s)))
	if !rt.IsValid() {
		return "", fmt.Errorf("%w: invalid response type %q", ErrValidation, s)
	}
	return rt, nil
}

// ReminderLog records one outbound reminder delivery. It is the anchor a later
// inbound reply gets linked against.
type ReminderLog struct {
	ID                string
	PatientID         string
	PhoneNumber       string
	Message           string
	ProviderMessageID string
	Resolved          bool
	SentAt            time.Time
}

// LinkedConfirmation associates an inbound reply with a prior reminder. Records
// are immutable after creation; later replies create new records and never
// rewrite earlier ones.
type LinkedConfirmation struct {
	ID            string
	ReminderLogID string
	PatientID     string
	Response      string
	ResponseType  ResponseType
	Confidence    int
	LinkedAt      time.Time
}

func (c *LinkedConfirmation) Validate() error {
	if strings.TrimSpace(c.ReminderLogID) == "" {
		return fmt.Errorf("%w: reminder log id is required", ErrValidation)
	}
	if strings.TrimSpace(c.PatientID) == "" {
		return fmt.Errorf("%w: patient id is required", ErrValidation)
	}
	if !c.ResponseType.IsValid() {
		return fmt.Errorf("%w: invalid response type %q", ErrValidation, c.ResponseType)
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return fmt.Errorf("%w: confidence must be between 0 and 100 (got %d)", ErrValidation, c.Confidence)
	}
	return nil
}

// LinkResult is the outcome of a linking attempt. Success=false with a message
// is the explicit "nothing to link" answer; the linker never invents a link.
type LinkResult struct {
	Success          bool
	Confirmation     *LinkedConfirmation
	Message          string
	RequiresFollowUp bool
}
