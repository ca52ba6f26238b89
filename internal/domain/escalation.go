package domain

import (
	"fmt"
	"strings"
)

// EscalationReason explains why a human volunteer is being paged. Reasons are
// independent: one message can produce several events, one per reason, so the
// sink can route and prioritize them separately.
type EscalationReason string

const (
	ReasonEmergencyDetection EscalationReason = "EMERGENCY_DETECTION"
	ReasonLowConfidence      EscalationReason = "LOW_CONFIDENCE"
	ReasonComplexInquiry     EscalationReason = "COMPLEX_INQUIRY"
)

func (r EscalationReason) String() string { return string(r) }

func (r EscalationReason) IsValid() bool {
	switch r {
	case ReasonEmergencyDetection, ReasonLowConfidence, ReasonComplexInquiry:
		return true
	}
	return false
}

// NoResponseMarker is the synthetic message text used when a followup chain
// exhausts without any patient reply.
const NoResponseMarker = "[no response]"

// MessageAnalysis is the classifier verdict for one inbound message.
type MessageAnalysis struct {
	Intent        string
	Confidence    int
	IsEmergency   bool
	IsComplex     bool
	RequiresHuman bool
}

// EscalationEvent is a decision to involve a human. It is handed to the
// volunteer notification sink immediately and not retained by the core.
type EscalationEvent struct {
	PatientID  string
	Message    string
	Reason     EscalationReason
	Confidence int
	Intent     string
}

func (e *EscalationEvent) Validate() error {
	if strings.TrimSpace(e.PatientID) == "" {
		return fmt.Errorf("%w: patient id is required", ErrValidation)
	}
	if !e.Reason.IsValid() {
		return fmt.Errorf("%w: invalid escalation reason %q", ErrValidation, e.Reason)
	}
	if e.Confidence < 0 || e.Confidence > 100 {
		return fmt.Errorf("%w: confidence must be between 0 and 100 (got %d)", ErrValidation, e.Confidence)
	}
	return nil
}
