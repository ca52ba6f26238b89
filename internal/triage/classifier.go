package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/careline-id/careline/internal/domain"
	"github.com/careline-id/careline/internal/notify"
	"go.uber.org/zap"
)

// Confidence policy table. The deltas are tuned constants, not derived values;
// adjust them here and nowhere else.
const (
	baselineConfidence     = 80
	emergencyPenalty       = 20
	complexityPenalty      = 15
	shortMessagePenalty    = 10
	questionBonus          = 5
	lowConfidenceThreshold = 60

	complexWordCount = 20
	shortMessageLen  = 10
)

// Intent labels produced by the keyword path.
const (
	IntentEmergency    = "emergency"
	IntentPrescription = "prescription_inquiry"
	IntentSymptom      = "symptom_inquiry"
	IntentGeneral      = "general"
	IntentNoResponse   = "no_response"
)

// emergencyKeywords are medical red-flag terms. A single case-insensitive hit
// is necessary and sufficient for the emergency flag; this check runs before
// any other scoring.
var emergencyKeywords = []string{
	"darurat", "emergency",
	"sesak napas", "sesak nafas", "can't breathe", "cannot breathe",
	"nyeri dada", "sakit dada", "chest pain",
	"pingsan", "tidak sadar", "unconscious",
	"pendarahan", "perdarahan", "bleeding",
	"kejang", "seizure",
	"overdosis", "overdose",
	"serangan jantung", "heart attack",
	"stroke",
	"bunuh diri", "suicide",
}

var prescriptionKeywords = []string{
	"resep", "dosis", "obat apa", "prescription", "dosage", "refill",
}

var symptomKeywords = []string{
	"gejala", "symptom", "efek samping", "side effect", "mual", "pusing", "demam", "nyeri",
}

// medicalTerms feed the complexity heuristic together with message length.
var medicalTerms = []string{
	"obat", "dokter", "diagnosis", "terapi", "medis", "rumah sakit",
	"kemoterapi", "kanker", "tumor", "tekanan darah", "diabetes", "insulin",
}

// Classifier scores inbound replies for urgency and decides whether a human
// volunteer must be paged. The keyword path is the authoritative fast path; a
// remote classifier, when configured, only refines non-emergency verdicts.
type Classifier struct {
	sink   notify.Sink
	remote RemoteClassifier
	logger *zap.Logger
}

// RemoteClassifier is an optional external model call that can sharpen intent
// and confidence for ambiguous messages.
type RemoteClassifier interface {
	Classify(ctx context.Context, text string) (intent string, confidence int, err error)
}

func NewClassifier(sink notify.Sink, remote RemoteClassifier, logger *zap.Logger) (*Classifier, error) {
	if sink == nil {
		return nil, fmt.Errorf("volunteer notification sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Classifier{
		sink:   sink,
		remote: remote,
		logger: logger,
	}, nil
}

// AnalyzeMessageContent runs the dependency-free keyword classification.
func AnalyzeMessageContent(text string) domain.MessageAnalysis {
	normalized := strings.ToLower(strings.TrimSpace(text))

	isEmergency := containsAny(normalized, emergencyKeywords)

	intent := IntentGeneral
	complexIntent := false
	switch {
	case isEmergency:
		intent = IntentEmergency
	case containsAny(normalized, prescriptionKeywords):
		intent = IntentPrescription
		complexIntent = true
	case containsAny(normalized, symptomKeywords):
		intent = IntentSymptom
		complexIntent = true
	}

	wordCount := len(strings.Fields(normalized))
	isComplex := complexIntent || wordCount > complexWordCount || containsAny(normalized, medicalTerms)

	confidence := baselineConfidence
	if isEmergency {
		confidence -= emergencyPenalty
	}
	if isComplex {
		confidence -= complexityPenalty
	}
	if len(normalized) < shortMessageLen {
		confidence -= shortMessagePenalty
	}
	if strings.Contains(normalized, "?") {
		confidence += questionBonus
	}
	confidence = clamp(confidence, 0, 100)

	return domain.MessageAnalysis{
		Intent:        intent,
		Confidence:    confidence,
		IsEmergency:   isEmergency,
		IsComplex:     isComplex,
		RequiresHuman: isEmergency || isComplex || confidence < lowConfidenceThreshold,
	}
}

// Analyze combines the keyword path with the optional remote classifier. The
// remote call never downgrades an emergency verdict and a remote failure falls
// back to the keyword result.
func (c *Classifier) Analyze(ctx context.Context, text string) domain.MessageAnalysis {
	analysis := AnalyzeMessageContent(text)
	if c.remote == nil || analysis.IsEmergency {
		return analysis
	}

	intent, confidence, err := c.remote.Classify(ctx, text)
	if err != nil {
		c.logger.Warn("remote classifier unavailable, using keyword result", zap.Error(err))
		return analysis
	}

	if strings.TrimSpace(intent) != "" {
		analysis.Intent = intent
	}
	if confidence >= 0 && confidence <= 100 {
		analysis.Confidence = confidence
		analysis.RequiresHuman = analysis.IsComplex || confidence < lowConfidenceThreshold
	}

	return analysis
}

// AnalyzeMessage emits one escalation event per independent reason. Sink
// failures are returned to the caller: a dropped emergency escalation is a
// correctness failure, not a recoverable side effect.
func (c *Classifier) AnalyzeMessage(ctx context.Context, patientID string, text string, analysis domain.MessageAnalysis) ([]domain.EscalationEvent, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, fmt.Errorf("%w: patient id is required", domain.ErrValidation)
	}

	events := make([]domain.EscalationEvent, 0, 3)
	if analysis.IsEmergency {
		events = append(events, domain.EscalationEvent{
			PatientID:  patientID,
			Message:    text,
			Reason:     domain.ReasonEmergencyDetection,
			Confidence: analysis.Confidence,
			Intent:     analysis.Intent,
		})
	}
	if analysis.Confidence < lowConfidenceThreshold {
		events = append(events, domain.EscalationEvent{
			PatientID:  patientID,
			Message:    text,
			Reason:     domain.ReasonLowConfidence,
			Confidence: analysis.Confidence,
			Intent:     analysis.Intent,
		})
	}
	if analysis.IsComplex {
		events = append(events, domain.EscalationEvent{
			PatientID:  patientID,
			Message:    text,
			Reason:     domain.ReasonComplexInquiry,
			Confidence: analysis.Confidence,
			Intent:     analysis.Intent,
		})
	}

	for _, event := range events {
		if err := c.sink.CreateNotification(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to emit %s escalation: %w", strings.ToLower(event.Reason.String()), err)
		}
	}

	return events, nil
}

// EscalateNoResponse pages a volunteer when a followup chain ran out without
// any patient reply.
func (c *Classifier) EscalateNoResponse(ctx context.Context, patientID string) error {
	if strings.TrimSpace(patientID) == "" {
		return fmt.Errorf("%w: patient id is required", domain.ErrValidation)
	}

	event := domain.EscalationEvent{
		PatientID:  patientID,
		Message:    domain.NoResponseMarker,
		Reason:     domain.ReasonLowConfidence,
		Confidence: 0,
		Intent:     IntentNoResponse,
	}

	if err := c.sink.CreateNotification(ctx, event); err != nil {
		return fmt.Errorf("failed to emit no-response escalation: %w", err)
	}
	return nil
}

func containsAny(normalized string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
