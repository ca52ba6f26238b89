package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/careline-id/careline/internal/domain"
)

func testEvent() domain.EscalationEvent {
	return domain.EscalationEvent{
		PatientID:  "patient-1",
		Message:    "tolong darurat",
		Reason:     domain.ReasonEmergencyDetection,
		Confidence: 60,
		Intent:     "emergency",
	}
}

func TestWebhookSinkCreateNotification(t *testing.T) {
	t.Parallel()

	var gotBody notificationRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookSink() error = %v", err)
	}

	if err := sink.CreateNotification(context.Background(), testEvent()); err != nil {
		t.Fatalf("CreateNotification() error = %v", err)
	}

	if gotBody.PatientID != "patient-1" {
		t.Fatalf("request.patientId = %q, want patient-1", gotBody.PatientID)
	}
	if gotBody.Reason != "EMERGENCY_DETECTION" {
		t.Fatalf("request.reason = %q, want EMERGENCY_DETECTION", gotBody.Reason)
	}
}

func TestWebhookSinkNon2xxIsError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookSink() error = %v", err)
	}

	if err := sink.CreateNotification(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestWebhookSinkRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the endpoint for an invalid event")
	}))
	defer server.Close()

	sink, err := NewWebhookSink(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookSink() error = %v", err)
	}

	event := testEvent()
	event.PatientID = ""
	if err := sink.CreateNotification(context.Background(), event); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want %v", err, domain.ErrValidation)
	}
}

func TestNewWebhookSinkValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhookSink(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewWebhookSinkWithClient("https://volunteers.example.test", nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
