package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func TestWhatsAppClientSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody whatsAppRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messageId":"wamid-1","status":"sent"}`))
	}))
	defer server.Close()

	c, err := NewWhatsAppClient(server.URL, "secret-token")
	if err != nil {
		t.Fatalf("NewWhatsAppClient() error = %v", err)
	}

	resp, err := c.Send(context.Background(), " +628111222333 ", "Halo, waktunya minum obat")
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.MessageID != "wamid-1" {
		t.Fatalf("MessageID = %q, want %q", resp.MessageID, "wamid-1")
	}

	if gotBody.To != "+628111222333" {
		t.Fatalf("request.to = %q, want %q", gotBody.To, "+628111222333")
	}
	if gotBody.Type != "text" {
		t.Fatalf("request.type = %q, want %q", gotBody.Type, "text")
	}
	if gotBody.Body != "Halo, waktunya minum obat" {
		t.Fatalf("request.body = %q, want original message", gotBody.Body)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("Authorization = %q, want Bearer secret-token", gotAuth)
	}
}

func TestWhatsAppClientMessageIDHeaderFallback(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "req-77")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, err := NewWhatsAppClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewWhatsAppClient() error = %v", err)
	}

	resp, err := c.Send(context.Background(), "+628111222333", "halo")
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if resp.MessageID != "req-77" {
		t.Fatalf("MessageID = %q, want req-77", resp.MessageID)
	}
}

func TestWhatsAppClientSendStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "unauthorized is permanent", statusCode: http.StatusUnauthorized, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
		{name: "bad gateway is transient", statusCode: http.StatusBadGateway, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("gateway failed"))
			}))
			defer server.Close()

			c, err := NewWhatsAppClient(server.URL, "")
			if err != nil {
				t.Fatalf("NewWhatsAppClient() error = %v", err)
			}

			_, err = c.Send(context.Background(), "+628111222333", "halo")
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var sendErr *SendError
			if !errors.As(err, &sendErr) {
				t.Fatalf("expected SendError, got %T", err)
			}
			if sendErr.StatusCode != tc.statusCode {
				t.Fatalf("SendError.StatusCode = %d, want %d", sendErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestWhatsAppClientSendTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messageId":"late"}`))
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	c, err := NewWhatsAppClientWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewWhatsAppClientWithClient() error = %v", err)
	}

	_, err = c.Send(context.Background(), "+628111222333", "halo")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestWhatsAppClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWhatsAppClient("", "token"); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewWhatsAppClient("not a url", "token"); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
	if _, err := NewWhatsAppClientWithClient("https://wa.example.test", nil); err == nil {
		t.Fatal("expected error for nil client")
	}

	c, err := NewWhatsAppClient("https://wa.example.test", "")
	if err != nil {
		t.Fatalf("NewWhatsAppClient() error = %v", err)
	}
	if _, err := c.Send(context.Background(), "", "halo"); err == nil {
		t.Fatal("expected error for empty phone number")
	}
	if _, err := c.Send(context.Background(), "+628111222333", " "); err == nil {
		t.Fatal("expected error for empty body")
	}
}
