package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	auditQueueName   = "careline.audit"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// RabbitMQSink publishes audit entries to a durable queue. Connectivity is
// re-established lazily with exponential backoff; a publish that still fails
// returns an error for the caller to swallow and log.
type RabbitMQSink struct {
	url string

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

func NewRabbitMQSink(url string) (*RabbitMQSink, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	s := &RabbitMQSink{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *RabbitMQSink) LogAccess(ctx context.Context, entry Entry) error {
	if s == nil {
		return fmt.Errorf("audit sink is not initialized")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return fmt.Errorf("audit action is required")
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	ch, err := s.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    entry.OccurredAt,
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", auditQueueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish audit entry: %w", err)
	}

	return nil
}

func (s *RabbitMQSink) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (s *RabbitMQSink) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		if err := s.ensureConnected(ctx); err != nil {
			return nil, err
		}
		s.mu.RLock()
		conn = s.conn
		s.mu.RUnlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := s.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		s.mu.RLock()
		conn = s.conn
		s.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if _, err := ch.QueueDeclare(auditQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare audit queue: %w", err)
	}

	return ch, nil
}

func (s *RabbitMQSink) ensureConnected(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return s.reconnectWithBackoff(ctx)
}

func (s *RabbitMQSink) reconnectWithBackoff(ctx context.Context) error {
	s.reconnectMu.Lock()
	defer s.reconnectMu.Unlock()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.Dial(s.url)
		if err == nil {
			s.mu.Lock()
			oldConn := s.conn
			s.conn = newConn
			s.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}

			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}
