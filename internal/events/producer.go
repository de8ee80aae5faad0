// Package events publishes engine state changes to the downstream
// notification stream. The sink is observational: emission failures are
// logged by callers and never fail a settlement.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event types emitted by the engine.
const (
	TypeBountyCreated      = "bounty.created"
	TypeSubmissionAccepted = "submission.accepted"
	TypeBountyInReview     = "bounty.in_review"
	TypeBountyResolved     = "bounty.resolved"
	TypeBountyCancelled    = "bounty.cancelled"
	TypeReputationUpdated  = "reputation.updated"
)

// Envelope is the wire shape of one event.
type Envelope struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	BountyID  string      `json:"bountyId,omitempty"`
	Payload   interface{} `json:"payload"`
	EmittedAt time.Time   `json:"emittedAt"`
}

// Sink receives engine events. Key is the bounty ID so per-bounty ordering
// survives partitioning.
type Sink interface {
	Emit(ctx context.Context, eventType, key string, payload interface{}) error
	Close() error
}

// NopSink discards events. Tests and dev mode without a broker use it.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, eventType, key string, payload interface{}) error {
	return nil
}

func (NopSink) Close() error { return nil }

type KafkaSinkConfig struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	WriteTimeout time.Duration
}

// KafkaSink writes events to a Kafka topic with key-hash partitioning and
// bounded retries per emit.
type KafkaSink struct {
	writer      *kafka.Writer
	maxAttempts int
}

func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})
	return &KafkaSink{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

func (s *KafkaSink) Emit(ctx context.Context, eventType, key string, payload interface{}) error {
	env := Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		BountyID:  key,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.writer.WriteMessages(attemptCtx, kafka.Message{
			Key:   []byte(key),
			Value: value,
			Time:  env.EmittedAt,
		})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("emit %s failed after %d attempts: %w", eventType, s.maxAttempts, lastErr)
}

func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
