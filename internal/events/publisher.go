// Package events exports trade log entries to a message broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"dex-trade-agent/internal/domain"
)

// Publisher exports trade log entries.
type Publisher interface {
	Publish(ctx context.Context, e *domain.TradeLogEntry) error
	Close() error
}

// Nop discards every entry.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, *domain.TradeLogEntry) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// TradeEvent is the wire format of a published entry.
type TradeEvent struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp_ms"`
	Action    string  `json:"action"`
	Symbol    string  `json:"symbol"`
	Token     string  `json:"token,omitempty"`
	Quantity  string  `json:"quantity"`
	Price     float64 `json:"price"`
	Outcome   string  `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
	PnLPct    float64 `json:"pnl_pct"`
	TxHash    string  `json:"tx_hash,omitempty"`
	Simulated bool    `json:"simulated"`
	Error     string  `json:"error,omitempty"`
}

// NewTradeEvent converts a trade log entry to its wire format.
func NewTradeEvent(e *domain.TradeLogEntry) TradeEvent {
	return TradeEvent{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Action:    string(e.Action),
		Symbol:    e.Symbol,
		Token:     e.Token,
		Quantity:  e.Quantity.String(),
		Price:     e.Price,
		Outcome:   string(e.Outcome),
		Reason:    e.Reason,
		PnLPct:    e.PnLPct,
		TxHash:    e.TxHash,
		Simulated: e.Simulated,
		Error:     e.Error,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	MaxAttempts  int
}

// KafkaPublisher writes one message per entry, keyed by symbol so a symbol's
// events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a synchronous publisher.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, topic: cfg.Topic}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e *domain.TradeLogEntry) error {
	if e == nil {
		return nil
	}
	value, err := json.Marshal(NewTradeEvent(e))
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.Symbol),
		Value: value,
		Time:  time.UnixMilli(e.Timestamp),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish trade event to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
