package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/papertrade/finance/internal/metrics"
	"github.com/papertrade/finance/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes a TradeEvent per accepted trade, keyed by user id
// so that one user's trades stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates an asynchronous publisher. Delivery failures
// are reported through logs and metrics only.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				metrics.EventPublishFailures.WithLabelValues("kafka").Add(float64(len(msgs)))
				slog.Error("kafka publish failed", "topic", topic, "messages", len(msgs), "err", err)
			}
		},
	}
	slog.Info("kafka publisher created", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) TradeExecuted(ctx context.Context, txn model.Transaction, cash decimal.Decimal) {
	data, err := json.Marshal(NewTradeEvent(txn, cash))
	if err != nil {
		metrics.EventPublishFailures.WithLabelValues("kafka").Inc()
		slog.Error("marshal trade event", "trade_id", txn.ID, "err", err)
		return
	}

	// The trade is already committed; the request context may be cancelled
	// as soon as the handler returns.
	ctx = context.WithoutCancel(ctx)
	msg := kafka.Message{Key: []byte(txn.UserID), Value: data, Time: txn.Timestamp}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventPublishFailures.WithLabelValues("kafka").Inc()
		slog.Error("kafka publish failed", "topic", p.topic, "trade_id", txn.ID, "err", err)
		return
	}
	slog.Debug("trade event queued", "topic", p.topic, "trade_id", txn.ID)
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
