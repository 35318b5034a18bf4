package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/service"
	platformkafka "github.com/shestoi/GoBigTech/iap/platform/kafka"
)

// EventTypeUnrecordedPurchase - тип события об оплате без подтверждения и без записи
const EventTypeUnrecordedPurchase = "iap.purchase.unrecorded"

// UnrecordedPurchaseEvent - payload сообщения для поддержки
// Receipt передаётся целиком: по нему поддержка восстанавливает покупку вручную
type UnrecordedPurchaseEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EventVersion  int       `json:"event_version"`
	OccurredAt    time.Time `json:"occurred_at"`
	ProductID     string    `json:"product_id"`
	Price         int64     `json:"price"`
	Currency      string    `json:"currency,omitempty"`
	TransactionID string    `json:"transaction_id"`
	Receipt       string    `json:"receipt"`
	SubmitCode    string    `json:"submit_code,omitempty"`
	Error         string    `json:"error"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// EscalationPublisher реализует service.Escalator используя Kafka
type EscalationPublisher struct {
	logger *zap.Logger
	writer messageWriter
	topic  string
}

// NewEscalationPublisher создаёт publisher в топик cfg.EscalationTopic
func NewEscalationPublisher(logger *zap.Logger, cfg platformkafka.Config) *EscalationPublisher {
	return newEscalationPublisher(logger, platformkafka.NewWriter(cfg, cfg.EscalationTopic), cfg.EscalationTopic)
}

func newEscalationPublisher(logger *zap.Logger, writer messageWriter, topic string) *EscalationPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Close закрывает Kafka writer
func (p *EscalationPublisher) Close() error {
	return p.writer.Close()
}

// EscalateUnrecorded публикует событие о потерянной оплате, ключ сообщения - product_id
func (p *EscalationPublisher) EscalateUnrecorded(ctx context.Context, purchase service.UnrecordedPurchase) error {
	occurredAt := purchase.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	event := UnrecordedPurchaseEvent{
		EventID:       uuid.New().String(),
		EventType:     EventTypeUnrecordedPurchase,
		EventVersion:  1,
		OccurredAt:    occurredAt,
		ProductID:     purchase.Product.ID,
		Price:         purchase.Product.Price,
		Currency:      purchase.Product.Currency,
		TransactionID: purchase.Receipt.TransactionID,
		Receipt:       purchase.Receipt.Payload,
		SubmitCode:    purchase.SubmitCode.String(),
		Error:         purchase.Reason,
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal unrecorded purchase event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(purchase.Product.ID),
		Value: value,
	})
	if err != nil {
		p.logger.Error("failed to publish unrecorded purchase event",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("product_id", purchase.Product.ID),
			zap.String("transaction_id", purchase.Receipt.TransactionID),
		)
		return fmt.Errorf("publish unrecorded purchase event: %w", err)
	}

	p.logger.Info("unrecorded purchase event published",
		zap.String("topic", p.topic),
		zap.String("event_id", event.EventID),
		zap.String("product_id", purchase.Product.ID),
		zap.String("transaction_id", purchase.Receipt.TransactionID),
	)
	return nil
}

// NopEscalator используется, когда эскалация выключена: событие остаётся только в логе
type NopEscalator struct {
	logger *zap.Logger
}

// NewNopEscalator создаёт NopEscalator
func NewNopEscalator(logger *zap.Logger) *NopEscalator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NopEscalator{logger: logger}
}

// EscalateUnrecorded пишет покупку в лог
func (n *NopEscalator) EscalateUnrecorded(ctx context.Context, purchase service.UnrecordedPurchase) error {
	n.logger.Warn("escalation disabled, unrecorded purchase logged only",
		zap.String("product_id", purchase.Product.ID),
		zap.String("transaction_id", purchase.Receipt.TransactionID),
		zap.String("receipt_payload", purchase.Receipt.Payload),
		zap.String("reason", purchase.Reason),
	)
	return nil
}
