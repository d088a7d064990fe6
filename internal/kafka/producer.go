package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes escalation alerts and failure notices.
type Producer struct {
	alertsWriter   messageWriter
	failuresWriter messageWriter
	logger         *zap.Logger
}

// NewProducer creates writers for the alerts and failures topics.
func NewProducer(brokers []string, alertsTopic, failuresTopic string, logger *zap.Logger) *Producer {
	return &Producer{
		alertsWriter:   newWriter(brokers, alertsTopic),
		failuresWriter: newWriter(brokers, failuresTopic),
		logger:         logger,
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
}

// PublishAlert sends an escalation alert keyed by ticket id.
func (p *Producer) PublishAlert(ctx context.Context, alert domain.Alert) error {
	if err := send(ctx, p.alertsWriter, alert.TicketID, alert); err != nil {
		return err
	}
	p.logger.Info("alert published", zap.String("ticket_id", alert.TicketID), zap.String("priority", string(alert.Priority)))
	return nil
}

// PublishFailure sends a failed-workflow notice keyed by ticket id.
func (p *Producer) PublishFailure(ctx context.Context, notice domain.FailureNotice) error {
	if err := send(ctx, p.failuresWriter, notice.TicketID, notice); err != nil {
		return err
	}
	p.logger.Info("failure notice published", zap.String("ticket_id", notice.TicketID), zap.String("stage", string(notice.FailedStage)))
	return nil
}

func send(ctx context.Context, w messageWriter, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data})
}

// Close closes the Kafka writers.
func (p *Producer) Close() error {
	return errors.Join(p.alertsWriter.Close(), p.failuresWriter.Close())
}
