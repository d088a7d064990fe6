// Package kafka connects the pipeline to the ingress stream and the
// notification topics.
package kafka

import (
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReaderConfig selects the ingress topic and consumer group.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader creates a consumer-group reader with explicit commits: offsets
// are committed by the caller once a ticket has been durably admitted.
func NewReader(cfg ReaderConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka: brokers, topic and group id are required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	}), nil
}
