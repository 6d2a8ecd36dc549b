package kafka

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/logger"

	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// NewConsumer creates a consumer for topic starting at the newest offset.
// Give every service instance its own groupID to fan the topic out to all of
// them.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log}
}

// Run hands every message to handle until ctx is cancelled. Handler errors
// are logged and the message is skipped.
func (c *Consumer) Run(ctx context.Context, handle func(ctx context.Context, msg kafka.Message) error) error {
	topic := c.reader.Config().Topic
	c.logger.LogKafka("CONSUME", topic, "consumer started")
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				c.logger.LogKafka("CONSUME", topic, "consumer stopped")
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading from %s: %v", topic, err))
			continue
		}
		if err := handle(ctx, msg); err != nil {
			c.logger.Error("KAFKA", fmt.Sprintf("Failed to handle message on %s at offset %d: %v", topic, msg.Offset, err))
		}
	}
}
