// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The consumer reads raw records from a set of topics
// within one consumer group and dispatches them to a MessageHandler; the
// producer writes raw records, e.g. to a dead-letter topic.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// Message is one consumed record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// MessageHandler is invoked for each Kafka message. A non-nil error halts
// the consumer without committing the message.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer reads messages from Kafka topics and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
}

// NewConsumer creates a group Consumer for topics.
func NewConsumer(cfg config.KafkaConfig, topics []string, handler MessageHandler) *Consumer {
	startOffset := kafka.LastOffset
	if cfg.StartOffset == "earliest" {
		startOffset = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.ConsumerGroup,
		GroupTopics: topics,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: startOffset,
	})

	return &Consumer{
		reader:  r,
		logger:  logger.WithComponent("kafka-consumer").With("group", cfg.ConsumerGroup),
		handler: handler,
	}
}

// Start enters the consume loop. It returns nil when ctx is cancelled and
// the handler's error when the handler halts the stream. Messages are handled
// one at a time in partition order.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"value_size", len(msg.Value),
		)
		if err := c.handler(ctx, fromKafka(msg)); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping, message left uncommitted",
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset,
				)
				return nil
			}
			c.logger.Error("handler halted the stream",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return fmt.Errorf("processing %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		// The handler returns once the message is buffered for the index; the
		// buffer is bounded and drained on shutdown.
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func fromKafka(msg kafka.Message) Message {
	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Time:      msg.Time,
	}
}
