package events

import (
	"context"
	"time"

	"github.com/franzego/notifyhub/internal/config"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	kafkaHandleAttempts = 3
	kafkaRetryDelay     = 2 * time.Second
	kafkaFetchDelay     = 500 * time.Millisecond
	kafkaMaxFetchDelay  = 30 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads domain events from a topic as part of a consumer group.
// Offsets are committed only after a message is handled or given up on.
type KafkaConsumer struct {
	reader     messageReader
	dispatcher *Dispatcher
	logger     *zap.Logger
	retryDelay time.Duration
	fetchDelay time.Duration
}

func NewKafkaConsumer(cfg config.KafkaConfig, d *Dispatcher, logger *zap.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newKafkaConsumer(reader, d, logger)
}

func newKafkaConsumer(r messageReader, d *Dispatcher, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     r,
		dispatcher: d,
		logger:     logger.Named("kafka"),
		retryDelay: kafkaRetryDelay,
		fetchDelay: kafkaFetchDelay,
	}
}

// Run consumes until ctx is cancelled.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.logger.Info("kafka consumer started")
	delay := c.fetchDelay
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("kafka consumer stopped")
				return nil
			}
			c.logger.Error("failed to fetch message", zap.Error(err), zap.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				c.logger.Info("kafka consumer stopped")
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, kafkaMaxFetchDelay)
			continue
		}
		delay = c.fetchDelay
		c.handle(ctx, m)
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit offset",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message) {
	for attempt := 1; attempt <= kafkaHandleAttempts; attempt++ {
		err := c.dispatcher.Handle(ctx, "kafka", m.Value)
		if err == nil || Permanent(err) {
			return
		}
		if attempt == kafkaHandleAttempts {
			c.logger.Error("giving up on event",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
