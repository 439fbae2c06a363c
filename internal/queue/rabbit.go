package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/franzego/notifyhub/internal/config"
	"github.com/franzego/notifyhub/internal/delivery"
	"github.com/franzego/notifyhub/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrReject tells Consume to drop a message instead of requeueing it.
var ErrReject = errors.New("reject message")

const prefetch = 10

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

type RabbitMqClient struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Config  config.RabbitMQConfig
	logger  *zap.Logger
}

// FailedNotification is what operators receive on the failed queue.
type FailedNotification struct {
	NotificationID string          `json:"notification_id"`
	JobID          string          `json:"job_id"`
	UserID         string          `json:"user_id"`
	Channel        models.Channel  `json:"channel"`
	Category       models.Category `json:"category"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	Error          string          `json:"error"`
	FailedAt       time.Time       `json:"failed_at"`
}

func NewRabbitMqClient(cfg config.RabbitMQConfig, logger *zap.Logger) (*RabbitMqClient, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	return &RabbitMqClient{
		Conn:    conn,
		Channel: channel,
		Config:  cfg,
		logger:  logger.Named("rabbitmq"),
	}, nil
}

func (r *RabbitMqClient) CloseConnection() {
	r.Channel.Close()
	r.Conn.Close()
}

func (r *RabbitMqClient) IsConnected() bool {
	return r != nil && r.Conn != nil && !r.Conn.IsClosed()
}

// SetUpExchangeAndQueue declares the exchange, binds the events queue to every
// configured event key and binds the failed queue to its own name.
func (r *RabbitMqClient) SetUpExchangeAndQueue() error {
	if err := r.Channel.ExchangeDeclare(
		r.Config.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", r.Config.Exchange, err)
	}
	bindings := map[string][]string{
		r.Config.EventsQueue: r.Config.EventKeys,
		r.Config.FailedQueue: {r.Config.FailedQueue},
	}
	for queueName, keys := range bindings {
		if _, err := r.Channel.QueueDeclare(
			queueName,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
		}
		for _, key := range keys {
			if err := r.Channel.QueueBind(queueName, key, r.Config.Exchange, false, nil); err != nil {
				return fmt.Errorf("failed to bind queue %s to %s: %w", queueName, key, err)
			}
		}
	}
	return nil
}

func (r *RabbitMqClient) Publish(ctx context.Context, routingKey string, message interface{}) error {
	by, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	err = r.Channel.PublishWithContext(
		ctx,
		r.Config.Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         by,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishFailure sends an exhausted notification to the failed queue.
func (r *RabbitMqClient) PublishFailure(ctx context.Context, n *models.Notification, job *delivery.Job) error {
	return r.Publish(ctx, r.Config.FailedQueue, NewFailedNotification(n, job))
}

func NewFailedNotification(n *models.Notification, job *delivery.Job) FailedNotification {
	msg := FailedNotification{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        n.Channel,
		Category:       n.Category,
		Attempts:       n.Attempts,
		MaxAttempts:    n.MaxAttempts,
		Error:          n.ErrorMessage,
		FailedAt:       n.UpdatedAt,
	}
	if job != nil {
		msg.JobID = job.ID
		if msg.Error == "" {
			msg.Error = job.LastError
		}
		if job.FinishedAt != nil {
			msg.FailedAt = *job.FinishedAt
		}
	}
	return msg
}

// Consume delivers messages from the events queue to h until ctx ends or the
// channel closes. Handled messages are acked, ErrReject drops the message and
// any other error requeues it once.
func (r *RabbitMqClient) Consume(ctx context.Context, consumer string, h Handler) error {
	if err := r.Channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := r.Channel.ConsumeWithContext(
		ctx,
		r.Config.EventsQueue,
		consumer,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", r.Config.EventsQueue, err)
	}
	r.logger.Info("consuming", zap.String("queue", r.Config.EventsQueue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			r.settle(d, h(ctx, d.Body))
		}
	}
}

func (r *RabbitMqClient) settle(d amqp.Delivery, err error) {
	ack, requeue := Settlement(err, d.Redelivered)
	var serr error
	if ack {
		serr = d.Ack(false)
	} else {
		serr = d.Nack(false, requeue)
	}
	if serr != nil {
		r.logger.Error("failed to settle message",
			zap.String("routing_key", d.RoutingKey),
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.Error(serr),
		)
	}
}

// Settlement decides how a delivery is settled after handling.
func Settlement(err error, redelivered bool) (ack bool, requeue bool) {
	switch {
	case err == nil:
		return true, false
	case errors.Is(err, ErrReject):
		return false, false
	default:
		return false, !redelivered
	}
}
