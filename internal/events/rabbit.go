package events

import (
	"context"
	"fmt"

	"github.com/franzego/notifyhub/internal/queue"
)

// RabbitConsumer feeds the events queue into the dispatcher.
type RabbitConsumer struct {
	client     *queue.RabbitMqClient
	dispatcher *Dispatcher
}

func NewRabbitConsumer(client *queue.RabbitMqClient, d *Dispatcher) *RabbitConsumer {
	return &RabbitConsumer{client: client, dispatcher: d}
}

func (c *RabbitConsumer) Run(ctx context.Context) error {
	return c.client.Consume(ctx, "notifyhub-events", rabbitHandler(c.dispatcher))
}

// rabbitHandler marks permanent failures so the broker drops them instead of
// redelivering.
func rabbitHandler(d *Dispatcher) queue.Handler {
	return func(ctx context.Context, body []byte) error {
		err := d.Handle(ctx, "rabbitmq", body)
		if err != nil && Permanent(err) {
			return fmt.Errorf("%w: %v", queue.ErrReject, err)
		}
		return err
	}
}
