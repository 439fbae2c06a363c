package events

import (
	"context"
	"errors"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/metrics"
	"github.com/franzego/notifyhub/internal/models"
	"go.uber.org/zap"
)

type TemplateSender interface {
	SendFromTemplate(ctx context.Context, req models.SendTemplateRequest) (*models.Notification, error)
}

// Dispatcher turns domain events from any transport into notifications.
type Dispatcher struct {
	sender  TemplateSender
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewDispatcher(sender TemplateSender, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, metrics: m, logger: logger.Named("events")}
}

// Handle decodes one message body and sends the notification it describes.
func (d *Dispatcher) Handle(ctx context.Context, transport string, body []byte) error {
	env, ev, err := Decode(body)
	if err != nil {
		d.metrics.EventConsumed(transport, eventLabel(env.Type), "malformed")
		d.logger.Warn("dropping malformed event", zap.String("transport", transport), zap.Error(err))
		return err
	}
	log := d.logger.With(
		zap.String("transport", transport),
		zap.String("event_id", env.ID),
		zap.String("event_type", env.Type),
		zap.String("user_id", env.UserID),
	)

	n, err := d.sender.SendFromTemplate(ctx, models.SendTemplateRequest{
		UserID:       env.UserID,
		TemplateCode: ev.TemplateCode(),
		Variables:    ev.Variables(),
		Channel:      env.Channel,
		Options:      ev.Options(),
	})
	if err != nil {
		outcome := "retry"
		if Permanent(err) {
			outcome = "rejected"
		}
		d.metrics.EventConsumed(transport, env.Type, outcome)
		log.Error("failed to dispatch event", zap.String("outcome", outcome), zap.Error(err))
		return err
	}
	d.metrics.EventConsumed(transport, env.Type, "sent")
	log.Info("event dispatched", zap.String("notification_id", n.ID), zap.String("status", string(n.Status)))
	return nil
}

// Permanent reports errors that redelivery cannot fix.
func Permanent(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, apperr.ErrValidation) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrForbidden)
}

func eventLabel(t string) string {
	switch t {
	case TypePoaStatusChanged, TypePaymentReceived, TypePaymentFailed, TypeAppointmentReminder, TypeSecurityAlert:
		return t
	}
	return "unknown"
}
