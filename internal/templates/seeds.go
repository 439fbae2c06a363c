package templates

import (
	"context"
	"errors"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Codes of the built-in templates that domain events render.
const (
	CodePoaStatusChanged    = "poa_status_changed"
	CodePaymentReceived     = "payment_received"
	CodePaymentFailed       = "payment_failed"
	CodeAppointmentReminder = "appointment_reminder"
	CodeSecurityAlert       = "security_alert"
	CodeWelcome             = "welcome"
)

func required(name, desc string) models.TemplateVariable {
	return models.TemplateVariable{Name: name, Required: true, Description: desc}
}

func optional(name, def string) models.TemplateVariable {
	return models.TemplateVariable{Name: name, DefaultValue: def}
}

// SystemTemplates are installed on startup and cannot be edited through the API.
func SystemTemplates() []*models.NotificationTemplate {
	return []*models.NotificationTemplate{
		{
			Code:     CodePoaStatusChanged,
			Name:     "Power of attorney status changed",
			Channel:  models.ChannelEmail,
			Category: models.CategoryPoaStatus,
			Subject:  "Your {{poaType}} is now {{status}}",
			Body:     "Hi {{name}}, your {{poaType}} (ref {{reference}}) changed status to {{status}}. {{note}}",
			BodyHTML: "<p>Hi {{name}},</p><p>Your <strong>{{poaType}}</strong> (ref {{reference}}) changed status to <strong>{{status}}</strong>.</p><p>{{note}}</p>",
			Variables: []models.TemplateVariable{
				required("name", "recipient first name"),
				required("poaType", "kind of power of attorney"),
				required("status", "new document status"),
				optional("reference", "n/a"),
				optional("note", ""),
			},
		},
		{
			Code:     CodePaymentReceived,
			Name:     "Payment received",
			Channel:  models.ChannelEmail,
			Category: models.CategoryPayment,
			Subject:  "Payment of {{amount}} {{currency}} received",
			Body:     "Hi {{name}}, we received your payment of {{amount}} {{currency}} for invoice {{invoice}}. Thank you.",
			Variables: []models.TemplateVariable{
				required("name", "recipient first name"),
				required("amount", "amount paid"),
				optional("currency", "USD"),
				optional("invoice", "n/a"),
			},
		},
		{
			Code:     CodePaymentFailed,
			Name:     "Payment failed",
			Channel:  models.ChannelEmail,
			Category: models.CategoryPayment,
			Subject:  "Payment of {{amount}} {{currency}} failed",
			Body:     "Hi {{name}}, your payment of {{amount}} {{currency}} could not be processed: {{reason}}. Please update your billing details.",
			Variables: []models.TemplateVariable{
				required("name", "recipient first name"),
				required("amount", "amount attempted"),
				optional("currency", "USD"),
				optional("reason", "the card was declined"),
			},
		},
		{
			Code:     CodeAppointmentReminder,
			Name:     "Appointment reminder",
			Channel:  models.ChannelSMS,
			Category: models.CategoryAppointment,
			Body:     "Reminder: {{title}} on {{startsAt}} at {{location}}.",
			Variables: []models.TemplateVariable{
				required("title", "appointment title"),
				required("startsAt", "start time"),
				optional("location", "the office"),
			},
		},
		{
			Code:     CodeSecurityAlert,
			Name:     "Security alert",
			Channel:  models.ChannelEmail,
			Category: models.CategorySecurity,
			Subject:  "Security alert: {{event}}",
			Body:     "We detected {{event}} on your account from {{ip}} at {{occurredAt}}. If this was not you, reset your password now.",
			Variables: []models.TemplateVariable{
				required("event", "what happened"),
				optional("ip", "an unknown address"),
				optional("occurredAt", "just now"),
			},
		},
		{
			Code:     CodeWelcome,
			Name:     "Welcome",
			Channel:  models.ChannelInApp,
			Category: models.CategorySystem,
			Subject:  "Welcome, {{name}}",
			Body:     "Welcome aboard, {{name}}!",
			Variables: []models.TemplateVariable{
				required("name", "recipient first name"),
			},
		},
	}
}

// Seed installs the system templates that are not stored yet.
func (e *Engine) Seed(ctx context.Context) error {
	now := e.now().UTC()
	for _, tpl := range SystemTemplates() {
		tpl.ID = uuid.New().String()
		tpl.IsSystem = true
		tpl.IsActive = true
		tpl.Locale = "en"
		tpl.CreatedAt = now
		tpl.UpdatedAt = now
		err := e.store.Create(ctx, tpl)
		if errors.Is(err, apperr.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}
		e.logger.Info("seeded system template", zap.String("code", tpl.Code))
	}
	return nil
}
