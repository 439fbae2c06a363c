package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/internal/templates"
)

// ErrMalformed marks messages that can never be handled, however often they
// are redelivered.
var ErrMalformed = errors.New("malformed event")

const (
	TypePoaStatusChanged    = "poa.status_changed"
	TypePaymentReceived     = "payment.received"
	TypePaymentFailed       = "payment.failed"
	TypeAppointmentReminder = "appointment.reminder"
	TypeSecurityAlert       = "security.alert"
)

// Envelope is the wire shape shared by every transport.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	UserID     string          `json:"user_id"`
	Channel    models.Channel  `json:"channel,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Event is a domain event that becomes one templated notification.
type Event interface {
	TemplateCode() string
	Variables() map[string]any
	Options() models.SendOptions
}

type PoaStatusChanged struct {
	Name      string `json:"name"`
	PoaType   string `json:"poa_type"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Note      string `json:"note"`
	ActionURL string `json:"action_url"`
}

func (e PoaStatusChanged) TemplateCode() string { return templates.CodePoaStatusChanged }

func (e PoaStatusChanged) Variables() map[string]any {
	return vars("name", e.Name, "poaType", e.PoaType, "status", e.Status, "reference", e.Reference, "note", e.Note)
}

func (e PoaStatusChanged) Options() models.SendOptions {
	return models.SendOptions{RequiresAction: e.ActionURL != "", ActionURL: e.ActionURL}
}

type PaymentReceived struct {
	Name     string      `json:"name"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Invoice  string      `json:"invoice"`
}

func (e PaymentReceived) TemplateCode() string { return templates.CodePaymentReceived }

func (e PaymentReceived) Variables() map[string]any {
	return vars("name", e.Name, "amount", e.Amount.String(), "currency", e.Currency, "invoice", e.Invoice)
}

func (e PaymentReceived) Options() models.SendOptions { return models.SendOptions{} }

type PaymentFailed struct {
	Name      string      `json:"name"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Reason    string      `json:"reason"`
	ActionURL string      `json:"action_url"`
}

func (e PaymentFailed) TemplateCode() string { return templates.CodePaymentFailed }

func (e PaymentFailed) Variables() map[string]any {
	return vars("name", e.Name, "amount", e.Amount.String(), "currency", e.Currency, "reason", e.Reason)
}

func (e PaymentFailed) Options() models.SendOptions {
	return models.SendOptions{
		Priority:       models.PriorityHigh,
		RequiresAction: true,
		ActionURL:      e.ActionURL,
	}
}

type AppointmentReminder struct {
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
	Location string    `json:"location"`
}

func (e AppointmentReminder) TemplateCode() string { return templates.CodeAppointmentReminder }

func (e AppointmentReminder) Variables() map[string]any {
	var starts string
	if !e.StartsAt.IsZero() {
		starts = e.StartsAt.UTC().Format("Mon 2 Jan 15:04 MST")
	}
	return vars("title", e.Title, "startsAt", starts, "location", e.Location)
}

func (e AppointmentReminder) Options() models.SendOptions { return models.SendOptions{} }

type SecurityAlert struct {
	Event      string    `json:"event"`
	IP         string    `json:"ip"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e SecurityAlert) TemplateCode() string { return templates.CodeSecurityAlert }

func (e SecurityAlert) Variables() map[string]any {
	var at string
	if !e.OccurredAt.IsZero() {
		at = e.OccurredAt.UTC().Format(time.RFC1123)
	}
	return vars("event", e.Event, "ip", e.IP, "occurredAt", at)
}

func (e SecurityAlert) Options() models.SendOptions {
	return models.SendOptions{Priority: models.PriorityUrgent}
}

// vars builds a variable map from key/value pairs, leaving out empty values
// so template defaults apply.
func vars(kv ...string) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if v := strings.TrimSpace(kv[i+1]); v != "" {
			out[kv[i]] = v
		}
	}
	return out
}

// Decode parses a message body into its envelope and typed event.
func Decode(body []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.UserID == "" {
		return env, nil, fmt.Errorf("%w: user_id is required", ErrMalformed)
	}
	if env.Channel != "" && !env.Channel.Valid() {
		return env, nil, fmt.Errorf("%w: unknown channel %q", ErrMalformed, env.Channel)
	}

	var ev Event
	switch env.Type {
	case TypePoaStatusChanged:
		ev = decodePayload[PoaStatusChanged](env.Payload)
	case TypePaymentReceived:
		ev = decodePayload[PaymentReceived](env.Payload)
	case TypePaymentFailed:
		ev = decodePayload[PaymentFailed](env.Payload)
	case TypeAppointmentReminder:
		ev = decodePayload[AppointmentReminder](env.Payload)
	case TypeSecurityAlert:
		ev = decodePayload[SecurityAlert](env.Payload)
	default:
		return env, nil, fmt.Errorf("%w: unknown event type %q", ErrMalformed, env.Type)
	}
	if ev == nil {
		return env, nil, fmt.Errorf("%w: bad %s payload", ErrMalformed, env.Type)
	}
	return env, ev, nil
}

func decodePayload[T Event](raw json.RawMessage) Event {
	var v T
	if len(raw) == 0 {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
