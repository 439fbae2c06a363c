package models

import (
	"time"
)

type Channel string

// Declaration order matters: preferred-channel lookups walk AllChannels in this order.
const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelPush     Channel = "push"
	ChannelInApp    Channel = "in_app"
)

var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush, ChannelInApp}

func (c Channel) Valid() bool {
	for _, ch := range AllChannels {
		if c == ch {
			return true
		}
	}
	return false
}

type Category string

const (
	CategoryPoaStatus   Category = "poa_status"
	CategoryPayment     Category = "payment"
	CategoryAppointment Category = "appointment"
	CategorySecurity    Category = "security"
	CategoryMarketing   Category = "marketing"
	CategorySystem      Category = "system"
	CategoryCustom      Category = "custom"
)

var AllCategories = []Category{
	CategoryPoaStatus, CategoryPayment, CategoryAppointment, CategorySecurity,
	CategoryMarketing, CategorySystem, CategoryCustom,
}

func (c Category) Valid() bool {
	for _, cat := range AllCategories {
		if c == cat {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Rank orders priorities for sorting, low first.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

const DefaultMaxAttempts = 3

type Notification struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	Channel           Channel           `json:"channel"`
	Category          Category          `json:"category"`
	Priority          Priority          `json:"priority"`
	Status            Status            `json:"status"`
	Subject           string            `json:"subject"`
	Body              string            `json:"body"`
	BodyHTML          string            `json:"body_html,omitempty"`
	Recipient         string            `json:"recipient"`
	TemplateID        string            `json:"template_id,omitempty"`
	TemplateVariables map[string]any    `json:"template_variables,omitempty"`
	ProviderMetadata  map[string]any    `json:"provider_metadata,omitempty"`
	ScheduledFor      *time.Time        `json:"scheduled_for,omitempty"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
	ReadAt            *time.Time        `json:"read_at,omitempty"`
	Attempts          int               `json:"attempts"`
	MaxAttempts       int               `json:"max_attempts"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	ErrorDetails      map[string]string `json:"error_details,omitempty"`
	RequiresAction    bool              `json:"requires_action"`
	ActionURL         string            `json:"action_url,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	// Version is bumped on every persisted write and checked on update.
	Version int64 `json:"version"`
}

// CanRetry reports whether a manual retry is allowed.
func (n *Notification) CanRetry() bool {
	return n.Status.IsFailure() && n.Attempts < n.MaxAttempts
}

// CanCancel reports whether the record has not yet reached a provider.
func (n *Notification) CanCancel() bool {
	return n.Status == StatusPending || n.Status == StatusQueued
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// TransitionTo moves the record to status s if the state machine allows it.
func (n *Notification) TransitionTo(s Status) error {
	if !n.Status.CanTransition(s) {
		return &TransitionError{From: n.Status, To: s}
	}
	n.Status = s
	return nil
}

// ClearError wipes the error fields before a new attempt.
func (n *Notification) ClearError() {
	n.ErrorMessage = ""
	n.ErrorDetails = nil
}

// MergeProviderMetadata copies md into the record's provider metadata.
func (n *Notification) MergeProviderMetadata(md map[string]any) {
	if len(md) == 0 {
		return
	}
	if n.ProviderMetadata == nil {
		n.ProviderMetadata = make(map[string]any, len(md))
	}
	for k, v := range md {
		n.ProviderMetadata[k] = v
	}
}
