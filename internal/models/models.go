package models

import "time"

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
}

// User is the slice of the account directory this service reads.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Active bool   `json:"active"`
}

type SendRequest struct {
	UserID            string         `json:"user_id" binding:"required"`
	Channel           Channel        `json:"channel" binding:"required"`
	Category          Category       `json:"category"`
	Priority          Priority       `json:"priority"`
	Subject           string         `json:"subject"`
	Body              string         `json:"body"`
	BodyHTML          string         `json:"body_html"`
	Recipient         string         `json:"recipient"`
	TemplateCode      string         `json:"template_code"`
	TemplateVariables map[string]any `json:"template_variables"`
	RequiresAction    bool           `json:"requires_action"`
	ActionURL         string         `json:"action_url"`
	ScheduledFor      *time.Time     `json:"scheduled_for"`
	MaxAttempts       int            `json:"max_attempts"`
}

// SendOptions overrides template defaults in SendFromTemplate.
type SendOptions struct {
	Category       Category   `json:"category"`
	Priority       Priority   `json:"priority"`
	Recipient      string     `json:"recipient"`
	RequiresAction bool       `json:"requires_action"`
	ActionURL      string     `json:"action_url"`
	ScheduledFor   *time.Time `json:"scheduled_for"`
}

type SendTemplateRequest struct {
	UserID       string         `json:"user_id" binding:"required"`
	TemplateCode string         `json:"template_code" binding:"required"`
	Variables    map[string]any `json:"variables"`
	Channel      Channel        `json:"channel"`
	Options      SendOptions    `json:"options"`
}

type BatchSendRequest struct {
	UserIDs []string    `json:"user_ids" binding:"required,min=1"`
	Message SendRequest `json:"message" binding:"-"`
}

type BroadcastRequest struct {
	Message SendRequest `json:"message" binding:"-"`
}

// NotificationFilter narrows queries and statistics. Zero values mean "any".
type NotificationFilter struct {
	UserID         string    `form:"user_id"`
	Channel        Channel   `form:"channel"`
	Category       Category  `form:"category"`
	Status         Status    `form:"status"`
	Priority       Priority  `form:"priority"`
	From           time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To             time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	RequiresAction *bool     `form:"requires_action"`
	UnreadOnly     bool      `form:"unread_only"`
}

func (f NotificationFilter) Match(n *Notification) bool {
	if f.UserID != "" && n.UserID != f.UserID {
		return false
	}
	if f.Channel != "" && n.Channel != f.Channel {
		return false
	}
	if f.Category != "" && n.Category != f.Category {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	if !f.From.IsZero() && n.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && n.CreatedAt.After(f.To) {
		return false
	}
	if f.RequiresAction != nil && n.RequiresAction != *f.RequiresAction {
		return false
	}
	if f.UnreadOnly && n.ReadAt != nil {
		return false
	}
	return true
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

type PageRequest struct {
	Page      int       `form:"page"`
	Limit     int       `form:"limit"`
	SortBy    string    `form:"sort_by"`
	SortOrder SortOrder `form:"sort_order"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize fills defaults and clamps the limit.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	switch p.SortBy {
	case "created_at", "sent_at", "priority", "status":
	default:
		p.SortBy = "created_at"
	}
	if p.SortOrder != SortAsc {
		p.SortOrder = SortDesc
	}
	return p
}

type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

type NotificationStats struct {
	Total               int              `json:"total"`
	ByStatus            map[Status]int   `json:"by_status"`
	ByChannel           map[Channel]int  `json:"by_channel"`
	ByCategory          map[Category]int `json:"by_category"`
	DeliveryRate        float64          `json:"delivery_rate"`
	AverageDeliveryTime time.Duration    `json:"average_delivery_time"`
}

type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type DeliveryReceipt struct {
	Status      Status     `json:"status" binding:"required"`
	DeliveredAt *time.Time `json:"delivered_at"`
	Reason      string     `json:"reason"`
}
