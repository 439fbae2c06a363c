package models

import "time"

// NotificationView is what end users see. Provider metadata, error details,
// recipient addresses and versioning stay internal.
type NotificationView struct {
	ID             string     `json:"id"`
	Channel        Channel    `json:"channel"`
	Category       Category   `json:"category"`
	Priority       Priority   `json:"priority"`
	Status         Status     `json:"status"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	RequiresAction bool       `json:"requires_action"`
	ActionURL      string     `json:"action_url,omitempty"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func ToView(n *Notification) NotificationView {
	return NotificationView{
		ID:             n.ID,
		Channel:        n.Channel,
		Category:       n.Category,
		Priority:       n.Priority,
		Status:         n.Status,
		Subject:        n.Subject,
		Body:           n.Body,
		RequiresAction: n.RequiresAction,
		ActionURL:      n.ActionURL,
		ScheduledFor:   n.ScheduledFor,
		SentAt:         n.SentAt,
		ReadAt:         n.ReadAt,
		CreatedAt:      n.CreatedAt,
	}
}

func ToViews(ns []*Notification) []NotificationView {
	out := make([]NotificationView, 0, len(ns))
	for _, n := range ns {
		out = append(out, ToView(n))
	}
	return out
}

// NotificationStatus is the lightweight status card returned after queueing.
type NotificationStatus struct {
	ID        string    `json:"id"`
	Type      Channel   `json:"type"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func ToStatus(n *Notification) NotificationStatus {
	return NotificationStatus{
		ID:        n.ID,
		Type:      n.Channel,
		Status:    n.Status,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}
