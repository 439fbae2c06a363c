package models

import "time"

type TemplateVariable struct {
	Name         string `json:"name"`
	Required     bool   `json:"required"`
	DefaultValue string `json:"default_value,omitempty"`
	Description  string `json:"description,omitempty"`
}

// NotificationTemplate is addressed by its unique Code. System templates are
// read-only; clone them to customise.
type NotificationTemplate struct {
	ID         string             `json:"id"`
	Code       string             `json:"code"`
	Name       string             `json:"name"`
	Channel    Channel            `json:"channel"`
	Category   Category           `json:"category"`
	Subject    string             `json:"subject"`
	Body       string             `json:"body"`
	BodyHTML   string             `json:"body_html,omitempty"`
	Variables  []TemplateVariable `json:"variables"`
	IsSystem   bool               `json:"is_system"`
	IsActive   bool               `json:"is_active"`
	Locale     string             `json:"locale"`
	UsageCount int64              `json:"usage_count"`
	LastUsedAt *time.Time         `json:"last_used_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type RenderedTemplate struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	BodyHTML string `json:"body_html,omitempty"`
}

// TemplatePreview is a render result plus the placeholders it left untouched
// because no value or default was supplied.
type TemplatePreview struct {
	RenderedTemplate
	Unresolved []string `json:"unresolved,omitempty"`
}

type CreateTemplateRequest struct {
	Code      string             `json:"code" binding:"required"`
	Name      string             `json:"name"`
	Channel   Channel            `json:"channel" binding:"required"`
	Category  Category           `json:"category" binding:"required"`
	Subject   string             `json:"subject"`
	Body      string             `json:"body" binding:"required"`
	BodyHTML  string             `json:"body_html"`
	Variables []TemplateVariable `json:"variables"`
	Locale    string             `json:"locale"`
	IsActive  *bool              `json:"is_active"`
}

type UpdateTemplateRequest struct {
	Name      *string            `json:"name"`
	Channel   *Channel           `json:"channel"`
	Category  *Category          `json:"category"`
	Subject   *string            `json:"subject"`
	Body      *string            `json:"body"`
	BodyHTML  *string            `json:"body_html"`
	Variables []TemplateVariable `json:"variables"`
	Locale    *string            `json:"locale"`
	IsActive  *bool              `json:"is_active"`
}

type CloneTemplateRequest struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name"`
}
