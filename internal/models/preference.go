package models

import "time"

type DigestFrequency string

const (
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
)

// UserPreference holds one user's delivery settings.
// A missing CategoryPreferences entry means "use the channel switch", never "off".
type UserPreference struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`

	EmailEnabled    bool `json:"email_enabled"`
	SMSEnabled      bool `json:"sms_enabled"`
	WhatsAppEnabled bool `json:"whatsapp_enabled"`
	PushEnabled     bool `json:"push_enabled"`
	InAppEnabled    bool `json:"in_app_enabled"`

	CategoryPreferences map[Category]map[Channel]bool `json:"category_preferences,omitempty"`

	QuietHoursEnabled bool   `json:"quiet_hours_enabled"`
	QuietHoursStart   string `json:"quiet_hours_start"`
	QuietHoursEnd     string `json:"quiet_hours_end"`
	Timezone          string `json:"timezone"`

	DigestEnabled   bool            `json:"digest_enabled"`
	DigestFrequency DigestFrequency `json:"digest_frequency,omitempty"`
	DigestTime      string          `json:"digest_time,omitempty"`

	PreferredLocale string `json:"preferred_locale"`

	AlternateEmail string `json:"alternate_email,omitempty"`
	AlternatePhone string `json:"alternate_phone,omitempty"`
	WhatsAppNumber string `json:"whatsapp_number,omitempty"`
	PushToken      string `json:"push_token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPreference is what a user gets before ever touching their settings.
func DefaultPreference(userID string) *UserPreference {
	now := time.Now().UTC()
	return &UserPreference{
		UserID:              userID,
		Enabled:             true,
		EmailEnabled:        true,
		SMSEnabled:          true,
		WhatsAppEnabled:     false,
		PushEnabled:         true,
		InAppEnabled:        true,
		CategoryPreferences: map[Category]map[Channel]bool{},
		QuietHoursEnabled:   false,
		QuietHoursStart:     "22:00",
		QuietHoursEnd:       "08:00",
		Timezone:            "UTC",
		DigestEnabled:       false,
		DigestFrequency:     DigestDaily,
		DigestTime:          "09:00",
		PreferredLocale:     "en",
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// PreferenceUpdate is a partial patch; nil fields are left alone.
type PreferenceUpdate struct {
	Enabled             *bool                         `json:"enabled"`
	EmailEnabled        *bool                         `json:"email_enabled"`
	SMSEnabled          *bool                         `json:"sms_enabled"`
	WhatsAppEnabled     *bool                         `json:"whatsapp_enabled"`
	PushEnabled         *bool                         `json:"push_enabled"`
	InAppEnabled        *bool                         `json:"in_app_enabled"`
	CategoryPreferences map[Category]map[Channel]bool `json:"category_preferences"`
	QuietHoursEnabled   *bool                         `json:"quiet_hours_enabled"`
	QuietHoursStart     *string                       `json:"quiet_hours_start"`
	QuietHoursEnd       *string                       `json:"quiet_hours_end"`
	Timezone            *string                       `json:"timezone"`
	DigestEnabled       *bool                         `json:"digest_enabled"`
	DigestFrequency     *DigestFrequency              `json:"digest_frequency"`
	DigestTime          *string                       `json:"digest_time"`
	PreferredLocale     *string                       `json:"preferred_locale"`
	AlternateEmail      *string                       `json:"alternate_email"`
	AlternatePhone      *string                       `json:"alternate_phone"`
	WhatsAppNumber      *string                       `json:"whatsapp_number"`
	PushToken           *string                       `json:"push_token"`
}
