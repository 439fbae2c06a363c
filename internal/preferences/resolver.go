package preferences

import (
	"fmt"
	"time"

	"github.com/franzego/notifyhub/internal/models"
)

const clockLayout = "15:04"

// Resolver answers delivery-policy questions for a single user's preference.
type Resolver struct {
	pref *models.UserPreference
}

func NewResolver(pref *models.UserPreference) *Resolver {
	return &Resolver{pref: pref}
}

func (r *Resolver) IsChannelEnabled(channel models.Channel) bool {
	if !r.pref.Enabled {
		return false
	}
	switch channel {
	case models.ChannelEmail:
		return r.pref.EmailEnabled
	case models.ChannelSMS:
		return r.pref.SMSEnabled
	case models.ChannelWhatsApp:
		return r.pref.WhatsAppEnabled
	case models.ChannelPush:
		return r.pref.PushEnabled
	case models.ChannelInApp:
		return r.pref.InAppEnabled
	}
	return false
}

// IsAllowed applies the category override matrix on top of the channel switch.
// A category can only narrow a disabled channel, never re-enable it.
func (r *Resolver) IsAllowed(category models.Category, channel models.Channel) bool {
	if !r.IsChannelEnabled(channel) {
		return false
	}
	if overrides, ok := r.pref.CategoryPreferences[category]; ok {
		if allowed, ok := overrides[channel]; ok {
			return allowed
		}
	}
	return true
}

// PreferredChannels lists allowed channels in declaration order.
func (r *Resolver) PreferredChannels(category models.Category) []models.Channel {
	var out []models.Channel
	for _, ch := range models.AllChannels {
		if r.IsAllowed(category, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func (r *Resolver) location() *time.Location {
	if r.pref.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.pref.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsInQuietHours compares now's local time of day with the window. A window
// whose start is after its end spans midnight.
func (r *Resolver) IsInQuietHours(now time.Time) bool {
	if !r.pref.QuietHoursEnabled {
		return false
	}
	start, err := minuteOfDay(r.pref.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := minuteOfDay(r.pref.QuietHoursEnd)
	if err != nil {
		return false
	}
	local := now.In(r.location())
	current := local.Hour()*60 + local.Minute()
	if start <= end {
		return current >= start && current < end
	}
	return current >= start || current < end
}

// QuietHoursEnd returns the instant the current quiet window closes. If today's
// end time has already passed, the window closes tomorrow.
func (r *Resolver) QuietHoursEnd(now time.Time) (time.Time, error) {
	hh, mm, err := parseClock(r.pref.QuietHoursEnd)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(r.location())
	end := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, local.Location())
	if end.Before(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end.UTC(), nil
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

func minuteOfDay(s string) (int, error) {
	hh, mm, err := parseClock(s)
	return hh*60 + mm, err
}

// canonicalClock rewrites a loose "8:00" as "08:00".
func canonicalClock(s string) (string, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Format(clockLayout), nil
}
