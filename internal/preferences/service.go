package preferences

import (
	"context"
	"errors"
	"time"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/models"
	"go.uber.org/zap"
)

type Store interface {
	Get(ctx context.Context, userID string) (*models.UserPreference, error)
	Save(ctx context.Context, p *models.UserPreference) error
	CreateIfAbsent(ctx context.Context, p *models.UserPreference) (*models.UserPreference, error)
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger.Named("preferences")}
}

// Get loads the user's preference, creating the defaults on first access.
func (s *Service) Get(ctx context.Context, userID string) (*models.UserPreference, error) {
	p, err := s.store.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	p, err = s.store.CreateIfAbsent(ctx, models.DefaultPreference(userID))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("created default preference", zap.String("user_id", userID))
	return p, nil
}

func (s *Service) Resolver(ctx context.Context, userID string) (*Resolver, *models.UserPreference, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return NewResolver(p), p, nil
}

// PreferredChannels lists the channels the user accepts for a category.
func (s *Service) PreferredChannels(ctx context.Context, userID string, category models.Category) ([]models.Channel, error) {
	r, _, err := s.Resolver(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.PreferredChannels(category), nil
}

func (s *Service) Update(ctx context.Context, userID string, patch models.PreferenceUpdate) (*models.UserPreference, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := applyPatch(p, patch); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Reset restores defaults but keeps the original creation time.
func (s *Service) Reset(ctx context.Context, userID string) (*models.UserPreference, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := models.DefaultPreference(userID)
	p.CreatedAt = current.CreatedAt
	if err := s.store.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ToggleCategoryChannel(ctx context.Context, userID string, category models.Category, channel models.Channel, enabled bool) (*models.UserPreference, error) {
	if !category.Valid() {
		return nil, apperr.Validation("unknown category %q", category)
	}
	if !channel.Valid() {
		return nil, apperr.Validation("unknown channel %q", channel)
	}
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.CategoryPreferences == nil {
		p.CategoryPreferences = map[models.Category]map[models.Channel]bool{}
	}
	if p.CategoryPreferences[category] == nil {
		p.CategoryPreferences[category] = map[models.Channel]bool{}
	}
	p.CategoryPreferences[category][channel] = enabled
	if err := s.store.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func applyPatch(p *models.UserPreference, u models.PreferenceUpdate) error {
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}

	if u.QuietHoursStart != nil {
		canon, err := canonicalClock(*u.QuietHoursStart)
		if err != nil {
			return apperr.Validation("quiet_hours_start must be HH:mm")
		}
		u.QuietHoursStart = &canon
	}
	if u.QuietHoursEnd != nil {
		canon, err := canonicalClock(*u.QuietHoursEnd)
		if err != nil {
			return apperr.Validation("quiet_hours_end must be HH:mm")
		}
		u.QuietHoursEnd = &canon
	}
	if u.DigestTime != nil {
		canon, err := canonicalClock(*u.DigestTime)
		if err != nil {
			return apperr.Validation("digest_time must be HH:mm")
		}
		u.DigestTime = &canon
	}
	if u.Timezone != nil {
		if _, err := time.LoadLocation(*u.Timezone); err != nil {
			return apperr.Validation("unknown timezone %q", *u.Timezone)
		}
	}
	if u.DigestFrequency != nil && *u.DigestFrequency != models.DigestDaily && *u.DigestFrequency != models.DigestWeekly {
		return apperr.Validation("digest_frequency must be daily or weekly")
	}
	for cat, channels := range u.CategoryPreferences {
		if !cat.Valid() {
			return apperr.Validation("unknown category %q", cat)
		}
		for ch := range channels {
			if !ch.Valid() {
				return apperr.Validation("unknown channel %q", ch)
			}
		}
	}

	setBool(&p.Enabled, u.Enabled)
	setBool(&p.EmailEnabled, u.EmailEnabled)
	setBool(&p.SMSEnabled, u.SMSEnabled)
	setBool(&p.WhatsAppEnabled, u.WhatsAppEnabled)
	setBool(&p.PushEnabled, u.PushEnabled)
	setBool(&p.InAppEnabled, u.InAppEnabled)
	setBool(&p.QuietHoursEnabled, u.QuietHoursEnabled)
	setString(&p.QuietHoursStart, u.QuietHoursStart)
	setString(&p.QuietHoursEnd, u.QuietHoursEnd)
	setString(&p.Timezone, u.Timezone)
	setBool(&p.DigestEnabled, u.DigestEnabled)
	if u.DigestFrequency != nil {
		p.DigestFrequency = *u.DigestFrequency
	}
	setString(&p.DigestTime, u.DigestTime)
	setString(&p.PreferredLocale, u.PreferredLocale)
	setString(&p.AlternateEmail, u.AlternateEmail)
	setString(&p.AlternatePhone, u.AlternatePhone)
	setString(&p.WhatsAppNumber, u.WhatsAppNumber)
	setString(&p.PushToken, u.PushToken)

	if u.CategoryPreferences != nil {
		if p.CategoryPreferences == nil {
			p.CategoryPreferences = map[models.Category]map[models.Channel]bool{}
		}
		for cat, channels := range u.CategoryPreferences {
			if p.CategoryPreferences[cat] == nil {
				p.CategoryPreferences[cat] = map[models.Channel]bool{}
			}
			for ch, on := range channels {
				p.CategoryPreferences[cat][ch] = on
			}
		}
	}
	return nil
}
