package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/redis/go-redis/v9"
)

const preferenceKeyPrefix = "notification:preference:"

type PreferenceStore struct {
	rdb *redis.Client
}

func NewPreferenceStore(rdb *redis.Client) *PreferenceStore {
	return &PreferenceStore{rdb: rdb}
}

func preferenceKey(userID string) string { return preferenceKeyPrefix + userID }

func (s *PreferenceStore) Get(ctx context.Context, userID string) (*models.UserPreference, error) {
	data, err := s.rdb.Get(ctx, preferenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound("preference", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preference for %s: %w", userID, err)
	}
	var p models.UserPreference
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode preference for %s: %w", userID, err)
	}
	return &p, nil
}

func (s *PreferenceStore) Save(ctx context.Context, p *models.UserPreference) error {
	p.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal preference: %w", err)
	}
	if err := s.rdb.Set(ctx, preferenceKey(p.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store preference for %s: %w", p.UserID, err)
	}
	return nil
}

// CreateIfAbsent stores p unless a preference already exists and returns the
// stored copy either way, so concurrent first lookups agree on one record.
func (s *PreferenceStore) CreateIfAbsent(ctx context.Context, p *models.UserPreference) (*models.UserPreference, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preference: %w", err)
	}
	created, err := s.rdb.SetNX(ctx, preferenceKey(p.UserID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create preference for %s: %w", p.UserID, err)
	}
	if created {
		return p, nil
	}
	return s.Get(ctx, p.UserID)
}
