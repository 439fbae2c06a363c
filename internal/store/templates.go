package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	templateKeyPrefix = "notification:template:"
	templateCodesKey  = "notification:templates"
)

type TemplateStore struct {
	rdb *redis.Client
}

func NewTemplateStore(rdb *redis.Client) *TemplateStore {
	return &TemplateStore{rdb: rdb}
}

func templateKey(code string) string { return templateKeyPrefix + code }

// Create fails with a conflict when the code is taken.
func (s *TemplateStore) Create(ctx context.Context, t *models.NotificationTemplate) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, templateKey(t.Code), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store template %s: %w", t.Code, err)
	}
	if !ok {
		return apperr.Conflict("template code %q already exists", t.Code)
	}
	if err := s.rdb.SAdd(ctx, templateCodesKey, t.Code).Err(); err != nil {
		return fmt.Errorf("failed to index template %s: %w", t.Code, err)
	}
	return nil
}

func (s *TemplateStore) Get(ctx context.Context, code string) (*models.NotificationTemplate, error) {
	data, err := s.rdb.Get(ctx, templateKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound("template", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", code, err)
	}
	var t models.NotificationTemplate
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", code, err)
	}
	return &t, nil
}

func (s *TemplateStore) Save(ctx context.Context, t *models.NotificationTemplate) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	ok, err := s.rdb.SetXX(ctx, templateKey(t.Code), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store template %s: %w", t.Code, err)
	}
	if !ok {
		return apperr.NotFound("template", t.Code)
	}
	return nil
}

func (s *TemplateStore) Delete(ctx context.Context, code string) error {
	n, err := s.rdb.Del(ctx, templateKey(code)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete template %s: %w", code, err)
	}
	if n == 0 {
		return apperr.NotFound("template", code)
	}
	return s.rdb.SRem(ctx, templateCodesKey, code).Err()
}

func (s *TemplateStore) List(ctx context.Context) ([]*models.NotificationTemplate, error) {
	codes, err := s.rdb.SMembers(ctx, templateCodesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	sort.Strings(codes)
	out := make([]*models.NotificationTemplate, 0, len(codes))
	for _, code := range codes {
		t, err := s.Get(ctx, code)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// RecordUsage bumps usage_count and last_used_at atomically.
func (s *TemplateStore) RecordUsage(ctx context.Context, code string, at time.Time) error {
	key := templateKey(code)
	for i := 0; i < mutateRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return apperr.NotFound("template", code)
			}
			if err != nil {
				return err
			}
			var t models.NotificationTemplate
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			t.UsageCount++
			t.LastUsedAt = &at
			out, err := json.Marshal(&t)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, 0)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("template %s: usage update kept conflicting", code)
}
