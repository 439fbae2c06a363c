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
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrVersionConflict is returned when a record changed between read and write.
var ErrVersionConflict = errors.New("notification was modified concurrently")

const (
	notificationKeyPrefix = "notification:record:"
	notificationsAllKey   = "notifications:all"
	userIndexPrefix       = "notifications:user:"

	mutateRetries = 5
	mgetChunk     = 200
)

// NotificationStore keeps notification records as JSON documents in Redis with
// per-user and global sorted-set indexes scored by creation time.
type NotificationStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewNotificationStore(rdb *redis.Client) *NotificationStore {
	return &NotificationStore{rdb: rdb, now: time.Now}
}

func notificationKey(id string) string   { return notificationKeyPrefix + id }
func userIndexKey(userID string) string { return userIndexPrefix + userID }

func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	now := s.now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	n.Version = 1

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, notificationKey(n.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store notification %s: %w", n.ID, err)
	}
	if !ok {
		return apperr.Conflict("notification %s already exists", n.ID)
	}

	score := float64(n.CreatedAt.UnixMilli())
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, notificationsAllKey, redis.Z{Score: score, Member: n.ID})
		pipe.ZAdd(ctx, userIndexKey(n.UserID), redis.Z{Score: score, Member: n.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (*models.Notification, error) {
	data, err := s.rdb.Get(ctx, notificationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound("notification", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification %s: %w", id, err)
	}
	var n models.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification %s: %w", id, err)
	}
	return &n, nil
}

// Update saves the whole record if nobody else wrote it since it was read.
// On success n.Version and n.UpdatedAt reflect the stored copy.
func (s *NotificationStore) Update(ctx context.Context, n *models.Notification) error {
	key := notificationKey(n.ID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperr.NotFound("notification", n.ID)
		}
		if err != nil {
			return err
		}
		var current models.Notification
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Version != n.Version {
			return ErrVersionConflict
		}

		next := *n
		next.Version = n.Version + 1
		next.UpdatedAt = s.now().UTC()
		out, err := json.Marshal(&next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err != nil {
			return err
		}
		n.Version = next.Version
		n.UpdatedAt = next.UpdatedAt
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

// Mutate re-reads the record, applies fn and saves it, retrying when a
// concurrent writer wins the race. fn may be called more than once.
func (s *NotificationStore) Mutate(ctx context.Context, id string, fn func(n *models.Notification) error) (*models.Notification, error) {
	for i := 0; i < mutateRetries; i++ {
		n, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(n); err != nil {
			return nil, err
		}
		err = s.Update(ctx, n)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, fmt.Errorf("notification %s: %w", id, ErrVersionConflict)
}

// List returns every record matching the filter, newest first.
func (s *NotificationStore) List(ctx context.Context, filter models.NotificationFilter) ([]*models.Notification, error) {
	index := notificationsAllKey
	if filter.UserID != "" {
		index = userIndexKey(filter.UserID)
	}
	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filter.From.IsZero() {
		rangeBy.Min = fmt.Sprint(filter.From.UnixMilli())
	}
	if !filter.To.IsZero() {
		rangeBy.Max = fmt.Sprint(filter.To.UnixMilli())
	}
	ids, err := s.rdb.ZRevRangeByScore(ctx, index, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notification index: %w", err)
	}

	out := make([]*models.Notification, 0, len(ids))
	for start := 0; start < len(ids); start += mgetChunk {
		end := min(start+mgetChunk, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, notificationKey(id))
		}
		vals, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load notifications: %w", err)
		}
		for _, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var n models.Notification
			if err := json.Unmarshal([]byte(raw), &n); err != nil {
				return nil, fmt.Errorf("failed to decode notification: %w", err)
			}
			if filter.Match(&n) {
				out = append(out, &n)
			}
		}
	}
	return out, nil
}

func (s *NotificationStore) Query(ctx context.Context, filter models.NotificationFilter, page models.PageRequest) (models.Page[*models.Notification], error) {
	page = page.Normalize()
	all, err := s.List(ctx, filter)
	if err != nil {
		return models.Page[*models.Notification]{}, err
	}
	sortNotifications(all, page.SortBy, page.SortOrder)

	total := len(all)
	start := min((page.Page-1)*page.Limit, total)
	end := min(start+page.Limit, total)
	return models.Page[*models.Notification]{
		Items:      all[start:end],
		Total:      total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: (total + page.Limit - 1) / page.Limit,
	}, nil
}

func sortNotifications(ns []*models.Notification, by string, order models.SortOrder) {
	less := func(a, b *models.Notification) bool {
		switch by {
		case "sent_at":
			return timeOrZero(a.SentAt).Before(timeOrZero(b.SentAt))
		case "priority":
			return a.Priority.Rank() < b.Priority.Rank()
		case "status":
			return a.Status < b.Status
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(ns, func(i, j int) bool {
		if order == models.SortAsc {
			return less(ns[i], ns[j])
		}
		return less(ns[j], ns[i])
	})
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
