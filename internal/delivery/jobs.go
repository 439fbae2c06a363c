package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/franzego/notifyhub/internal/models"
	"github.com/redis/go-redis/v9"
)

// Job is one scheduled delivery of a notification. Automatic retries reuse
// the job with Attempt incremented; a manual retry starts a new job.
type Job struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notification_id"`
	Attempt        int        `json:"attempt"`
	MaxAttempts    int        `json:"max_attempts"`
	NextRunAt      time.Time  `json:"next_run_at"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

const (
	jobKeyPrefix     = "delivery:job:"
	pendingKeyPrefix = "delivery:pending:"
	lockKeyPrefix    = "delivery:lock:"
	scheduledKey     = "delivery:scheduled"
	activeKey        = "delivery:active"
	completedKey     = "delivery:completed"
	failedKey        = "delivery:failed"
)

func jobKey(id string) string      { return jobKeyPrefix + id }
func pendingKey(nid string) string { return pendingKeyPrefix + nid }
func lockKey(nid string) string    { return lockKeyPrefix + nid }

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func scoreString(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// JobStore keeps jobs in Redis sorted sets: scheduled by next run time,
// active by claim time, completed and failed by finish time. Each
// notification has at most one live job, tracked by a pointer key.
type JobStore struct {
	rdb *redis.Client
}

func NewJobStore(rdb *redis.Client) *JobStore {
	return &JobStore{rdb: rdb}
}

func (s *JobStore) save(ctx context.Context, pipe redis.Pipeliner, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	pipe.Set(ctx, jobKey(j.ID), data, 0)
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &j, nil
}

// Enqueue schedules j and makes it the live job of its notification.
func (s *JobStore) Enqueue(ctx context.Context, j *Job) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.save(ctx, pipe, j); err != nil {
			return err
		}
		pipe.ZAdd(ctx, scheduledKey, redis.Z{Score: score(j.NextRunAt), Member: j.ID})
		pipe.Set(ctx, pendingKey(j.NotificationID), j.ID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job for %s: %w", j.NotificationID, err)
	}
	return nil
}

// ClaimDue moves up to limit jobs whose run time has passed into the active
// set. A job is claimed by whoever removes it from the scheduled set.
func (s *JobStore) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]*Job, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   scoreString(now),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due jobs: %w", err)
	}

	var claimed []*Job
	for _, id := range ids {
		n, err := s.rdb.ZRem(ctx, scheduledKey, id).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim job %s: %w", id, err)
		}
		if n == 0 {
			continue
		}
		if err := s.rdb.ZAdd(ctx, activeKey, redis.Z{Score: score(now), Member: id}).Err(); err != nil {
			return claimed, fmt.Errorf("failed to mark job %s active: %w", id, err)
		}
		j, err := s.Get(ctx, id)
		if err != nil {
			return claimed, err
		}
		if j == nil {
			// removed by a cancel between range and claim
			s.rdb.ZRem(ctx, activeKey, id)
			continue
		}
		claimed = append(claimed, j)
	}
	return claimed, nil
}

// Reschedule puts an active job back on the schedule.
func (s *JobStore) Reschedule(ctx context.Context, j *Job) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.save(ctx, pipe, j); err != nil {
			return err
		}
		pipe.ZRem(ctx, activeKey, j.ID)
		pipe.ZAdd(ctx, scheduledKey, redis.Z{Score: score(j.NextRunAt), Member: j.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", j.ID, err)
	}
	return nil
}

func (s *JobStore) Complete(ctx context.Context, j *Job, at time.Time) error {
	return s.finish(ctx, j, at, completedKey)
}

func (s *JobStore) Fail(ctx context.Context, j *Job, at time.Time) error {
	return s.finish(ctx, j, at, failedKey)
}

func (s *JobStore) finish(ctx context.Context, j *Job, at time.Time, set string) error {
	j.FinishedAt = &at
	live, err := s.rdb.Get(ctx, pendingKey(j.NotificationID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read live job of %s: %w", j.NotificationID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.save(ctx, pipe, j); err != nil {
			return err
		}
		pipe.ZRem(ctx, activeKey, j.ID)
		pipe.ZAdd(ctx, set, redis.Z{Score: score(at), Member: j.ID})
		if live == j.ID {
			pipe.Del(ctx, pendingKey(j.NotificationID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", j.ID, err)
	}
	return nil
}

// Remove drops the live job of a notification whether it is scheduled or
// active. It reports whether a job was found.
func (s *JobStore) Remove(ctx context.Context, notificationID string) (bool, error) {
	id, err := s.rdb.Get(ctx, pendingKey(notificationID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read live job of %s: %w", notificationID, err)
	}

	var scheduled, active *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		scheduled = pipe.ZRem(ctx, scheduledKey, id)
		active = pipe.ZRem(ctx, activeKey, id)
		pipe.Del(ctx, jobKey(id), pendingKey(notificationID))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove job %s: %w", id, err)
	}
	return scheduled.Val()+active.Val() > 0, nil
}

// LiveJob returns the job currently scheduled or running for a notification.
func (s *JobStore) LiveJob(ctx context.Context, notificationID string) (*Job, error) {
	id, err := s.rdb.Get(ctx, pendingKey(notificationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read live job of %s: %w", notificationID, err)
	}
	return s.Get(ctx, id)
}

// RecoverStale reschedules jobs that were claimed before cutoff and never
// finished, e.g. because their worker died.
func (s *JobStore) RecoverStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, activeKey, &redis.ZRangeBy{Min: "-inf", Max: scoreString(cutoff)}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read active jobs: %w", err)
	}
	recovered := 0
	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if err != nil {
			return recovered, err
		}
		if j == nil {
			s.rdb.ZRem(ctx, activeKey, id)
			continue
		}
		j.NextRunAt = now
		if err := s.Reschedule(ctx, j); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (s *JobStore) Stats(ctx context.Context, now time.Time) (models.QueueStats, error) {
	var waiting, delayed, active, completed, failed *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.ZCount(ctx, scheduledKey, "-inf", scoreString(now))
		delayed = pipe.ZCount(ctx, scheduledKey, "("+scoreString(now), "+inf")
		active = pipe.ZCard(ctx, activeKey)
		completed = pipe.ZCard(ctx, completedKey)
		failed = pipe.ZCard(ctx, failedKey)
		return nil
	})
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return models.QueueStats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Clean deletes finished jobs that finished before cutoff.
func (s *JobStore) Clean(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for _, set := range []string{completedKey, failedKey} {
		ids, err := s.rdb.ZRangeByScore(ctx, set, &redis.ZRangeBy{Min: "-inf", Max: scoreString(cutoff)}).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to read %s: %w", set, err)
		}
		if len(ids) == 0 {
			continue
		}
		keys := make([]string, len(ids))
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			keys[i] = jobKey(id)
			members[i] = id
		}
		_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, set, members...)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to clean %s: %w", set, err)
		}
		removed += int64(len(ids))
	}
	return removed, nil
}

// Lock takes the per-notification processing lock.
func (s *JobStore) Lock(ctx context.Context, notificationID, owner string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, lockKey(notificationID), owner, ttl).Result()
}

func (s *JobStore) Unlock(ctx context.Context, notificationID, owner string) error {
	held, err := s.rdb.Get(ctx, lockKey(notificationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if held != owner {
		return nil
	}
	return s.rdb.Del(ctx, lockKey(notificationID)).Err()
}
