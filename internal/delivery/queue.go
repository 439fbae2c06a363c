package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/channels"
	"github.com/franzego/notifyhub/internal/config"
	"github.com/franzego/notifyhub/internal/metrics"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// errSkipped means the record no longer wants this job, e.g. it was cancelled.
	errSkipped = errors.New("notification no longer deliverable")
	// errLocked means another worker holds the notification.
	errLocked = errors.New("notification is being processed elsewhere")
)

// SendError is a failed provider attempt. The queue retries these.
type SendError struct {
	Channel models.Channel
	Attempt int
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s delivery attempt %d failed: %s", e.Channel, e.Attempt, e.Message)
}

type NotificationStore interface {
	Get(ctx context.Context, id string) (*models.Notification, error)
	Mutate(ctx context.Context, id string, fn func(n *models.Notification) error) (*models.Notification, error)
}

type SenderLookup interface {
	Get(ch models.Channel) (channels.Sender, bool)
	// Pace blocks until the channel's batch policy allows another send.
	Pace(ctx context.Context, ch models.Channel) error
}

// FailureSink receives notifications whose attempts are exhausted.
type FailureSink interface {
	PublishFailure(ctx context.Context, n *models.Notification, job *Job) error
}

type Queue struct {
	store   NotificationStore
	jobs    *JobStore
	senders SenderLookup
	sink    FailureSink
	metrics *metrics.Metrics
	cfg     config.DeliveryConfig
	logger  *zap.Logger
	now     func() time.Time
	owner   string
}

type Option func(*Queue)

func WithFailureSink(sink FailureSink) Option { return func(q *Queue) { q.sink = sink } }

func WithMetrics(m *metrics.Metrics) Option { return func(q *Queue) { q.metrics = m } }

func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

func NewQueue(store NotificationStore, jobs *JobStore, senders SenderLookup, cfg config.DeliveryConfig, logger *zap.Logger, opts ...Option) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = models.DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	q := &Queue{
		store:   store,
		jobs:    jobs,
		senders: senders,
		cfg:     cfg,
		logger:  logger.Named("delivery"),
		now:     time.Now,
		owner:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Backoff is the wait after the given attempt failed: base * 2^(attempt-1).
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
}

// QueueNotification marks the record QUEUED and schedules its next attempt
// after delay.
func (q *Queue) QueueNotification(ctx context.Context, id string, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	n, err := q.store.Mutate(ctx, id, func(n *models.Notification) error {
		if n.Status == models.StatusQueued {
			return nil
		}
		return n.TransitionTo(models.StatusQueued)
	})
	if err != nil {
		return err
	}

	maxAttempts := n.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}
	now := q.now().UTC()
	job := &Job{
		ID:             uuid.New().String(),
		NotificationID: id,
		Attempt:        n.Attempts + 1,
		MaxAttempts:    maxAttempts,
		NextRunAt:      now.Add(delay),
		CreatedAt:      now,
	}
	if err := q.jobs.Enqueue(ctx, job); err != nil {
		return err
	}
	q.logger.Debug("notification queued",
		zap.String("notification_id", id),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
	)
	return nil
}

// ScheduleNotification queues the record to run at when, or now if when has passed.
func (q *Queue) ScheduleNotification(ctx context.Context, id string, when time.Time) error {
	return q.QueueNotification(ctx, id, max(0, when.Sub(q.now())))
}

// ProcessNotification performs one delivery attempt for job. A *SendError
// means the provider refused and the attempt may be retried.
func (q *Queue) ProcessNotification(ctx context.Context, job *Job) error {
	ok, err := q.jobs.Lock(ctx, job.NotificationID, q.owner, q.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock notification %s: %w", job.NotificationID, err)
	}
	if !ok {
		return errLocked
	}
	defer func() {
		if err := q.jobs.Unlock(context.WithoutCancel(ctx), job.NotificationID, q.owner); err != nil {
			q.logger.Warn("failed to release lock", zap.String("notification_id", job.NotificationID), zap.Error(err))
		}
	}()

	n, err := q.store.Mutate(ctx, job.NotificationID, func(n *models.Notification) error {
		// SENDING for this very attempt means a worker died mid-send; run it again
		resuming := n.Status == models.StatusSending && n.Attempts == job.Attempt
		if !resuming && !n.Status.CanTransition(models.StatusSending) {
			return errSkipped
		}
		if job.Attempt > n.MaxAttempts {
			return fmt.Errorf("%w: attempt %d exceeds max attempts %d", apperr.ErrPermanent, job.Attempt, n.MaxAttempts)
		}
		if !resuming {
			if err := n.TransitionTo(models.StatusSending); err != nil {
				return err
			}
		}
		n.Attempts = job.Attempt
		return nil
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("%w: %v", apperr.ErrPermanent, err)
	}
	if err != nil {
		return err
	}

	result := q.send(ctx, n)
	now := q.now().UTC()

	if result.Success {
		_, err = q.store.Mutate(ctx, n.ID, func(n *models.Notification) error {
			if err := n.TransitionTo(models.StatusSent); err != nil {
				return err
			}
			n.SentAt = &now
			n.ClearError()
			md := map[string]any{}
			for k, v := range result.Metadata {
				md[k] = v
			}
			if result.MessageID != "" {
				md["messageId"] = result.MessageID
			}
			if result.ProviderID != "" {
				md["providerId"] = result.ProviderID
			}
			n.MergeProviderMetadata(md)
			return nil
		})
		if movedOn(err) {
			q.logger.Info("record changed during send, keeping its status", zap.String("notification_id", n.ID), zap.Error(err))
			return errSkipped
		}
		if err != nil {
			return fmt.Errorf("failed to record delivery of %s: %w", n.ID, err)
		}
		q.logger.Info("notification sent",
			zap.String("notification_id", n.ID),
			zap.String("channel", string(n.Channel)),
			zap.Int("attempt", job.Attempt),
		)
		return nil
	}

	_, err = q.store.Mutate(ctx, n.ID, func(n *models.Notification) error {
		if err := n.TransitionTo(models.StatusFailed); err != nil {
			return err
		}
		n.ErrorMessage = result.Error
		n.ErrorDetails = map[string]string{
			"attempt":   strconv.Itoa(job.Attempt),
			"timestamp": now.Format(time.RFC3339),
		}
		if result.ProviderID != "" {
			n.ErrorDetails["provider"] = result.ProviderID
		}
		n.MergeProviderMetadata(result.Metadata)
		return nil
	})
	if movedOn(err) {
		q.logger.Info("record changed during send, keeping its status", zap.String("notification_id", n.ID), zap.Error(err))
		return errSkipped
	}
	if err != nil {
		return fmt.Errorf("failed to record failure of %s: %w", n.ID, err)
	}
	return &SendError{Channel: n.Channel, Attempt: job.Attempt, Message: result.Error}
}

// movedOn reports whether a post-send write lost to a receipt or cancel that
// moved the record out of SENDING.
func movedOn(err error) bool {
	var terr *models.TransitionError
	return errors.As(err, &terr)
}

func (q *Queue) send(ctx context.Context, n *models.Notification) channels.Result {
	sender, ok := q.senders.Get(n.Channel)
	if !ok {
		return channels.Result{Error: fmt.Sprintf("no sender for channel %s", n.Channel)}
	}
	if err := q.senders.Pace(ctx, n.Channel); err != nil {
		return channels.Result{Error: fmt.Sprintf("%s send window not available: %v", n.Channel, err)}
	}
	start := time.Now()
	result := sender.Send(ctx, channels.Payload{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Recipient:      n.Recipient,
		Subject:        n.Subject,
		Body:           n.Body,
		BodyHTML:       n.BodyHTML,
		Category:       n.Category,
		Metadata: map[string]any{
			"category": string(n.Category),
			"priority": string(n.Priority),
		},
	})
	q.metrics.DeliveryAttempt(string(n.Channel), result.Success, time.Since(start))
	return result
}

// HandleFailedJob finalises a notification whose attempts are used up.
func (q *Queue) HandleFailedJob(ctx context.Context, job *Job, cause error) error {
	n, err := q.store.Mutate(ctx, job.NotificationID, func(n *models.Notification) error {
		switch n.Status {
		case models.StatusFailed:
		case models.StatusSending:
			if err := n.TransitionTo(models.StatusFailed); err != nil {
				return err
			}
		default:
			// SENT, BOUNCED and the rest already say what happened
			return errSkipped
		}
		if n.ErrorMessage == "" && cause != nil {
			n.ErrorMessage = cause.Error()
		}
		return nil
	})
	if errors.Is(err, errSkipped) {
		return nil
	}
	if err != nil {
		return err
	}

	q.logger.Warn("notification failed permanently",
		zap.String("notification_id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.Int("attempt", n.Attempts),
		zap.String("error", n.ErrorMessage),
	)
	if q.sink != nil {
		if err := q.sink.PublishFailure(ctx, n, job); err != nil {
			q.logger.Error("failed to publish dead letter", zap.String("notification_id", n.ID), zap.Error(err))
		}
	}
	return nil
}

// RetryNotification resets a failed record and queues a fresh attempt,
// replacing any backoff wait still pending.
func (q *Queue) RetryNotification(ctx context.Context, id string) error {
	_, err := q.store.Mutate(ctx, id, func(n *models.Notification) error {
		if !n.CanRetry() {
			return apperr.InvalidState("notification %s cannot be retried from %s with %d/%d attempts",
				id, n.Status, n.Attempts, n.MaxAttempts)
		}
		if err := n.TransitionTo(models.StatusPending); err != nil {
			return err
		}
		n.ClearError()
		return nil
	})
	if err != nil {
		return err
	}
	if _, err := q.jobs.Remove(ctx, id); err != nil {
		return err
	}
	return q.QueueNotification(ctx, id, 0)
}

// CancelNotification drops any live job and marks the record CANCELLED.
// Cancelling twice is harmless.
func (q *Queue) CancelNotification(ctx context.Context, id string) (*models.Notification, error) {
	n, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status == models.StatusCancelled {
		return n, nil
	}
	if !n.CanCancel() {
		return nil, apperr.InvalidState("notification %s cannot be cancelled from %s", id, n.Status)
	}

	removed, err := q.jobs.Remove(ctx, id)
	if err != nil {
		return nil, err
	}
	n, err = q.store.Mutate(ctx, id, func(n *models.Notification) error {
		if n.Status == models.StatusCancelled {
			return nil
		}
		return n.TransitionTo(models.StatusCancelled)
	})
	if err != nil {
		return nil, err
	}
	q.logger.Info("notification cancelled", zap.String("notification_id", id), zap.Bool("job_removed", removed))
	return n, nil
}

func (q *Queue) GetQueueStats(ctx context.Context) (models.QueueStats, error) {
	stats, err := q.jobs.Stats(ctx, q.now())
	if err != nil {
		return stats, err
	}
	q.metrics.QueueDepth("waiting", stats.Waiting)
	q.metrics.QueueDepth("delayed", stats.Delayed)
	q.metrics.QueueDepth("active", stats.Active)
	q.metrics.QueueDepth("completed", stats.Completed)
	q.metrics.QueueDepth("failed", stats.Failed)
	return stats, nil
}

// CleanOldJobs prunes finished job metadata older than days. Notification
// records are never touched.
func (q *Queue) CleanOldJobs(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, apperr.Validation("days must not be negative")
	}
	cutoff := q.now().Add(-time.Duration(days) * 24 * time.Hour)
	removed, err := q.jobs.Clean(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	q.logger.Info("cleaned old jobs", zap.Int64("removed", removed), zap.Int("days", days))
	return removed, nil
}

// Handle runs one claimed job to its next resting place: completed,
// rescheduled with backoff, or failed for good.
func (q *Queue) Handle(ctx context.Context, job *Job) {
	err := q.safeProcess(ctx, job)
	now := q.now().UTC()
	log := q.logger.With(
		zap.String("job_id", job.ID),
		zap.String("notification_id", job.NotificationID),
		zap.Int("attempt", job.Attempt),
	)

	switch {
	case err == nil:
		if err := q.jobs.Complete(ctx, job, now); err != nil {
			log.Error("failed to complete job", zap.Error(err))
		}

	case errors.Is(err, errSkipped):
		log.Debug("skipping job")
		if err := q.jobs.Complete(ctx, job, now); err != nil {
			log.Error("failed to complete job", zap.Error(err))
		}

	case errors.Is(err, errLocked):
		job.NextRunAt = now.Add(q.lockRetryDelay())
		if err := q.jobs.Reschedule(ctx, job); err != nil {
			log.Error("failed to reschedule locked job", zap.Error(err))
		}

	case errors.Is(err, apperr.ErrPermanent) || job.Attempt >= job.MaxAttempts:
		job.LastError = err.Error()
		if err := q.jobs.Fail(ctx, job, now); err != nil {
			log.Error("failed to mark job failed", zap.Error(err))
		}
		if errors.Is(err, apperr.ErrPermanent) {
			log.Error("job failed permanently", zap.Error(err))
			return
		}
		if err := q.HandleFailedJob(ctx, job, err); err != nil {
			log.Error("failed to finalise notification", zap.Error(err))
		}

	default:
		delay := q.Backoff(job.Attempt)
		job.LastError = err.Error()
		job.Attempt++
		job.NextRunAt = now.Add(delay)
		if err := q.jobs.Reschedule(ctx, job); err != nil {
			log.Error("failed to schedule retry", zap.Error(err))
			return
		}
		log.Warn("delivery attempt failed, retrying",
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
}

func (q *Queue) safeProcess(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing: %v", r)
			_, _ = q.store.Mutate(ctx, job.NotificationID, func(n *models.Notification) error {
				if n.Status != models.StatusSending {
					return errSkipped
				}
				n.ErrorMessage = err.Error()
				return n.TransitionTo(models.StatusFailed)
			})
		}
	}()
	return q.ProcessNotification(ctx, job)
}

func (q *Queue) lockRetryDelay() time.Duration {
	if q.cfg.PollInterval > 0 {
		return 5 * q.cfg.PollInterval
	}
	return 5 * time.Second
}
