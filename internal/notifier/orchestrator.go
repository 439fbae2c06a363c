package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/metrics"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/internal/preferences"
	"go.uber.org/zap"
)

type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ListActiveUsers(ctx context.Context) ([]models.User, error)
}

type PreferenceSource interface {
	Resolver(ctx context.Context, userID string) (*preferences.Resolver, *models.UserPreference, error)
}

type TemplateRenderer interface {
	Render(ctx context.Context, code string, variables map[string]any) (*models.NotificationTemplate, models.RenderedTemplate, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	Get(ctx context.Context, id string) (*models.Notification, error)
	Mutate(ctx context.Context, id string, fn func(n *models.Notification) error) (*models.Notification, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]*models.Notification, error)
	Query(ctx context.Context, filter models.NotificationFilter, page models.PageRequest) (models.Page[*models.Notification], error)
}

// Dispatcher is the delivery queue as seen from the orchestrator.
type Dispatcher interface {
	QueueNotification(ctx context.Context, id string, delay time.Duration) error
	ScheduleNotification(ctx context.Context, id string, when time.Time) error
	RetryNotification(ctx context.Context, id string) error
	CancelNotification(ctx context.Context, id string) (*models.Notification, error)
}

// Orchestrator decides whether, when and where a notification goes, records
// it and hands it to the delivery queue.
type Orchestrator struct {
	store     NotificationStore
	users     UserDirectory
	prefs     PreferenceSource
	templates TemplateRenderer
	queue     Dispatcher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(store NotificationStore, users UserDirectory, prefs PreferenceSource, templates TemplateRenderer, queue Dispatcher, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		users:     users,
		prefs:     prefs,
		templates: templates,
		queue:     queue,
		logger:    logger.Named("notifier"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Send records a notification for one user and either queues it, defers it
// past the user's quiet hours, or cancels it when preferences block it.
func (o *Orchestrator) Send(ctx context.Context, req models.SendRequest) (*models.Notification, error) {
	var templateID string
	if req.TemplateCode != "" && req.Body == "" {
		tpl, out, err := o.templates.Render(ctx, req.TemplateCode, req.TemplateVariables)
		if err != nil {
			return nil, err
		}
		templateID = tpl.ID
		if req.Channel == "" {
			req.Channel = tpl.Channel
		}
		if req.Category == "" {
			req.Category = tpl.Category
		}
		if req.Subject == "" {
			req.Subject = out.Subject
		}
		req.Body = out.Body
		if req.BodyHTML == "" {
			req.BodyHTML = out.BodyHTML
		}
	}
	return o.send(ctx, req, templateID)
}

func (o *Orchestrator) send(ctx context.Context, req models.SendRequest, templateID string) (*models.Notification, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}

	user, err := o.users.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	resolver, pref, err := o.prefs.Resolver(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		recipient = resolveRecipient(req.Channel, user, pref)
	}
	if templateID == "" {
		templateID = req.TemplateCode
	}

	n := &models.Notification{
		UserID:            req.UserID,
		Channel:           req.Channel,
		Category:          req.Category,
		Priority:          req.Priority,
		Status:            models.StatusPending,
		Subject:           req.Subject,
		Body:              req.Body,
		BodyHTML:          req.BodyHTML,
		Recipient:         recipient,
		TemplateID:        templateID,
		TemplateVariables: req.TemplateVariables,
		MaxAttempts:       req.MaxAttempts,
		RequiresAction:    req.RequiresAction,
		ActionURL:         req.ActionURL,
		ScheduledFor:      req.ScheduledFor,
	}
	log := o.logger.With(
		zap.String("user_id", n.UserID),
		zap.String("channel", string(n.Channel)),
		zap.String("category", string(n.Category)),
	)

	if !resolver.IsAllowed(n.Category, n.Channel) {
		n.Status = models.StatusCancelled
		n.ErrorMessage = "blocked by user preferences"
		if err := o.create(ctx, n); err != nil {
			return nil, err
		}
		log.Info("notification blocked by preferences", zap.String("notification_id", n.ID))
		return n, nil
	}
	if recipient == "" {
		return nil, apperr.Validation("no %s recipient known for user %s", req.Channel, req.UserID)
	}

	now := o.now()
	if resolver.IsInQuietHours(now) && n.Priority != models.PriorityUrgent && n.Category != models.CategorySecurity {
		end, err := resolver.QuietHoursEnd(now)
		if err != nil {
			return nil, err
		}
		n.ScheduledFor = &end
		if err := o.create(ctx, n); err != nil {
			return nil, err
		}
		if err := o.queue.ScheduleNotification(ctx, n.ID, end); err != nil {
			return nil, err
		}
		log.Info("notification deferred past quiet hours",
			zap.String("notification_id", n.ID),
			zap.Time("scheduled_for", end),
		)
		return o.store.Get(ctx, n.ID)
	}

	if err := o.create(ctx, n); err != nil {
		return nil, err
	}
	if n.ScheduledFor != nil && n.ScheduledFor.After(now) {
		err = o.queue.ScheduleNotification(ctx, n.ID, *n.ScheduledFor)
	} else {
		err = o.queue.QueueNotification(ctx, n.ID, 0)
	}
	if err != nil {
		return nil, err
	}
	log.Debug("notification queued", zap.String("notification_id", n.ID))
	return o.store.Get(ctx, n.ID)
}

func (o *Orchestrator) create(ctx context.Context, n *models.Notification) error {
	if err := o.store.Create(ctx, n); err != nil {
		return err
	}
	o.metrics.NotificationCreated(string(n.Channel), string(n.Status))
	return nil
}

func normalize(req *models.SendRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return apperr.Validation("user_id is required")
	}
	if !req.Channel.Valid() {
		return apperr.Validation("unknown channel %q", req.Channel)
	}
	if req.Category == "" {
		req.Category = models.CategorySystem
	}
	if !req.Category.Valid() {
		return apperr.Validation("unknown category %q", req.Category)
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if !req.Priority.Valid() {
		return apperr.Validation("unknown priority %q", req.Priority)
	}
	if strings.TrimSpace(req.Body) == "" {
		return apperr.Validation("body is required")
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = models.DefaultMaxAttempts
	}
	return nil
}

// resolveRecipient picks the address for channel, preferring the contact
// details on the preference record over the account's.
func resolveRecipient(channel models.Channel, user *models.User, pref *models.UserPreference) string {
	first := func(vals ...string) string {
		for _, v := range vals {
			if v != "" {
				return v
			}
		}
		return ""
	}
	switch channel {
	case models.ChannelEmail:
		return first(pref.AlternateEmail, user.Email)
	case models.ChannelSMS:
		return first(pref.AlternatePhone, user.Phone)
	case models.ChannelWhatsApp:
		return first(pref.WhatsAppNumber, pref.AlternatePhone, user.Phone)
	case models.ChannelPush:
		return pref.PushToken
	case models.ChannelInApp:
		return user.ID
	}
	return ""
}

// SendFromTemplate renders a template and sends the result, taking channel
// and category from the template unless overridden.
func (o *Orchestrator) SendFromTemplate(ctx context.Context, req models.SendTemplateRequest) (*models.Notification, error) {
	tpl, out, err := o.templates.Render(ctx, req.TemplateCode, req.Variables)
	if err != nil {
		return nil, err
	}
	channel := req.Channel
	if channel == "" {
		channel = tpl.Channel
	}
	category := req.Options.Category
	if category == "" {
		category = tpl.Category
	}
	return o.send(ctx, models.SendRequest{
		UserID:            req.UserID,
		Channel:           channel,
		Category:          category,
		Priority:          req.Options.Priority,
		Subject:           out.Subject,
		Body:              out.Body,
		BodyHTML:          out.BodyHTML,
		Recipient:         req.Options.Recipient,
		TemplateCode:      tpl.Code,
		TemplateVariables: req.Variables,
		RequiresAction:    req.Options.RequiresAction,
		ActionURL:         req.Options.ActionURL,
		ScheduledFor:      req.Options.ScheduledFor,
	}, tpl.ID)
}

// SendBatch sends msg to every user. A failure for one user is logged and
// skipped; the created records are returned.
func (o *Orchestrator) SendBatch(ctx context.Context, userIDs []string, msg models.SendRequest) []*models.Notification {
	created := make([]*models.Notification, 0, len(userIDs))
	for _, id := range userIDs {
		req := msg
		req.UserID = id
		n, err := o.Send(ctx, req)
		if err != nil {
			o.logger.Warn("batch send failed for user", zap.String("user_id", id), zap.Error(err))
			continue
		}
		created = append(created, n)
	}
	return created
}

// Broadcast sends msg to every active user.
func (o *Orchestrator) Broadcast(ctx context.Context, msg models.SendRequest) ([]*models.Notification, error) {
	users, err := o.users.ListActiveUsers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	created := o.SendBatch(ctx, ids, msg)
	o.logger.Info("broadcast sent", zap.Int("users", len(ids)), zap.Int("created", len(created)))
	return created, nil
}

func (o *Orchestrator) Get(ctx context.Context, id string) (*models.Notification, error) {
	return o.store.Get(ctx, id)
}

// GetForUser loads a record on behalf of its owner.
func (o *Orchestrator) GetForUser(ctx context.Context, id, userID string) (*models.Notification, error) {
	n, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, apperr.Forbidden("notification %s belongs to another user", id)
	}
	return n, nil
}

func (o *Orchestrator) Query(ctx context.Context, filter models.NotificationFilter, page models.PageRequest) (models.Page[*models.Notification], error) {
	return o.store.Query(ctx, filter, page)
}

// MarkAsRead stamps readAt once; later calls leave it unchanged.
func (o *Orchestrator) MarkAsRead(ctx context.Context, id, userID string) (*models.Notification, error) {
	n, err := o.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n.IsRead() {
		return n, nil
	}
	now := o.now().UTC()
	return o.store.Mutate(ctx, id, func(n *models.Notification) error {
		if n.ReadAt == nil {
			n.ReadAt = &now
		}
		return nil
	})
}

// MarkAllAsRead stamps every unread record of the user and returns how many changed.
func (o *Orchestrator) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	unread, err := o.store.List(ctx, models.NotificationFilter{UserID: userID, UnreadOnly: true})
	if err != nil {
		return 0, err
	}
	now := o.now().UTC()
	updated := 0
	for _, n := range unread {
		changed := false
		_, err := o.store.Mutate(ctx, n.ID, func(n *models.Notification) error {
			changed = false
			if n.ReadAt == nil {
				n.ReadAt = &now
				changed = true
			}
			return nil
		})
		if err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

func (o *Orchestrator) UnreadCount(ctx context.Context, userID string, channel models.Channel) (int, error) {
	unread, err := o.store.List(ctx, models.NotificationFilter{UserID: userID, Channel: channel, UnreadOnly: true})
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}

func (o *Orchestrator) Retry(ctx context.Context, id string) (*models.Notification, error) {
	if err := o.queue.RetryNotification(ctx, id); err != nil {
		return nil, asInvalidState(err)
	}
	return o.store.Get(ctx, id)
}

func (o *Orchestrator) Cancel(ctx context.Context, id string) (*models.Notification, error) {
	n, err := o.queue.CancelNotification(ctx, id)
	if err != nil {
		return nil, asInvalidState(err)
	}
	return n, nil
}

// ApplyReceipt records a provider's delivery report.
func (o *Orchestrator) ApplyReceipt(ctx context.Context, id string, receipt models.DeliveryReceipt) (*models.Notification, error) {
	switch receipt.Status {
	case models.StatusDelivered:
		return o.MarkDelivered(ctx, id, receipt.DeliveredAt)
	case models.StatusBounced:
		return o.MarkBounced(ctx, id, receipt.Reason)
	default:
		return nil, apperr.Validation("receipt status must be delivered or bounced")
	}
}

func (o *Orchestrator) MarkDelivered(ctx context.Context, id string, at *time.Time) (*models.Notification, error) {
	deliveredAt := o.now().UTC()
	if at != nil {
		deliveredAt = at.UTC()
	}
	n, err := o.store.Mutate(ctx, id, func(n *models.Notification) error {
		if n.Status == models.StatusDelivered {
			return nil
		}
		if err := n.TransitionTo(models.StatusDelivered); err != nil {
			return err
		}
		n.DeliveredAt = &deliveredAt
		return nil
	})
	if err != nil {
		return nil, asInvalidState(err)
	}
	return n, nil
}

func (o *Orchestrator) MarkBounced(ctx context.Context, id, reason string) (*models.Notification, error) {
	n, err := o.store.Mutate(ctx, id, func(n *models.Notification) error {
		if n.Status == models.StatusBounced {
			return nil
		}
		if err := n.TransitionTo(models.StatusBounced); err != nil {
			return err
		}
		if reason == "" {
			reason = "bounced by provider"
		}
		n.ErrorMessage = reason
		return nil
	})
	if err != nil {
		return nil, asInvalidState(err)
	}
	return n, nil
}

// GetStats aggregates the records matching filter.
func (o *Orchestrator) GetStats(ctx context.Context, filter models.NotificationFilter) (models.NotificationStats, error) {
	list, err := o.store.List(ctx, filter)
	if err != nil {
		return models.NotificationStats{}, err
	}
	return computeStats(list), nil
}

func computeStats(list []*models.Notification) models.NotificationStats {
	stats := models.NotificationStats{
		Total:      len(list),
		ByStatus:   map[models.Status]int{},
		ByChannel:  map[models.Channel]int{},
		ByCategory: map[models.Category]int{},
	}
	var (
		delivered int
		timed     int
		total     time.Duration
	)
	for _, n := range list {
		stats.ByStatus[n.Status]++
		stats.ByChannel[n.Channel]++
		stats.ByCategory[n.Category]++
		if n.Status == models.StatusDelivered {
			delivered++
		}
		if n.SentAt != nil && n.DeliveredAt != nil {
			total += n.DeliveredAt.Sub(*n.SentAt)
			timed++
		}
	}
	if stats.Total > 0 {
		stats.DeliveryRate = float64(delivered) / float64(stats.Total)
	}
	if timed > 0 {
		stats.AverageDeliveryTime = total / time.Duration(timed)
	}
	return stats
}

func asInvalidState(err error) error {
	var te *models.TransitionError
	if errors.As(err, &te) {
		return apperr.InvalidState("%s", te.Error())
	}
	return err
}
