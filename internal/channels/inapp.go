package channels

import (
	"context"
	"encoding/json"
	"time"

	"github.com/franzego/notifyhub/internal/config"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	inboxKeyPrefix   = "notification:inbox:"
	inboxTopicPrefix = "notification:inbox:live:"
)

func InboxKey(userID string) string   { return inboxKeyPrefix + userID }
func InboxTopic(userID string) string { return inboxTopicPrefix + userID }

// InboxEntry is what an in-app client reads from the user's inbox list.
type InboxEntry struct {
	ID        string         `json:"id"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Category  string         `json:"category,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// InAppSender appends to a capped per-user Redis list and announces the entry
// on a pub/sub topic. The recipient is the user id.
type InAppSender struct {
	rdb    *redis.Client
	cfg    config.InAppConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewInAppSender(rdb *redis.Client, cfg config.InAppConfig, logger *zap.Logger) *InAppSender {
	return &InAppSender{rdb: rdb, cfg: cfg, logger: logger.Named("in_app"), now: time.Now}
}

func (s *InAppSender) Channel() models.Channel { return models.ChannelInApp }

func (s *InAppSender) IsAvailable() bool { return s.cfg.Enabled && s.rdb != nil }

func (s *InAppSender) ValidateRecipient(recipient string) bool {
	_, err := uuid.Parse(recipient)
	return err == nil
}

func (s *InAppSender) Send(ctx context.Context, p Payload) Result {
	if res, ok := precheck(s, p); !ok {
		return res
	}

	id := p.NotificationID
	if id == "" {
		id = uuid.New().String()
	}
	entry, err := json.Marshal(InboxEntry{
		ID:        id,
		Subject:   p.Subject,
		Body:      p.Body,
		Category:  string(p.Category),
		Metadata:  p.Metadata,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return failed("redis-inbox", err)
	}

	limit := s.cfg.HistoryLimit
	if limit <= 0 {
		limit = 200
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, InboxKey(p.Recipient), entry)
		pipe.LTrim(ctx, InboxKey(p.Recipient), 0, limit-1)
		pipe.Publish(ctx, InboxTopic(p.Recipient), entry)
		return nil
	})
	if err != nil {
		s.logger.Warn("in-app delivery failed",
			zap.String("notification_id", p.NotificationID),
			zap.Error(err),
		)
		return failed("redis-inbox", err)
	}
	return Result{
		Success:    true,
		MessageID:  id,
		ProviderID: "redis-inbox",
		Metadata:   map[string]any{"provider": "redis-inbox"},
	}
}
