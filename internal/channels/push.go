package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/franzego/notifyhub/internal/config"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// PushSender posts to an FCM-style push gateway. The recipient is a device token.
type PushSender struct {
	cfg    config.PushConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewPushSender(cfg config.PushConfig, logger *zap.Logger, listeners ...circuitbreaker.StateListener) *PushSender {
	logger = logger.Named("push")
	return &PushSender{
		cfg:    cfg,
		client: &http.Client{Timeout: sendTimeout},
		cb:     circuitbreaker.New("push", logger, listeners...),
		logger: logger,
	}
}

func (s *PushSender) Channel() models.Channel { return models.ChannelPush }

func (s *PushSender) IsAvailable() bool {
	return s.cfg.BaseURL != "" && s.cfg.ServerKey != ""
}

func (s *PushSender) ValidateRecipient(recipient string) bool {
	return len(recipient) >= 8 && !strings.ContainsAny(recipient, " \t\n")
}

type pushNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

type pushMessage struct {
	To           string           `json:"to"`
	Notification pushNotification `json:"notification"`
	Data         map[string]any   `json:"data,omitempty"`
}

type pushResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

func (s *PushSender) Send(ctx context.Context, p Payload) Result {
	if res, ok := precheck(s, p); !ok {
		return res
	}

	data := map[string]any{}
	for k, v := range p.Metadata {
		data[k] = v
	}
	if p.NotificationID != "" {
		data["notification_id"] = p.NotificationID
	}
	payload, err := json.Marshal(pushMessage{
		To:           p.Recipient,
		Notification: pushNotification{Title: p.Subject, Body: p.Body},
		Data:         data,
	})
	if err != nil {
		return failed("push-gateway", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return failed("push-gateway", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.cfg.ServerKey)

	body, err := doRequest(ctx, s.cb, s.client, req)
	if err != nil {
		s.logger.Warn("push send failed",
			zap.String("notification_id", p.NotificationID),
			zap.Error(err),
		)
		return failed("push-gateway", err)
	}

	var resp pushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return failed("push-gateway", fmt.Errorf("failed to decode response: %w", err))
	}
	if len(resp.Results) > 0 && resp.Results[0].Error != "" {
		return failed("push-gateway", errors.New(resp.Results[0].Error))
	}
	if resp.Failure > 0 && resp.Success == 0 {
		return failed("push-gateway", errors.New("push gateway rejected the message"))
	}
	var id string
	if len(resp.Results) > 0 {
		id = resp.Results[0].MessageID
	}
	return Result{
		Success:    true,
		MessageID:  id,
		ProviderID: "push-gateway",
		Metadata:   map[string]any{"provider": "push-gateway"},
	}
}
