package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/franzego/notifyhub/internal/config"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// WhatsAppSender talks to the WhatsApp Cloud API.
type WhatsAppSender struct {
	cfg    config.WhatsAppConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewWhatsAppSender(cfg config.WhatsAppConfig, logger *zap.Logger, listeners ...circuitbreaker.StateListener) *WhatsAppSender {
	logger = logger.Named("whatsapp")
	return &WhatsAppSender{
		cfg:    cfg,
		client: &http.Client{Timeout: sendTimeout},
		cb:     circuitbreaker.New("whatsapp", logger, listeners...),
		logger: logger,
	}
}

func (s *WhatsAppSender) Channel() models.Channel { return models.ChannelWhatsApp }

func (s *WhatsAppSender) IsAvailable() bool {
	return s.cfg.BaseURL != "" && s.cfg.Token != "" && s.cfg.PhoneNumberID != ""
}

func (s *WhatsAppSender) ValidateRecipient(recipient string) bool {
	return e164Regex.MatchString(recipient)
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (s *WhatsAppSender) Send(ctx context.Context, p Payload) Result {
	if res, ok := precheck(s, p); !ok {
		return res
	}

	text := p.Body
	if p.Subject != "" {
		text = fmt.Sprintf("*%s*\n%s", p.Subject, p.Body)
	}
	payload, err := json.Marshal(whatsAppMessage{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(p.Recipient, "+"),
		Type:             "text",
		Text:             whatsAppText{Body: text},
	})
	if err != nil {
		return failed("whatsapp-cloud", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.PhoneNumberID)
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return failed("whatsapp-cloud", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	body, err := doRequest(ctx, s.cb, s.client, req)
	if err != nil {
		s.logger.Warn("whatsapp send failed",
			zap.String("notification_id", p.NotificationID),
			zap.Error(err),
		)
		return failed("whatsapp-cloud", err)
	}

	var resp whatsAppResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return failed("whatsapp-cloud", fmt.Errorf("failed to decode response: %w", err))
	}
	var id string
	if len(resp.Messages) > 0 {
		id = resp.Messages[0].ID
	}
	return Result{
		Success:    true,
		MessageID:  id,
		ProviderID: "whatsapp-cloud",
		Metadata:   map[string]any{"provider": "whatsapp-cloud"},
	}
}
