package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/franzego/notifyhub/internal/config"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// SMSSender posts form-encoded messages to an HTTP SMS gateway.
type SMSSender struct {
	cfg    config.SMSConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewSMSSender(cfg config.SMSConfig, logger *zap.Logger, listeners ...circuitbreaker.StateListener) *SMSSender {
	logger = logger.Named("sms")
	return &SMSSender{
		cfg:    cfg,
		client: &http.Client{Timeout: sendTimeout},
		cb:     circuitbreaker.New("sms", logger, listeners...),
		logger: logger,
	}
}

func (s *SMSSender) Channel() models.Channel { return models.ChannelSMS }

func (s *SMSSender) IsAvailable() bool {
	return s.cfg.BaseURL != "" && s.cfg.APIKey != ""
}

func (s *SMSSender) ValidateRecipient(recipient string) bool {
	return e164Regex.MatchString(recipient)
}

type smsResponse struct {
	MessageID string `json:"message_id"`
	ID        string `json:"id"`
}

func (s *SMSSender) Send(ctx context.Context, p Payload) Result {
	if res, ok := precheck(s, p); !ok {
		return res
	}

	form := url.Values{}
	form.Set("senderid", s.cfg.SenderID)
	form.Set("mobile", p.Recipient)
	form.Set("msg", p.Body)
	form.Set("msgType", "text")
	form.Set("output", "json")

	req, err := http.NewRequest(http.MethodPost, s.cfg.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return failed("sms-gateway", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", s.cfg.APIKey)

	body, err := doRequest(ctx, s.cb, s.client, req)
	if err != nil {
		s.logger.Warn("sms send failed",
			zap.String("notification_id", p.NotificationID),
			zap.Error(err),
		)
		return failed("sms-gateway", err)
	}

	var resp smsResponse
	// gateways disagree on the response shape; an unparsable body is still a success
	_ = json.Unmarshal(body, &resp)
	id := resp.MessageID
	if id == "" {
		id = resp.ID
	}
	return Result{
		Success:    true,
		MessageID:  id,
		ProviderID: "sms-gateway",
		Metadata:   map[string]any{"provider": "sms-gateway"},
	}
}
