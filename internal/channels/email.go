package channels

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/franzego/notifyhub/internal/config"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/pkg/circuitbreaker"
	"github.com/mrz1836/postmark"
	"github.com/resend/resend-go/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// mailer is the provider-specific half of the email sender.
type mailer interface {
	name() string
	send(ctx context.Context, from string, p Payload) (messageID string, err error)
}

type resendMailer struct {
	client *resend.Client
}

func (m *resendMailer) name() string { return "resend" }

func (m *resendMailer) send(ctx context.Context, from string, p Payload) (string, error) {
	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    from,
		To:      []string{p.Recipient},
		Subject: p.Subject,
		Html:    p.BodyHTML,
		Text:    p.Body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email via Resend: %w", err)
	}
	return sent.Id, nil
}

type postmarkMailer struct {
	client *postmark.Client
}

func (m *postmarkMailer) name() string { return "postmark" }

func (m *postmarkMailer) send(ctx context.Context, from string, p Payload) (string, error) {
	resp, err := m.client.SendEmail(ctx, postmark.Email{
		From:       from,
		To:         p.Recipient,
		Subject:    p.Subject,
		HTMLBody:   p.BodyHTML,
		TextBody:   p.Body,
		Tag:        string(p.Category),
		TrackOpens: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email via Postmark: %w", err)
	}
	if resp.ErrorCode > 0 {
		return "", fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return resp.MessageID, nil
}

type EmailSender struct {
	from   string
	mailer mailer
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewEmailSender picks Resend or Postmark from cfg.Provider. Without an API key
// or sender address the channel stays unavailable.
func NewEmailSender(cfg config.EmailConfig, logger *zap.Logger, listeners ...circuitbreaker.StateListener) *EmailSender {
	logger = logger.Named("email")
	s := &EmailSender{
		from:   cfg.From,
		cb:     circuitbreaker.New("email", logger, listeners...),
		logger: logger,
	}
	if cfg.APIKey == "" || cfg.From == "" {
		return s
	}
	switch strings.ToLower(cfg.Provider) {
	case "postmark":
		s.mailer = &postmarkMailer{client: postmark.NewClient(cfg.APIKey, cfg.AccountToken)}
	default:
		s.mailer = &resendMailer{client: resend.NewClient(cfg.APIKey)}
	}
	return s
}

func (s *EmailSender) Channel() models.Channel { return models.ChannelEmail }

func (s *EmailSender) IsAvailable() bool { return s.mailer != nil }

func (s *EmailSender) ValidateRecipient(recipient string) bool {
	return emailRegex.MatchString(recipient)
}

func (s *EmailSender) Send(ctx context.Context, p Payload) Result {
	if res, ok := precheck(s, p); !ok {
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.mailer.send(ctx, s.from, p)
	})
	if err != nil {
		s.logger.Warn("email send failed",
			zap.String("notification_id", p.NotificationID),
			zap.String("provider", s.mailer.name()),
			zap.Error(err),
		)
		return failed(s.mailer.name(), err)
	}
	return Result{
		Success:    true,
		MessageID:  out.(string),
		ProviderID: s.mailer.name(),
		Metadata:   map[string]any{"provider": s.mailer.name()},
	}
}
