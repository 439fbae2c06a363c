package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/franzego/notifyhub/internal/config"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) name() string { return "fake" }

func (m *MockMailer) send(ctx context.Context, from string, p Payload) (string, error) {
	args := m.Called(from, p.Recipient)
	return args.String(0), args.Error(1)
}

func TestUnconfiguredSendersSimulateFailure(t *testing.T) {
	logger := zap.NewNop()
	senders := []Sender{
		NewEmailSender(config.EmailConfig{}, logger),
		NewSMSSender(config.SMSConfig{}, logger),
		NewWhatsAppSender(config.WhatsAppConfig{}, logger),
		NewPushSender(config.PushConfig{}, logger),
		NewInAppSender(nil, config.InAppConfig{}, logger),
	}
	for _, s := range senders {
		assert.False(t, s.IsAvailable(), s.Channel())
		res := s.Send(context.Background(), Payload{Recipient: "whatever"})
		assert.False(t, res.Success)
		assert.Equal(t, string(s.Channel())+" not configured", res.Error)
		assert.Equal(t, true, res.Metadata["simulated"])
	}
}

func TestValidateRecipient(t *testing.T) {
	logger := zap.NewNop()
	email := NewEmailSender(config.EmailConfig{}, logger)
	sms := NewSMSSender(config.SMSConfig{}, logger)
	wa := NewWhatsAppSender(config.WhatsAppConfig{}, logger)
	inApp := NewInAppSender(nil, config.InAppConfig{}, logger)

	assert.True(t, email.ValidateRecipient("ada@example.com"))
	assert.False(t, email.ValidateRecipient("ada@"))
	assert.False(t, email.ValidateRecipient("not an email"))

	assert.True(t, sms.ValidateRecipient("+2348012345678"))
	assert.False(t, sms.ValidateRecipient("08012345678"))
	assert.False(t, sms.ValidateRecipient("+0123"))
	assert.True(t, wa.ValidateRecipient("+15551234567"))

	assert.True(t, inApp.ValidateRecipient(uuid.New().String()))
	assert.False(t, inApp.ValidateRecipient("user-1"))
}

func TestEmailSender_SendsThroughMailer(t *testing.T) {
	m := new(MockMailer)
	s := NewEmailSender(config.EmailConfig{From: "noreply@example.com"}, zap.NewNop())
	s.mailer = m

	m.On("send", "noreply@example.com", "ada@example.com").Return("msg-1", nil).Once()
	res := s.Send(context.Background(), Payload{Recipient: "ada@example.com", Subject: "hi", Body: "hello"})
	assert.True(t, res.Success)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Equal(t, "fake", res.ProviderID)

	m.On("send", "noreply@example.com", "bob@example.com").Return("", errors.New("rate limited")).Once()
	res = s.Send(context.Background(), Payload{Recipient: "bob@example.com"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "rate limited")

	m.AssertExpectations(t)
}

func TestEmailSender_InvalidRecipientNeverCallsProvider(t *testing.T) {
	m := new(MockMailer)
	s := NewEmailSender(config.EmailConfig{From: "noreply@example.com"}, zap.NewNop())
	s.mailer = m

	res := s.Send(context.Background(), Payload{Recipient: "nope"})
	assert.False(t, res.Success)
	assert.Equal(t, true, res.Metadata["validation"])
	m.AssertNotCalled(t, "send", mock.Anything, mock.Anything)
}

func TestEmailSender_ProviderSelection(t *testing.T) {
	logger := zap.NewNop()
	r := NewEmailSender(config.EmailConfig{Provider: "resend", APIKey: "re_x", From: "a@b.co"}, logger)
	p := NewEmailSender(config.EmailConfig{Provider: "postmark", APIKey: "pm_x", From: "a@b.co"}, logger)

	assert.True(t, r.IsAvailable())
	assert.Equal(t, "resend", r.mailer.name())
	assert.Equal(t, "postmark", p.mailer.name())
}

func TestSMSSender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "+2348012345678", r.PostForm.Get("mobile"))
		assert.Equal(t, "your code is 1234", r.PostForm.Get("msg"))
		_, _ = w.Write([]byte(`{"message_id":"sms-42"}`))
	}))
	defer srv.Close()

	s := NewSMSSender(config.SMSConfig{BaseURL: srv.URL, APIKey: "secret", SenderID: "ACME"}, zap.NewNop())
	res := s.Send(context.Background(), Payload{Recipient: "+2348012345678", Body: "your code is 1234"})
	assert.True(t, res.Success)
	assert.Equal(t, "sms-42", res.MessageID)
}

func TestSMSSender_ProviderErrorIsAFailedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer srv.Close()

	s := NewSMSSender(config.SMSConfig{BaseURL: srv.URL, APIKey: "secret"}, zap.NewNop())
	res := s.Send(context.Background(), Payload{Recipient: "+2348012345678", Body: "x"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "503")
}

func TestWhatsAppSender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var msg whatsAppMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "15551234567", msg.To)
		assert.Equal(t, "whatsapp", msg.MessagingProduct)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	s := NewWhatsAppSender(config.WhatsAppConfig{BaseURL: srv.URL, Token: "tok", PhoneNumberID: "12345"}, zap.NewNop())
	res := s.Send(context.Background(), Payload{Recipient: "+15551234567", Body: "hello"})
	assert.True(t, res.Success)
	assert.Equal(t, "wamid.1", res.MessageID)
}

func TestPushSender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=server", r.Header.Get("Authorization"))
		var msg pushMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		if msg.To == "bad-device-token" {
			_, _ = w.Write([]byte(`{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`))
			return
		}
		assert.Equal(t, "n-1", msg.Data["notification_id"])
		_, _ = w.Write([]byte(`{"success":1,"failure":0,"results":[{"message_id":"push-1"}]}`))
	}))
	defer srv.Close()

	s := NewPushSender(config.PushConfig{BaseURL: srv.URL, ServerKey: "server"}, zap.NewNop())
	res := s.Send(context.Background(), Payload{NotificationID: "n-1", Recipient: "device-token-1", Body: "ping"})
	assert.True(t, res.Success)
	assert.Equal(t, "push-1", res.MessageID)

	res = s.Send(context.Background(), Payload{Recipient: "bad-device-token", Body: "ping"})
	assert.False(t, res.Success)
	assert.Equal(t, "NotRegistered", res.Error)
}

func TestInAppSender_Send(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s := NewInAppSender(rdb, config.InAppConfig{Enabled: true, HistoryLimit: 2}, zap.NewNop())
	user := uuid.New().String()
	for i := 0; i < 3; i++ {
		res := s.Send(context.Background(), Payload{NotificationID: uuid.New().String(), Recipient: user, Body: "hi"})
		require.True(t, res.Success, res.Error)
	}

	entries, err := rdb.LRange(context.Background(), InboxKey(user), 0, -1).Result()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	var entry InboxEntry
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &entry))
	assert.Equal(t, "hi", entry.Body)
}

type countingSender struct {
	mu    sync.Mutex
	times []time.Time
	calls atomic.Int32
}

func (c *countingSender) Channel() models.Channel         { return models.ChannelSMS }
func (c *countingSender) IsAvailable() bool               { return true }
func (c *countingSender) ValidateRecipient(r string) bool { return r != "" }
func (c *countingSender) Send(ctx context.Context, p Payload) Result {
	c.calls.Add(1)
	c.mu.Lock()
	c.times = append(c.times, time.Now())
	c.mu.Unlock()
	return Result{Success: true, MessageID: p.Recipient}
}

func TestSendBatch_WindowsAndOrder(t *testing.T) {
	s := &countingSender{}
	payloads := []Payload{{Recipient: "a"}, {Recipient: "b"}, {Recipient: "c"}, {Recipient: "d"}, {Recipient: "e"}}

	start := time.Now()
	results := SendBatch(context.Background(), s, config.BatchPolicy{Size: 2, Delay: 20 * time.Millisecond}, payloads)
	elapsed := time.Since(start)

	require.Len(t, results, 5)
	for i, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, payloads[i].Recipient, r.MessageID)
	}
	assert.Equal(t, int32(5), s.calls.Load())
	// three windows means two pauses
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestSendBatch_StopsWhenContextEnds(t *testing.T) {
	s := &countingSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := SendBatch(ctx, s, config.BatchPolicy{Size: 1}, []Payload{{Recipient: "a"}, {Recipient: "b"}})
	assert.Equal(t, int32(0), s.calls.Load())
	assert.False(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&countingSender{}, config.BatchPolicy{Size: 5})
	r.Register(NewEmailSender(config.EmailConfig{}, zap.NewNop()), config.BatchPolicy{Size: 10})

	s, ok := r.Get(models.ChannelSMS)
	require.True(t, ok)
	assert.Equal(t, models.ChannelSMS, s.Channel())

	_, ok = r.Get(models.ChannelPush)
	assert.False(t, ok)

	assert.Equal(t, map[models.Channel]bool{models.ChannelSMS: true, models.ChannelEmail: false}, r.Availability())

	_, err := r.SendBatch(context.Background(), models.ChannelPush, nil)
	assert.Error(t, err)
}

func TestPacer(t *testing.T) {
	p := NewPacer(config.BatchPolicy{Size: 2, Delay: 30 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, p.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// the second window is half used; filling it starts another pause
	require.NoError(t, p.Wait(ctx))
	cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(cctx), context.DeadlineExceeded)
}

func TestRegistry_PaceUsesChannelPolicy(t *testing.T) {
	r := NewRegistry()
	r.Register(&countingSender{}, config.BatchPolicy{Size: 1, Delay: 30 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, r.Pace(ctx, models.ChannelSMS))
	require.NoError(t, r.Pace(ctx, models.ChannelSMS))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// unpaced channels never wait
	start = time.Now()
	require.NoError(t, r.Pace(ctx, models.ChannelPush))
	assert.Less(t, time.Since(start), 30*time.Millisecond)
}
