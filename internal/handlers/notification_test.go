package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/metrics"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/internal/preferences"
	"github.com/franzego/notifyhub/internal/store"
	"github.com/franzego/notifyhub/internal/templates"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "handler-secret"

type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) notification(args mock.Arguments) (*models.Notification, error) {
	if n := args.Get(0); n != nil {
		return n.(*models.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockNotificationService) Send(ctx context.Context, req models.SendRequest) (*models.Notification, error) {
	return m.notification(m.Called(req))
}

func (m *MockNotificationService) SendFromTemplate(ctx context.Context, req models.SendTemplateRequest) (*models.Notification, error) {
	return m.notification(m.Called(req))
}

func (m *MockNotificationService) SendBatch(ctx context.Context, userIDs []string, msg models.SendRequest) []*models.Notification {
	args := m.Called(userIDs, msg)
	return args.Get(0).([]*models.Notification)
}

func (m *MockNotificationService) Broadcast(ctx context.Context, msg models.SendRequest) ([]*models.Notification, error) {
	args := m.Called(msg)
	return args.Get(0).([]*models.Notification), args.Error(1)
}

func (m *MockNotificationService) Get(ctx context.Context, id string) (*models.Notification, error) {
	return m.notification(m.Called(id))
}

func (m *MockNotificationService) GetForUser(ctx context.Context, id, userID string) (*models.Notification, error) {
	return m.notification(m.Called(id, userID))
}

func (m *MockNotificationService) Query(ctx context.Context, filter models.NotificationFilter, page models.PageRequest) (models.Page[*models.Notification], error) {
	args := m.Called(filter, page)
	return args.Get(0).(models.Page[*models.Notification]), args.Error(1)
}

func (m *MockNotificationService) MarkAsRead(ctx context.Context, id, userID string) (*models.Notification, error) {
	return m.notification(m.Called(id, userID))
}

func (m *MockNotificationService) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	args := m.Called(userID)
	return args.Int(0), args.Error(1)
}

func (m *MockNotificationService) UnreadCount(ctx context.Context, userID string, channel models.Channel) (int, error) {
	args := m.Called(userID, channel)
	return args.Int(0), args.Error(1)
}

func (m *MockNotificationService) Retry(ctx context.Context, id string) (*models.Notification, error) {
	return m.notification(m.Called(id))
}

func (m *MockNotificationService) Cancel(ctx context.Context, id string) (*models.Notification, error) {
	return m.notification(m.Called(id))
}

func (m *MockNotificationService) ApplyReceipt(ctx context.Context, id string, receipt models.DeliveryReceipt) (*models.Notification, error) {
	return m.notification(m.Called(id, receipt))
}

func (m *MockNotificationService) GetStats(ctx context.Context, filter models.NotificationFilter) (models.NotificationStats, error) {
	args := m.Called(filter)
	return args.Get(0).(models.NotificationStats), args.Error(1)
}

type MockQueueAdmin struct {
	mock.Mock
}

func (m *MockQueueAdmin) GetQueueStats(ctx context.Context) (models.QueueStats, error) {
	args := m.Called()
	return args.Get(0).(models.QueueStats), args.Error(1)
}

func (m *MockQueueAdmin) CleanOldJobs(ctx context.Context, days int) (int64, error) {
	args := m.Called(days)
	return args.Get(0).(int64), args.Error(1)
}

type MockUserLookup struct {
	mock.Mock
}

func (m *MockUserLookup) GetUser(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(userID)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

type staticChannels map[models.Channel]bool

func (s staticChannels) Availability() map[models.Channel]bool { return s }

type testServer struct {
	router  *gin.Engine
	service *MockNotificationService
	queue   *MockQueueAdmin
	users   *MockUserLookup
	pingErr error
}

func setupServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	engine := templates.NewEngine(store.NewTemplateStore(rdb), zap.NewNop())
	require.NoError(t, engine.Seed(context.Background()))
	prefs := preferences.NewService(store.NewPreferenceStore(rdb), zap.NewNop())

	ts := &testServer{
		service: new(MockNotificationService),
		queue:   new(MockQueueAdmin),
		users:   new(MockUserLookup),
	}
	chans := staticChannels{models.ChannelEmail: true, models.ChannelSMS: false}
	ping := RedisPingFunc(func(ctx context.Context) error { return ts.pingErr })
	logger := zap.NewNop()

	ts.router = NewRouter(RouterDeps{
		Notifications: NewNotificationHandler(ts.service, logger),
		Admin:         NewAdminHandler(ts.service, ts.queue, chans, logger),
		Preferences:   NewPreferenceHandler(prefs, logger),
		Templates:     NewTemplateHandler(engine, logger),
		Health:        NewHealthHandler(ping, nil, ts.users, chans, "test"),
		Metrics:       metrics.New(),
		JWTSecret:     testSecret,
		Logger:        logger,
	})
	return ts
}

func token(t *testing.T, userID, role string) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func (ts *testServer) do(t *testing.T, method, path, auth string, body any) (*httptest.ResponseRecorder, models.APIResponse) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var resp models.APIResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func queued(id, userID string) *models.Notification {
	return &models.Notification{
		ID:        id,
		UserID:    userID,
		Channel:   models.ChannelEmail,
		Status:    models.StatusQueued,
		Recipient: "secret@example.com",
		ProviderMetadata: map[string]any{
			"messageId": "m-1",
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestSend_Success(t *testing.T) {
	ts := setupServer(t)
	ts.service.On("Send", mock.MatchedBy(func(req models.SendRequest) bool {
		return req.UserID == "user123" && req.Channel == models.ChannelEmail
	})).Return(queued("n1", "user123"), nil)

	w, resp := ts.do(t, http.MethodPost, "/api/v1/notifications", token(t, "billing-svc", RoleService), models.SendRequest{
		UserID:  "user123",
		Channel: models.ChannelEmail,
		Body:    "Your invoice is ready",
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "Notification accepted", resp.Message)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "n1", data["id"])
	assert.Equal(t, "queued", data["status"])
	ts.service.AssertExpectations(t)
}

func TestSend_RequiresServiceRole(t *testing.T) {
	ts := setupServer(t)
	w, _ := ts.do(t, http.MethodPost, "/api/v1/notifications", token(t, "user123", "user"), models.SendRequest{
		UserID: "user123", Channel: models.ChannelEmail, Body: "x",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/notifications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	ts.service.AssertNotCalled(t, "Send", mock.Anything)
}

func TestSend_InvalidBody(t *testing.T) {
	ts := setupServer(t)
	w, resp := ts.do(t, http.MethodPost, "/api/v1/notifications", token(t, "svc", RoleService), map[string]any{"body": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
}

func TestSendFromTemplate_MissingVariables(t *testing.T) {
	ts := setupServer(t)
	ts.service.On("SendFromTemplate", mock.Anything).Return(nil, apperr.MissingVariables([]string{"poaType"}))

	w, resp := ts.do(t, http.MethodPost, "/api/v1/notifications/template", token(t, "svc", RoleService), models.SendTemplateRequest{
		UserID:       "u1",
		TemplateCode: "poa_status_changed",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error, "poaType")
	assert.Equal(t, []any{"poaType"}, resp.Data.(map[string]any)["missing"])
}

func TestSendBatch(t *testing.T) {
	ts := setupServer(t)
	ts.service.On("SendBatch", []string{"u1", "u2"}, mock.Anything).Return([]*models.Notification{queued("n1", "u1")})

	w, resp := ts.do(t, http.MethodPost, "/api/v1/notifications/batch", token(t, "ops", RoleAdmin), models.BatchSendRequest{
		UserIDs: []string{"u1", "u2"},
		Message: models.SendRequest{Channel: models.ChannelEmail, Body: "x"},
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), data["requested"])
	assert.Equal(t, float64(1), data["created"])
}

func TestGet_HidesInternalFieldsAndChecksOwner(t *testing.T) {
	ts := setupServer(t)
	ts.service.On("GetForUser", "n1", "u1").Return(queued("n1", "u1"), nil)
	ts.service.On("GetForUser", "n1", "u2").Return(nil, apperr.Forbidden("notification n1 belongs to another user"))

	w, _ := ts.do(t, http.MethodGet, "/api/v1/notifications/n1", token(t, "u1", "user"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret@example.com")
	assert.NotContains(t, w.Body.String(), "messageId")

	w, _ = ts.do(t, http.MethodGet, "/api/v1/notifications/n1", token(t, "u2", "user"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestList_ScopedToCaller(t *testing.T) {
	ts := setupServer(t)
	ts.service.On("Query", mock.MatchedBy(func(f models.NotificationFilter) bool {
		return f.UserID == "u1" && f.Channel == models.ChannelEmail
	}), mock.MatchedBy(func(p models.PageRequest) bool {
		return p.Page == 2 && p.Limit == 5
	})).Return(models.Page[*models.Notification]{
		Items: []*models.Notification{queued("n1", "u1")},
		Total: 6, Page: 2, Limit: 5, TotalPages: 2,
	}, nil)

	// user_id in the query is ignored for end users
	w, resp := ts.do(t, http.MethodGet, "/api/v1/notifications?channel=email&page=2&limit=5&user_id=u9", token(t, "u1", "user"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(6), data["total"])
	assert.Len(t, data["items"], 1)
}

func TestReadEndpoints(t *testing.T) {
	ts := setupServer(t)
	read := queued("n1", "u1")
	now := time.Now()
	read.ReadAt = &now
	ts.service.On("MarkAsRead", "n1", "u1").Return(read, nil)
	ts.service.On("MarkAllAsRead", "u1").Return(3, nil)
	ts.service.On("UnreadCount", "u1", models.ChannelInApp).Return(4, nil)
	auth := token(t, "u1", "user")

	w, _ := ts.do(t, http.MethodPatch, "/api/v1/notifications/n1/read", auth, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := ts.do(t, http.MethodPatch, "/api/v1/notifications/read-all", auth, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), resp.Data.(map[string]any)["updated"])

	w, resp = ts.do(t, http.MethodGet, "/api/v1/notifications/unread-count?channel=in_app", auth, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), resp.Data.(map[string]any)["count"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/notifications/unread-count?channel=fax", auth, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_RetryCancelAndQueue(t *testing.T) {
	ts := setupServer(t)
	admin := token(t, "ops", RoleAdmin)
	ts.service.On("Retry", "n1").Return(nil, apperr.InvalidState("notification n1 cannot be retried"))
	ts.service.On("Cancel", "n2").Return(&models.Notification{ID: "n2", Status: models.StatusCancelled}, nil)
	ts.queue.On("GetQueueStats").Return(models.QueueStats{Waiting: 2, Failed: 1}, nil)
	ts.queue.On("CleanOldJobs", -1).Return(int64(0), apperr.Validation("days must not be negative"))
	ts.queue.On("CleanOldJobs", 7).Return(int64(12), nil)

	w, _ := ts.do(t, http.MethodPost, "/api/v1/admin/notifications/n1/retry", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp := ts.do(t, http.MethodPost, "/api/v1/admin/notifications/n2/cancel", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", resp.Data.(map[string]any)["status"])

	w, resp = ts.do(t, http.MethodGet, "/api/v1/admin/queue/stats", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), resp.Data.(map[string]any)["waiting"])

	w, _ = ts.do(t, http.MethodPost, "/api/v1/admin/queue/clean?days=-1", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = ts.do(t, http.MethodPost, "/api/v1/admin/queue/clean", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(12), resp.Data.(map[string]any)["removed"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/admin/queue/stats", token(t, "u1", "user"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReceipt(t *testing.T) {
	ts := setupServer(t)
	ts.service.On("ApplyReceipt", "n1", mock.MatchedBy(func(r models.DeliveryReceipt) bool {
		return r.Status == models.StatusDelivered
	})).Return(&models.Notification{ID: "n1", Status: models.StatusDelivered}, nil)

	w, _ := ts.do(t, http.MethodPost, "/api/v1/receipts/n1", token(t, "gateway", RoleService), models.DeliveryReceipt{Status: models.StatusDelivered})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInternalErrorsAreHidden(t *testing.T) {
	ts := setupServer(t)
	ts.service.On("GetStats", mock.Anything).Return(models.NotificationStats{}, errors.New("redis: connection pool timeout"))

	w, resp := ts.do(t, http.MethodGet, "/api/v1/admin/stats", token(t, "ops", RoleAdmin), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", resp.Error)
}
