package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/pkg/circuitbreaker"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// UserServiceClient reads accounts from the user service. In mock mode every
// id resolves to an active user with a synthetic address.
type UserServiceClient struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	mockMode   bool
	logger     *zap.Logger
}

func NewUserServiceClient(baseURL string, mockMode bool, logger *zap.Logger, listeners ...circuitbreaker.StateListener) *UserServiceClient {
	logger = logger.Named("user-service")
	return &UserServiceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		cb:       circuitbreaker.New("user-service", logger, listeners...),
		mockMode: mockMode,
		logger:   logger,
	}
}

type userEnvelope struct {
	Success bool         `json:"success"`
	Data    *models.User `json:"data"`
	Error   string       `json:"error"`
}

type usersEnvelope struct {
	Success bool          `json:"success"`
	Data    []models.User `json:"data"`
	Error   string        `json:"error"`
}

func (u *UserServiceClient) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if u.mockMode {
		u.logger.Debug("mock mode: simulating user lookup", zap.String("user_id", userID))
		return &models.User{ID: userID, Email: userID + "@example.com", Active: true}, nil
	}

	result, err := u.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/users/%s", u.baseURL, url.PathEscape(userID)), nil)
		if err != nil {
			return nil, err
		}
		resp, err := u.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		// a missing user is an answer, not an outage
		if resp.StatusCode == http.StatusNotFound {
			return (*models.User)(nil), nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("user service returned %d", resp.StatusCode)
		}
		var env userEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		return env.Data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("user lookup %s: %w", userID, err)
	}
	user, _ := result.(*models.User)
	if user == nil {
		return nil, apperr.NotFound("user", userID)
	}
	return user, nil
}

// ListActiveUsers returns every active account for broadcasts.
func (u *UserServiceClient) ListActiveUsers(ctx context.Context) ([]models.User, error) {
	if u.mockMode {
		u.logger.Debug("mock mode: no users to broadcast to")
		return nil, nil
	}

	result, err := u.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"/users?active=true", nil)
		if err != nil {
			return nil, err
		}
		resp, err := u.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("user service returned %d", resp.StatusCode)
		}
		var env usersEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, fmt.Errorf("failed to decode users: %w", err)
		}
		return env.Data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	users, _ := result.([]models.User)
	active := users[:0]
	for _, usr := range users {
		if usr.Active {
			active = append(active, usr)
		}
	}
	return active, nil
}
