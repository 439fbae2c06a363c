package handlers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/internal/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferences(t *testing.T) {
	ts := setupServer(t)
	auth := token(t, "u1", "user")

	w, resp := ts.do(t, http.MethodGet, "/api/v1/preferences", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp.Data.(map[string]any)["whatsapp_enabled"])

	w, resp = ts.do(t, http.MethodPut, "/api/v1/preferences", auth, map[string]any{
		"whatsapp_enabled":  true,
		"quiet_hours_start": "23:00",
	})
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["whatsapp_enabled"])
	assert.Equal(t, "23:00", data["quiet_hours_start"])

	w, _ = ts.do(t, http.MethodPut, "/api/v1/preferences", auth, map[string]any{"quiet_hours_end": "25:99"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = ts.do(t, http.MethodPut, "/api/v1/preferences/categories/marketing/channels/sms", auth, map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	cats := resp.Data.(map[string]any)["category_preferences"].(map[string]any)
	assert.Equal(t, false, cats["marketing"].(map[string]any)["sms"])

	w, _ = ts.do(t, http.MethodPut, "/api/v1/preferences/categories/marketing/channels/fax", auth, map[string]any{"enabled": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = ts.do(t, http.MethodGet, "/api/v1/preferences/channels?category=marketing", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"email", "whatsapp", "push", "in_app"}, resp.Data.(map[string]any)["channels"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/preferences/channels?category=gossip", auth, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = ts.do(t, http.MethodPost, "/api/v1/preferences/reset", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp.Data.(map[string]any)["whatsapp_enabled"])
}

func TestTemplates(t *testing.T) {
	ts := setupServer(t)
	admin := token(t, "ops", RoleAdmin)

	w, resp := ts.do(t, http.MethodGet, "/api/v1/templates", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data, len(templates.SystemTemplates()))

	w, _ = ts.do(t, http.MethodPut, "/api/v1/templates/welcome", admin, map[string]any{"body": "changed"})
	assert.Equal(t, http.StatusForbidden, w.Code, "system templates are read-only")

	w, resp = ts.do(t, http.MethodPost, "/api/v1/templates/welcome/clone", admin, models.CloneTemplateRequest{Code: "welcome_fr", Name: "Bienvenue"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, false, resp.Data.(map[string]any)["is_system"])

	w, _ = ts.do(t, http.MethodPut, "/api/v1/templates/welcome_fr", admin, map[string]any{"body": "Bienvenue, {{name}} !"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = ts.do(t, http.MethodPost, "/api/v1/templates/welcome_fr/preview", admin, map[string]any{"variables": map[string]any{"name": "Zoé"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bienvenue, Zoé !", resp.Data.(map[string]any)["body"])
	assert.Nil(t, resp.Data.(map[string]any)["unresolved"])

	w, _ = ts.do(t, http.MethodPut, "/api/v1/templates/welcome_fr", admin, map[string]any{"body": "Bienvenue, {{name}} de {{city}} !"})
	require.Equal(t, http.StatusOK, w.Code)
	w, resp = ts.do(t, http.MethodPost, "/api/v1/templates/welcome_fr/preview", admin, map[string]any{"variables": map[string]any{"name": "Zoé"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bienvenue, Zoé de {{city}} !", resp.Data.(map[string]any)["body"])
	assert.Equal(t, []any{"city"}, resp.Data.(map[string]any)["unresolved"])

	w, _ = ts.do(t, http.MethodPost, "/api/v1/templates", admin, models.CreateTemplateRequest{
		Code: "welcome_fr", Channel: models.ChannelInApp, Category: models.CategorySystem, Body: "dup",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = ts.do(t, http.MethodDelete, "/api/v1/templates/welcome_fr", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.do(t, http.MethodGet, "/api/v1/templates/welcome_fr", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/api/v1/templates", token(t, "u1", "user"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthCheck(t *testing.T) {
	ts := setupServer(t)
	ts.users.On("GetUser", "health-check").Return(nil, apperr.NotFound("user", "health-check"))

	w, _ := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"rabbitmq":"disabled"`)

	ts.pingErr = errors.New("connection refused")
	w, _ = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupServer(t)
	ts.do(t, http.MethodGet, "/alive", "", nil)

	w, _ := ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "notifyhub_http_requests_total")
}
