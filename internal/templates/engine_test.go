package templates

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupEngine(t *testing.T) (*Engine, *store.TemplateStore) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	ts := store.NewTemplateStore(rdb)
	return NewEngine(ts, zap.NewNop()), ts
}

func createGreeting(t *testing.T, e *Engine) {
	_, err := e.Create(context.Background(), models.CreateTemplateRequest{
		Code:     "greeting",
		Name:     "Greeting",
		Channel:  models.ChannelEmail,
		Category: models.CategoryCustom,
		Subject:  "Hello {{name}}",
		Body:     "Hi {{name}}, {{name}}!",
		Variables: []models.TemplateVariable{
			{Name: "name", Required: true},
		},
	})
	require.NoError(t, err)
}

func TestRender_ReplacesEveryOccurrence(t *testing.T) {
	e, _ := setupEngine(t)
	createGreeting(t, e)

	tpl, out, err := e.Render(context.Background(), "greeting", map[string]any{"name": "Bo"})
	require.NoError(t, err)
	assert.Equal(t, "greeting", tpl.Code)
	assert.Equal(t, "Hi Bo, Bo!", out.Body)
	assert.Equal(t, "Hello Bo", out.Subject)
}

func TestRender_MissingRequiredVariables(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)
	require.NoError(t, e.Seed(ctx))

	_, _, err := e.Render(ctx, CodePoaStatusChanged, map[string]any{"name": "Ada", "status": "approved"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"poaType"}, verr.Missing)
}

func TestRender_DefaultsAndUnknownPlaceholders(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)
	_, err := e.Create(ctx, models.CreateTemplateRequest{
		Code:     "receipt",
		Channel:  models.ChannelSMS,
		Category: models.CategoryPayment,
		Body:     "Paid {{ amount }} {{currency}} {{unknown}}",
		Variables: []models.TemplateVariable{
			{Name: "amount", Required: true},
			{Name: "currency", DefaultValue: "USD"},
		},
	})
	require.NoError(t, err)

	_, out, err := e.Render(ctx, "receipt", map[string]any{"amount": 12.5})
	require.NoError(t, err)
	assert.Equal(t, "Paid 12.5 USD {{unknown}}", out.Body)
}

func TestRender_RecordsUsage(t *testing.T) {
	ctx := context.Background()
	e, ts := setupEngine(t)
	createGreeting(t, e)

	for i := 0; i < 2; i++ {
		_, _, err := e.Render(ctx, "greeting", map[string]any{"name": "Bo"})
		require.NoError(t, err)
	}
	tpl, err := ts.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tpl.UsageCount)
	assert.NotNil(t, tpl.LastUsedAt)
}

func TestRender_InactiveAndUnknownTemplates(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)
	createGreeting(t, e)

	off := false
	_, err := e.Update(ctx, "greeting", models.UpdateTemplateRequest{IsActive: &off})
	require.NoError(t, err)

	_, _, err = e.Render(ctx, "greeting", map[string]any{"name": "Bo"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, _, err = e.Render(ctx, "nope", nil)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSystemTemplates_AreReadOnly(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)
	require.NoError(t, e.Seed(ctx))
	// seeding twice is harmless
	require.NoError(t, e.Seed(ctx))

	body := "changed"
	_, err := e.Update(ctx, CodeSecurityAlert, models.UpdateTemplateRequest{Body: &body})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.True(t, errors.Is(e.Delete(ctx, CodeSecurityAlert), apperr.ErrForbidden))

	clone, err := e.Clone(ctx, CodeSecurityAlert, "security_alert_custom", "")
	require.NoError(t, err)
	assert.False(t, clone.IsSystem)
	assert.Equal(t, int64(0), clone.UsageCount)

	updated, err := e.Update(ctx, "security_alert_custom", models.UpdateTemplateRequest{Body: &body})
	require.NoError(t, err)
	assert.Equal(t, "changed", updated.Body)
	require.NoError(t, e.Delete(ctx, "security_alert_custom"))
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)
	createGreeting(t, e)

	_, err := e.Create(ctx, models.CreateTemplateRequest{
		Code: "greeting", Channel: models.ChannelEmail, Category: models.CategoryCustom, Body: "x",
	})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = e.Create(ctx, models.CreateTemplateRequest{
		Code: "bad", Channel: "pigeon", Category: models.CategoryCustom, Body: "x",
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = e.Create(ctx, models.CreateTemplateRequest{
		Code: "dup", Channel: models.ChannelEmail, Category: models.CategoryCustom, Body: "x",
		Variables: []models.TemplateVariable{{Name: "a"}, {Name: "a"}},
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"name", "city"}, Placeholders("{{name}} in {{ city }}, {{name}}"))
}
